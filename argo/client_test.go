package argo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPostJSON(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":"hello there"}`))
	}))
	defer srv.Close()

	client := NewClient()
	payload := &Payload{Model: "gpt4o", User: "alice", Prompt: []string{"hi"}}
	reply, err := client.PostJSON(context.Background(), srv.URL, payload)
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type = %q, want application/json", gotContentType)
	}

	var sent map[string]any
	if err := json.Unmarshal(gotBody, &sent); err != nil {
		t.Fatalf("request body not JSON: %v", err)
	}
	if sent["model"] != "gpt4o" || sent["user"] != "alice" {
		t.Errorf("forwarded body = %s", gotBody)
	}

	chat, err := ParseChatReply(reply.Body)
	if err != nil {
		t.Fatalf("ParseChatReply: %v", err)
	}
	if chat.Response != "hello there" {
		t.Errorf("response = %q, want %q", chat.Response, "hello there")
	}
}

func TestPostJSONStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient().PostJSON(context.Background(), srv.URL, &Payload{Model: "nope"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if statusErr.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", statusErr.Status)
	}
	if statusErr.Body != "model not found" {
		t.Errorf("body = %q, want trimmed upstream text", statusErr.Body)
	}
}

func TestPostJSONUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	_, err := NewClient().PostJSON(context.Background(), srv.URL, &Payload{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
}

func TestPostJSONDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body first: the HTTP/1.1 server only detects the client
		// disconnect (and cancels r.Context) once the request body is consumed.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := NewClient().PostJSON(ctx, srv.URL, &Payload{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable on deadline", err)
	}
}

func TestPostStream(t *testing.T) {
	chunks := []string{"Once ", "upon ", "a time"}
	var gotAccept, gotEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotEncoding = r.Header.Get("Accept-Encoding")
		w.Header().Set("Content-Type", "text/plain")
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			io.WriteString(w, c)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	stream, err := NewClient().PostStream(context.Background(), srv.URL, &Payload{Model: "gpt4o"})
	if err != nil {
		t.Fatalf("PostStream: %v", err)
	}
	defer stream.Close()

	if gotAccept != "text/plain" {
		t.Errorf("Accept = %q, want text/plain", gotAccept)
	}
	if gotEncoding != "identity" {
		t.Errorf("Accept-Encoding = %q, want identity", gotEncoding)
	}

	var collected strings.Builder
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		collected.Write(chunk)
	}
	if got, want := collected.String(), strings.Join(chunks, ""); got != want {
		t.Errorf("collected = %q, want %q", got, want)
	}
}

func TestPostStreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewClient().PostStream(context.Background(), srv.URL, &Payload{})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if statusErr.Status != http.StatusBadRequest || statusErr.Body != "bad payload" {
		t.Errorf("got status %d body %q", statusErr.Status, statusErr.Body)
	}
}

func TestPropagateHeaders(t *testing.T) {
	src := http.Header{
		"Content-Type":      {"application/json"},
		"Content-Length":    {"42"},
		"Transfer-Encoding": {"chunked"},
		"Content-Encoding":  {"gzip"},
		"Connection":        {"keep-alive"},
		"X-Upstream-Id":     {"abc123"},
		"Cache-Control":     {"no-store"},
	}
	dst := http.Header{}
	PropagateHeaders(dst, src)

	for _, blocked := range []string{"Content-Type", "Content-Length", "Transfer-Encoding", "Content-Encoding", "Connection"} {
		if dst.Get(blocked) != "" {
			t.Errorf("%s should not propagate", blocked)
		}
	}
	if dst.Get("X-Upstream-Id") != "abc123" {
		t.Errorf("X-Upstream-Id = %q, want abc123", dst.Get("X-Upstream-Id"))
	}
	if dst.Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", dst.Get("Cache-Control"))
	}
}
