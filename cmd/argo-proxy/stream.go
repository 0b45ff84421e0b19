package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	argoproxy "github.com/argonne-lcf/argoproxy"
	"github.com/argonne-lcf/argoproxy/argo"
	"github.com/argonne-lcf/argoproxy/internal/logging"
	"github.com/argonne-lcf/argoproxy/internal/metrics"
	"github.com/argonne-lcf/argoproxy/internal/sse"
	"github.com/argonne-lcf/argoproxy/openai"
)

// Fake streaming re-emits a buffered reply in fixed windows with a small
// delay so clients observe the same cadence a live stream would have.
const (
	fakeStreamWindow = 20
	fakeStreamDelay  = 20 * time.Millisecond
)

// chunkText splits text into windows of at most n runes each.
func chunkText(text string, n int) []string {
	if text == "" || n <= 0 {
		return nil
	}
	runes := []rune(text)
	out := make([]string, 0, (len(runes)+n-1)/n)
	for start := 0; start < len(runes); start += n {
		end := start + n
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// chatChunk builds one streaming frame in the envelope family of the call.
func chatChunk(call *chatCall, delta string, finish *string) any {
	if call.kind == completionsEndpoint {
		return openai.NewCompletionChunk(delta, call.payload.Model, call.created, finish)
	}
	return openai.NewChatChunk(delta, call.payload.Model, call.created, finish)
}

// parseToolReply reports the function call embedded in a reply text, when
// tool translation applies to this call.
func (p *proxy) parseToolReply(call *chatCall, text string) (name, args string, ok bool) {
	if call.kind != chatEndpoint || !p.cfg.TranslateTools {
		return "", "", false
	}
	name, args, ok = openai.ParseFunctionCall(text)
	if !ok || !openai.ValidateToolArgs(call.tools, name, args) {
		return "", "", false
	}
	return name, args, true
}

// streamChatLike relays a live upstream stream as OpenAI chunks. Ongoing
// chunks carry no finish_reason; the stream closes with the [DONE] sentinel.
func (p *proxy) streamChatLike(ctx context.Context, w http.ResponseWriter, r *http.Request, call *chatCall) {
	stream, err := p.client.PostStream(ctx, p.cfg.ArgoStreamURL, call.payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer stream.Close()

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	argo.PropagateHeaders(w.Header(), stream.Header)
	out := sse.NewWriter(w)
	w.WriteHeader(stream.Status)
	log := logging.FromContext(r.Context())

	var text []byte
	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			logStreamFailure(log, err)
			return
		}
		text = append(text, chunk...)
		if err := out.Send(chatChunk(call, string(chunk), nil)); err != nil {
			log.Debug("client gone mid-stream", "error", err)
			return
		}
	}

	p.finishChatStream(out, call, string(text), log)
}

// fakeStreamChatLike buffers a non-streaming reply and re-emits it as
// windowed chunks. The last window carries finish_reason "stop" unless a
// tool-call chunk follows it.
func (p *proxy) fakeStreamChatLike(ctx context.Context, w http.ResponseWriter, r *http.Request, call *chatCall) {
	reply, err := p.client.PostJSON(ctx, p.cfg.ArgoURL, call.payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	chat, err := argo.ParseChatReply(reply.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	argo.PropagateHeaders(w.Header(), reply.Header)
	out := sse.NewWriter(w)
	w.WriteHeader(reply.Status)
	log := logging.FromContext(r.Context())

	_, _, isToolCall := p.parseToolReply(call, chat.Response)
	windows := chunkText(chat.Response, fakeStreamWindow)
	for i, window := range windows {
		var finish *string
		if i == len(windows)-1 && !isToolCall {
			finish = openai.String(openai.FinishReasonStop)
		}
		if err := out.Send(chatChunk(call, window, finish)); err != nil {
			log.Debug("client gone mid-stream", "error", err)
			return
		}
		if i < len(windows)-1 && !sleepWindow(ctx) {
			return
		}
	}

	p.finishChatStream(out, call, chat.Response, log)
}

// finishChatStream appends the tool-call chunk when the accumulated reply
// parses as a function call, counts completion tokens, and terminates the
// stream with [DONE].
func (p *proxy) finishChatStream(out *sse.Writer, call *chatCall, text string, log *slog.Logger) {
	p.countCompletion(text, call.payload.Model)
	if name, args, ok := p.parseToolReply(call, text); ok {
		if err := out.Send(openai.ToolCallChunk(name, args, call.payload.Model, call.created)); err != nil {
			log.Debug("client gone mid-stream", "error", err)
			return
		}
	}
	if err := out.SendDone(); err != nil {
		log.Debug("client gone mid-stream", "error", err)
	}
}

// streamResponses relays a live upstream stream through the responses
// event sequence.
func (p *proxy) streamResponses(ctx context.Context, w http.ResponseWriter, r *http.Request, payload *argo.Payload, promptTokens int, createdAt int64) {
	stream, err := p.client.PostStream(ctx, p.cfg.ArgoStreamURL, payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer stream.Close()

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	argo.PropagateHeaders(w.Header(), stream.Header)
	out := sse.NewWriter(w)
	w.WriteHeader(stream.Status)
	log := logging.FromContext(r.Context())

	rs := openai.NewResponseStream(payload.Model, createdAt)
	if err := sendEvents(out, rs.Created(), rs.InProgress(), rs.OutputItemAdded(), rs.ContentPartAdded()); err != nil {
		log.Debug("client gone mid-stream", "error", err)
		return
	}

	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			logStreamFailure(log, err)
			return
		}
		if err := out.Send(rs.Delta(string(chunk))); err != nil {
			log.Debug("client gone mid-stream", "error", err)
			return
		}
	}

	p.finishResponses(out, rs, promptTokens, payload.Model, log)
}

// fakeStreamResponses buffers a non-streaming reply and walks it through
// the responses event sequence in windowed deltas.
func (p *proxy) fakeStreamResponses(ctx context.Context, w http.ResponseWriter, r *http.Request, payload *argo.Payload, promptTokens int, createdAt int64) {
	reply, err := p.client.PostJSON(ctx, p.cfg.ArgoURL, payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	chat, err := argo.ParseChatReply(reply.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	argo.PropagateHeaders(w.Header(), reply.Header)
	out := sse.NewWriter(w)
	w.WriteHeader(reply.Status)
	log := logging.FromContext(r.Context())

	rs := openai.NewResponseStream(payload.Model, createdAt)
	if err := sendEvents(out, rs.Created(), rs.InProgress(), rs.OutputItemAdded(), rs.ContentPartAdded()); err != nil {
		log.Debug("client gone mid-stream", "error", err)
		return
	}

	windows := chunkText(chat.Response, fakeStreamWindow)
	for i, window := range windows {
		if err := out.Send(rs.Delta(window)); err != nil {
			log.Debug("client gone mid-stream", "error", err)
			return
		}
		if i < len(windows)-1 && !sleepWindow(ctx) {
			return
		}
	}

	p.finishResponses(out, rs, promptTokens, payload.Model, log)
}

// finishResponses closes the event ladder: text done, part done, item done,
// then the completed snapshot carrying usage.
func (p *proxy) finishResponses(out *sse.Writer, rs *openai.ResponseStream, promptTokens int, model string, log *slog.Logger) {
	completionTokens := p.countCompletion(rs.Text(), model)
	usage := openai.ResponseUsage{
		InputTokens:  promptTokens,
		OutputTokens: completionTokens,
		TotalTokens:  promptTokens + completionTokens,
	}
	if err := sendEvents(out, rs.TextDone(), rs.ContentPartDone(), rs.OutputItemDone(), rs.Completed(usage)); err != nil {
		log.Debug("client gone mid-stream", "error", err)
	}
}

// relayStream copies raw upstream stream bytes to the client untranslated.
func (p *proxy) relayStream(ctx context.Context, w http.ResponseWriter, r *http.Request, pt *argoproxy.PassthroughRequest) {
	stream, err := p.client.PostStream(ctx, p.cfg.ArgoStreamURL, json.RawMessage(pt.Body))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer stream.Close()

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	argo.PropagateHeaders(w.Header(), stream.Header)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(stream.Status)
	flusher, _ := w.(http.Flusher)
	log := logging.FromContext(r.Context())

	for {
		chunk, err := stream.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			logStreamFailure(log, err)
			return
		}
		if _, err := w.Write(chunk); err != nil {
			log.Debug("client gone mid-stream", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// relayFakeStream buffers the non-streaming upstream reply and re-emits its
// response text as raw windows, untranslated.
func (p *proxy) relayFakeStream(ctx context.Context, w http.ResponseWriter, r *http.Request, pt *argoproxy.PassthroughRequest) {
	reply, err := p.client.PostJSON(ctx, p.cfg.ArgoURL, json.RawMessage(pt.Body))
	if err != nil {
		writeError(w, r, err)
		return
	}
	chat, err := argo.ParseChatReply(reply.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	argo.PropagateHeaders(w.Header(), reply.Header)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(reply.Status)
	flusher, _ := w.(http.Flusher)
	log := logging.FromContext(r.Context())

	windows := chunkText(chat.Response, fakeStreamWindow)
	for i, window := range windows {
		if _, err := io.WriteString(w, window); err != nil {
			log.Debug("client gone mid-stream", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if i < len(windows)-1 && !sleepWindow(ctx) {
			return
		}
	}
}

func sendEvents(out *sse.Writer, events ...openai.ResponseEvent) error {
	for _, ev := range events {
		if err := out.Send(ev); err != nil {
			return err
		}
	}
	return nil
}

// sleepWindow waits the inter-window delay, reporting false when the
// request context ends first.
func sleepWindow(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(fakeStreamDelay):
		return true
	}
}

// logStreamFailure records an upstream failure that surfaced after the
// response headers were committed. Emission simply stops; the client
// detects truncation by the missing terminator.
func logStreamFailure(log *slog.Logger, err error) {
	if errors.Is(err, context.Canceled) {
		log.Debug("stream canceled", "error", err)
		return
	}
	metrics.UpstreamErrors.WithLabelValues("stream").Inc()
	log.Error("upstream stream failed", "error", err)
}
