package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	argoproxy "github.com/argonne-lcf/argoproxy"
	"github.com/argonne-lcf/argoproxy/argo"
	"github.com/argonne-lcf/argoproxy/internal/logging"
	"github.com/argonne-lcf/argoproxy/internal/metrics"
	"github.com/argonne-lcf/argoproxy/internal/tokens"
	"github.com/argonne-lcf/argoproxy/models"
	"github.com/argonne-lcf/argoproxy/openai"
)

const errInvalidJSON = "Invalid input. Expected JSON data."

// proxy carries the collaborators every endpoint handler composes: the
// immutable config, the model registry, the upstream transport, and the
// token counter.
type proxy struct {
	cfg     *argoproxy.Config
	reg     *models.Registry
	client  *argo.Client
	counter *tokens.Counter
}

func newProxy(cfg *argoproxy.Config, reg *models.Registry, client *argo.Client, counter *tokens.Counter) *proxy {
	return &proxy{cfg: cfg, reg: reg, client: client, counter: counter}
}

// decodeRequest reads and decodes the body shared by the OpenAI-shaped
// endpoints.
func (p *proxy) decodeRequest(r *http.Request) (*argoproxy.Request, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, badRequest("failed to read request body")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, badRequest(errInvalidJSON)
	}
	var req argoproxy.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, badRequest(err.Error())
	}
	logging.FromContext(r.Context()).Debug("request received",
		"path", r.URL.Path, "body", string(body))
	return &req, nil
}

// requestContext applies the per-request deadline: the body's timeout
// override when present, the configured default otherwise.
func (p *proxy) requestContext(r *http.Request, overrideSeconds int) (context.Context, context.CancelFunc) {
	timeout := p.cfg.RequestTimeout()
	if overrideSeconds > 0 {
		timeout = time.Duration(overrideSeconds) * time.Second
	}
	return context.WithTimeout(r.Context(), timeout)
}

func (p *proxy) countPrompt(payload *argo.Payload) int {
	n := p.counter.Count(payload.PromptText(), payload.Model)
	metrics.TokensTotal.WithLabelValues("prompt", payload.Model).Add(float64(n))
	return n
}

func (p *proxy) countCompletion(text, model string) int {
	n := p.counter.Count(text, model)
	metrics.TokensTotal.WithLabelValues("completion", model).Add(float64(n))
	return n
}

func (p *proxy) debugPayload(r *http.Request, payload *argo.Payload) {
	log := logging.FromContext(r.Context())
	if b, err := json.Marshal(payload); err == nil {
		log.Debug("forwarding payload", "payload", string(b))
	}
}

// endpointKind selects the response envelope family for the two chat-like
// endpoints.
type endpointKind int

const (
	chatEndpoint endpointKind = iota
	completionsEndpoint
)

// chatCall carries one shaped chat-like request through its dispatch path.
type chatCall struct {
	kind         endpointKind
	payload      *argo.Payload
	tools        []openai.Tool
	promptTokens int
	created      int64
}

func (p *proxy) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	p.serveChatLike(w, r, chatEndpoint)
}

func (p *proxy) handleCompletions(w http.ResponseWriter, r *http.Request) {
	p.serveChatLike(w, r, completionsEndpoint)
}

func (p *proxy) serveChatLike(w http.ResponseWriter, r *http.Request, kind endpointKind) {
	req, err := p.decodeRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	shape := argoproxy.ShapeChat
	if kind == completionsEndpoint {
		shape = argoproxy.ShapeCompletions
	}
	payload, err := shape(req, p.cfg, p.reg)
	if err != nil {
		writeError(w, r, badRequest(err.Error()))
		return
	}
	setModelLabel(r.Context(), payload.Model)
	p.debugPayload(r, payload)

	ctx, cancel := p.requestContext(r, req.TimeoutSeconds())
	defer cancel()

	call := &chatCall{
		kind:         kind,
		payload:      payload,
		promptTokens: p.countPrompt(payload),
		created:      time.Now().Unix(),
	}
	if kind == chatEndpoint {
		call.tools = req.Tools
	}

	upstreamStream := payload.Stream != nil && *payload.Stream
	switch {
	case req.WantsStream() && upstreamStream:
		p.streamChatLike(ctx, w, r, call)
	case req.WantsStream():
		p.fakeStreamChatLike(ctx, w, r, call)
	default:
		p.completeChatLike(ctx, w, r, call)
	}
}

// completeChatLike serves the non-streaming path: one upstream POST, one
// translated envelope back.
func (p *proxy) completeChatLike(ctx context.Context, w http.ResponseWriter, r *http.Request, call *chatCall) {
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

	usage := openai.NewUsage(call.promptTokens, p.countCompletion(chat.Response, call.payload.Model))
	argo.PropagateHeaders(w.Header(), reply.Header)

	if call.kind == completionsEndpoint {
		writeJSON(w, reply.Status, openai.NewCompletion(chat.Response, call.payload.Model, call.created, usage))
		return
	}

	completion := openai.NewChatCompletion(chat.Response, call.payload.Model, call.created, usage)
	if p.cfg.TranslateTools {
		openai.TranslateToolCall(&completion, call.tools)
	}
	writeJSON(w, reply.Status, completion)
}

func (p *proxy) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	req, err := p.decodeRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	payload, err := argoproxy.ShapeEmbeddings(req, p.cfg, p.reg)
	if err != nil {
		writeError(w, r, badRequest(err.Error()))
		return
	}
	setModelLabel(r.Context(), payload.Model)
	p.debugPayload(r, payload)

	ctx, cancel := p.requestContext(r, req.TimeoutSeconds())
	defer cancel()

	promptTokens := p.countPrompt(payload)
	reply, err := p.client.PostJSON(ctx, p.cfg.ArgoEmbeddingURL, payload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	embed, err := argo.ParseEmbedReply(reply.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	argo.PropagateHeaders(w.Header(), reply.Header)
	writeJSON(w, reply.Status, openai.NewEmbeddingList(embed.Embedding, payload.Model, promptTokens))
}

func (p *proxy) handleResponses(w http.ResponseWriter, r *http.Request) {
	req, err := p.decodeRequest(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	payload, err := argoproxy.ShapeResponses(req, p.cfg, p.reg)
	if err != nil {
		writeError(w, r, badRequest(err.Error()))
		return
	}
	setModelLabel(r.Context(), payload.Model)
	p.debugPayload(r, payload)

	ctx, cancel := p.requestContext(r, req.TimeoutSeconds())
	defer cancel()

	promptTokens := p.countPrompt(payload)
	createdAt := time.Now().Unix()

	upstreamStream := payload.Stream != nil && *payload.Stream
	switch {
	case req.WantsStream() && upstreamStream:
		p.streamResponses(ctx, w, r, payload, promptTokens, createdAt)
	case req.WantsStream():
		p.fakeStreamResponses(ctx, w, r, payload, promptTokens, createdAt)
	default:
		p.completeResponses(ctx, w, r, payload, promptTokens, createdAt)
	}
}

func (p *proxy) completeResponses(ctx context.Context, w http.ResponseWriter, r *http.Request, payload *argo.Payload, promptTokens int, createdAt int64) {
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

	completionTokens := p.countCompletion(chat.Response, payload.Model)
	usage := openai.ResponseUsage{
		InputTokens:  promptTokens,
		OutputTokens: completionTokens,
		TotalTokens:  promptTokens + completionTokens,
	}
	argo.PropagateHeaders(w.Header(), reply.Header)
	writeJSON(w, reply.Status, openai.NewResponse(chat.Response, payload.Model, createdAt, usage))
}

// handleChatPassthrough relays /v1/chat bodies to the upstream with only
// the user, model, and stream-capability rewrites applied; replies come
// back untranslated.
func (p *proxy) handleChatPassthrough(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, badRequest("failed to read request body"))
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, r, badRequest(errInvalidJSON))
		return
	}

	pt, err := argoproxy.ShapePassthrough(body, p.cfg, p.reg)
	if err != nil {
		writeError(w, r, badRequest(err.Error()))
		return
	}
	setModelLabel(r.Context(), pt.Model)
	logging.FromContext(r.Context()).Debug("forwarding payload", "payload", string(pt.Body))

	ctx, cancel := p.requestContext(r, pt.Timeout)
	defer cancel()

	switch {
	case pt.ClientStream && pt.UpstreamStream:
		p.relayStream(ctx, w, r, pt)
	case pt.ClientStream:
		p.relayFakeStream(ctx, w, r, pt)
	default:
		p.relay(ctx, w, r, pt)
	}
}

func (p *proxy) relay(ctx context.Context, w http.ResponseWriter, r *http.Request, pt *argoproxy.PassthroughRequest) {
	reply, err := p.client.PostJSON(ctx, p.cfg.ArgoURL, json.RawMessage(pt.Body))
	if err != nil {
		writeError(w, r, err)
		return
	}
	argo.PropagateHeaders(w.Header(), reply.Header)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(reply.Status)
	_, _ = w.Write(reply.Body)
}

func (p *proxy) handleModels(w http.ResponseWriter, r *http.Request) {
	now := time.Now().Unix()
	entries := append(p.reg.ListChat(), p.reg.ListEmbed()...)

	list := openai.ModelList{Object: openai.ObjectList, Data: make([]openai.Model, 0, len(entries))}
	for _, e := range entries {
		list.Data = append(list.Data, openai.Model{
			ID:           e.Alias,
			Object:       openai.ObjectModel,
			Created:      now,
			OwnedBy:      "system",
			InternalName: e.UpstreamID,
		})
	}
	writeJSON(w, http.StatusOK, list)
}

// handleStatus sends a fixed probe through the chat pipeline and returns
// its translated reply, proving the upstream round trip works.
func (p *proxy) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload := &argo.Payload{
		Model:  p.reg.Resolve("gpt-4o", models.KindChat),
		User:   "system",
		Prompt: []string{"Say hello"},
	}
	setModelLabel(r.Context(), payload.Model)

	ctx, cancel := p.requestContext(r, 0)
	defer cancel()

	call := &chatCall{
		kind:         chatEndpoint,
		payload:      payload,
		promptTokens: p.countPrompt(payload),
		created:      time.Now().Unix(),
	}
	p.completeChatLike(ctx, w, r, call)
}

// docsMessage points at the hosted documentation.
const docsMessage = "Documentation access: Please visit https://oaklight.github.io/argo-proxy for full documentation.\n"

func handleDocs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, docsMessage)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
