package argoproxy

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/argonne-lcf/argoproxy/models"
	"github.com/argonne-lcf/argoproxy/openai"
)

func testConfig() *Config {
	cfg := NewConfig()
	cfg.User = "proxy-user"
	return cfg
}

func decodeRequest(t *testing.T, body string) *Request {
	t.Helper()
	var req Request
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return &req
}

func TestShapeChat_Basics(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "argo:gpt-4o",
		"messages": [{"role": "user", "content": "hi"}],
		"user": "client-user",
		"seed": 7
	}`)
	p, err := ShapeChat(req, testConfig(), models.New())
	if err != nil {
		t.Fatalf("shape: %v", err)
	}

	if p.Model != "gpt4o" {
		t.Errorf("model = %q, want resolved id", p.Model)
	}
	if p.User != "proxy-user" {
		t.Errorf("user = %q, configured user must replace the client's", p.User)
	}
	if p.Stream != nil {
		t.Errorf("stream = %v, want unset when client did not ask", p.Stream)
	}
	if len(p.Messages) != 1 || p.Messages[0].Content != "hi" {
		t.Errorf("messages = %+v", p.Messages)
	}
	if string(p.Extra["seed"]) != "7" {
		t.Errorf("extras lost: %v", p.Extra)
	}
}

func TestShapeChat_DefaultModel(t *testing.T) {
	req := decodeRequest(t, `{"prompt": "hello"}`)
	p, err := ShapeChat(req, testConfig(), models.New())
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if p.Model != "gpt4o" {
		t.Errorf("model = %q, want chat default", p.Model)
	}
}

func TestShapeChat_UnknownModelPassesThrough(t *testing.T) {
	req := decodeRequest(t, `{"model": "custom-upstream-id", "prompt": "x"}`)
	p, err := ShapeChat(req, testConfig(), models.New())
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if p.Model != "custom-upstream-id" {
		t.Errorf("model = %q, unknown names must pass through", p.Model)
	}
}

func TestShapeChat_PromptJoin(t *testing.T) {
	req := decodeRequest(t, `{"model": "argo:gpt-4", "prompt": ["one", "two"]}`)
	p, err := ShapeChat(req, testConfig(), models.New())
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if len(p.Prompt) != 1 || p.Prompt[0] != "one\n\ntwo" {
		t.Errorf("prompt = %v, want single joined entry", p.Prompt)
	}
}

func TestShapeChat_PromptDedupe(t *testing.T) {
	req := decodeRequest(t, `{"model": "argo:gpt-4", "prompt": ["same", "same", "other"]}`)
	p, err := ShapeChat(req, testConfig(), models.New())
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if len(p.Prompt) != 1 || p.Prompt[0] != "same\n\nother" {
		t.Errorf("prompt = %v, want deduplicated join", p.Prompt)
	}
}

func TestShapeChat_NoSysMsgDemotion(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "argo:gpt-o1-mini",
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": "hi"}
		]
	}`)
	p, err := ShapeChat(req, testConfig(), models.New())
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if p.Model != "gpto1mini" {
		t.Fatalf("model = %q", p.Model)
	}
	for _, m := range p.Messages {
		if m.Role == openai.RoleSystem {
			t.Errorf("system role must be demoted: %+v", p.Messages)
		}
	}
	if p.Messages[0].Role != openai.RoleUser || p.Messages[0].Content != "be brief" {
		t.Errorf("demoted message = %+v", p.Messages[0])
	}
	if p.Stream == nil || *p.Stream {
		t.Errorf("stream = %v, non-streamable model must force explicit false", p.Stream)
	}
}

func TestShapeChat_NoSysMsgTopLevelSystem(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "argo:gpt-o1-mini",
		"system": "be brief",
		"prompt": ["tell me a joke"]
	}`)
	p, err := ShapeChat(req, testConfig(), models.New())
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if p.System != "" {
		t.Errorf("system = %q, want folded into prompt", p.System)
	}
	if len(p.Prompt) != 1 || p.Prompt[0] != "be brief\n\ntell me a joke" {
		t.Errorf("prompt = %v", p.Prompt)
	}
}

func TestShapeChat_SystemListJoins(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "argo:gpt-4o",
		"system": ["first", "second"],
		"prompt": "hi"
	}`)
	p, err := ShapeChat(req, testConfig(), models.New())
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if p.System != "first\n\nsecond" {
		t.Errorf("system = %q", p.System)
	}
}

func TestShapeChat_ToolPreamble(t *testing.T) {
	cfg := testConfig()
	cfg.TranslateTools = true
	req := decodeRequest(t, `{
		"model": "argo:gpt-4o",
		"messages": [
			{"role": "system", "content": "You answer questions."},
			{"role": "user", "content": "Summarize doc ABC"}
		],
		"tools": [{"type": "function", "function": {"name": "get", "description": "fetch a doc",
			"parameters": {"type": "object", "properties": {"docid": {"type": "string"}}, "required": ["docid"]}}}]
	}`)
	p, err := ShapeChat(req, cfg, models.New())
	if err != nil {
		t.Fatalf("shape: %v", err)
	}

	first := p.Messages[0]
	if first.Role != openai.RoleSystem {
		t.Fatalf("first message role = %q", first.Role)
	}
	if !strings.Contains(first.Content, "FUNCTION_CALL") || !strings.HasSuffix(first.Content, "You answer questions.") {
		t.Errorf("preamble not prepended to system content:\n%s", first.Content)
	}
	if _, ok := p.Extra["tools"]; ok {
		t.Error("tools must not be forwarded upstream")
	}
}

func TestShapeChat_ToolPreambleSynthesizesSystem(t *testing.T) {
	cfg := testConfig()
	cfg.TranslateTools = true
	req := decodeRequest(t, `{
		"model": "argo:gpt-4o",
		"messages": [{"role": "user", "content": "hi"}],
		"tools": [{"type": "function", "function": {"name": "get", "description": "fetch"}}]
	}`)
	p, err := ShapeChat(req, cfg, models.New())
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if len(p.Messages) != 2 || p.Messages[0].Role != openai.RoleSystem {
		t.Fatalf("messages = %+v, want synthesized leading system", p.Messages)
	}
	if !strings.Contains(p.Messages[0].Content, "Available functions:") {
		t.Errorf("preamble missing: %q", p.Messages[0].Content)
	}
}

func TestShapeChat_ToolsIgnoredWhenTranslationOff(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "argo:gpt-4o",
		"messages": [{"role": "user", "content": "hi"}],
		"tools": [{"type": "function", "function": {"name": "get"}}]
	}`)
	p, err := ShapeChat(req, testConfig(), models.New())
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if len(p.Messages) != 1 {
		t.Errorf("messages = %+v, no preamble expected", p.Messages)
	}
}

func TestShapeChat_MultipartContent(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "argo:gpt-4o",
		"messages": [{"role": "user", "content": [{"type": "text", "text": "part one "}, {"type": "text", "text": "part two"}]}]
	}`)
	p, err := ShapeChat(req, testConfig(), models.New())
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if p.Messages[0].Content != "part one part two" {
		t.Errorf("content = %q, want flattened parts", p.Messages[0].Content)
	}
}

func TestShapeEmbeddings(t *testing.T) {
	req := decodeRequest(t, `{"input": ["a", "b"]}`)
	p, err := ShapeEmbeddings(req, testConfig(), models.New())
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if p.Model != "v3small" {
		t.Errorf("model = %q, want embedding default", p.Model)
	}
	if len(p.Prompt) != 2 || p.Prompt[0] != "a" || p.Prompt[1] != "b" {
		t.Errorf("prompt = %v, entries must not be joined", p.Prompt)
	}

	req = decodeRequest(t, `{"model": "argo:text-embedding-3-large", "input": "single"}`)
	p, err = ShapeEmbeddings(req, testConfig(), models.New())
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if p.Model != "v3large" || len(p.Prompt) != 1 || p.Prompt[0] != "single" {
		t.Errorf("got model %q prompt %v", p.Model, p.Prompt)
	}
}

func TestShapeEmbeddings_MissingInput(t *testing.T) {
	req := decodeRequest(t, `{"model": "v3small"}`)
	if _, err := ShapeEmbeddings(req, testConfig(), models.New()); err == nil {
		t.Fatal("expected error for missing input")
	}
}

func TestShapeResponses_StringInput(t *testing.T) {
	req := decodeRequest(t, `{"model": "argo:gpt-4o", "input": "hello"}`)
	p, err := ShapeResponses(req, testConfig(), models.New())
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if len(p.Messages) != 1 || p.Messages[0].Role != openai.RoleUser || p.Messages[0].Content != "hello" {
		t.Errorf("messages = %+v", p.Messages)
	}
}

func TestShapeResponses_Instructions(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "argo:gpt-4o",
		"instructions": "Answer in French.",
		"input": [{"role": "user", "content": "hello"}],
		"max_output_tokens": 77,
		"store": true,
		"tool_choice": "auto",
		"metadata": {"k": "v"}
	}`)
	p, err := ShapeResponses(req, testConfig(), models.New())
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if p.Messages[0].Role != openai.RoleSystem || p.Messages[0].Content != "Answer in French." {
		t.Errorf("instructions not prepended: %+v", p.Messages)
	}
	if p.MaxTokens == nil || *p.MaxTokens != 77 {
		t.Errorf("max_tokens = %v, want mapped from max_output_tokens", p.MaxTokens)
	}
	for _, stripped := range []string{"store", "tool_choice", "metadata"} {
		if _, ok := p.Extra[stripped]; ok {
			t.Errorf("%s must be stripped before forwarding", stripped)
		}
	}
}

func TestShapeResponses_NoSysMsgDemotesInstructions(t *testing.T) {
	req := decodeRequest(t, `{
		"model": "argo:gpt-o1-mini",
		"instructions": "Be terse.",
		"input": "hello"
	}`)
	p, err := ShapeResponses(req, testConfig(), models.New())
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	if p.Messages[0].Role != openai.RoleUser {
		t.Errorf("instructions message role = %q, want demoted user", p.Messages[0].Role)
	}
	if p.Stream == nil || *p.Stream {
		t.Errorf("stream = %v, want forced false", p.Stream)
	}
}

func TestShapeResponses_MissingInput(t *testing.T) {
	req := decodeRequest(t, `{"model": "argo:gpt-4o"}`)
	if _, err := ShapeResponses(req, testConfig(), models.New()); err == nil {
		t.Fatal("expected error for missing input")
	}
}

func TestShape_DoesNotMutateRequestExtras(t *testing.T) {
	req := decodeRequest(t, `{"model": "argo:gpt-4o", "input": "x", "store": true}`)
	if _, err := ShapeResponses(req, testConfig(), models.New()); err != nil {
		t.Fatalf("shape: %v", err)
	}
	if _, ok := req.Extra["store"]; !ok {
		t.Error("shaping must not mutate the decoded request")
	}
}
