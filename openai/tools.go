package openai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// toolPromptHeader is the instruction block injected ahead of the system
// prompt when tool translation is on. ParseFunctionCall recognises the
// reply format it prescribes.
const toolPromptHeader = `You are a helpful assistant with access to functions. When you want to call a function, use the exact format below in your response to the user:

When an interaction requires a function call, respond IMMEDIATELY and ONLY with:
FUNCTION_CALL: function_name
ARGUMENTS: {"param1": "value1", "param2": "value2"}

NEVER say "I will", "Let me", "I'll retrieve", or any explanatory text.

Example:
    User: "What is the summary of document ABC?"
    Correct response: FUNCTION_CALL: get
ARGUMENTS: {"docid": "ABC"}
    Wrong response: "I will retrieve the content for you."

Just call the function immediately using the exact format above. The ARGUMENTS must be valid JSON. Use double quotes for string.

Otherwise, respond normally with text.

`

// BuildToolPrompt renders the function-calling preamble for the given
// tools: the fixed instruction block followed by one signature line per
// function.
func BuildToolPrompt(tools []Tool) string {
	var b strings.Builder
	b.WriteString(toolPromptHeader)
	b.WriteString("Available functions:")
	for _, t := range tools {
		b.WriteString("\n")
		b.WriteString(functionSignature(t.Function))
	}
	return b.String()
}

// functionSignature renders one "- name(params): description" line from the
// function's JSON Schema. Parameters are listed alphabetically so the
// prompt is stable across requests.
func functionSignature(fn Function) string {
	var schema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	// A schema that does not decode still yields a parameterless signature.
	_ = json.Unmarshal(fn.Parameters, &schema)

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]string, 0, len(names))
	for _, name := range names {
		info := schema.Properties[name]
		paramType := info.Type
		if paramType == "" {
			paramType = "string"
		}
		param := name + ": " + paramType
		if slices.Contains(schema.Required, name) {
			param += " (required)"
		}
		if info.Description != "" {
			param += " - " + info.Description
		}
		params = append(params, param)
	}
	return fmt.Sprintf("- %s(%s): %s", fn.Name, strings.Join(params, ", "), fn.Description)
}

// functionCallPattern matches the two-line reply shape the preamble asks
// for; (?s) lets the argument object span lines.
var functionCallPattern = regexp.MustCompile(`(?s)FUNCTION_CALL:\s*(\w+)\s*\nARGUMENTS:\s*(\{.*?\})`)

// ParseFunctionCall extracts a function call from reply text. The returned
// arguments are compacted JSON with the model's key order preserved; ok is
// false when the text is not in call format or its arguments do not parse.
func ParseFunctionCall(text string) (name, args string, ok bool) {
	m := functionCallPattern.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	raw := strings.TrimSpace(m[2])
	if !json.Valid([]byte(raw)) {
		return "", "", false
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(raw)); err != nil {
		return "", "", false
	}
	return strings.TrimSpace(m[1]), compact.String(), true
}

// ValidateToolArgs checks parsed arguments against the schema declared for
// name. Unknown function names and uncompilable schemas pass; only a schema
// that compiles and rejects the arguments fails.
func ValidateToolArgs(tools []Tool, name, args string) bool {
	for _, t := range tools {
		if t.Function.Name != name {
			continue
		}
		if len(t.Function.Parameters) == 0 {
			return true
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("arguments.json", bytes.NewReader(t.Function.Parameters)); err != nil {
			return true
		}
		schema, err := compiler.Compile("arguments.json")
		if err != nil {
			return true
		}
		var parsed any
		if err := json.Unmarshal([]byte(args), &parsed); err != nil {
			return false
		}
		return schema.Validate(parsed) == nil
	}
	return true
}

// NewToolCall mints the tool call envelope with its call_<10 hex> id.
func NewToolCall(name, args string) ToolCall {
	return ToolCall{
		ID:       "call_" + newHex()[:10],
		Type:     "function",
		Function: FunctionCall{Name: name, Arguments: args},
	}
}

// TranslateToolCall rewrites a chat completion whose reply text is in call
// format into tool_calls form: content becomes null and finish_reason
// becomes tool_calls. It reports whether a rewrite happened.
func TranslateToolCall(c *ChatCompletion, tools []Tool) bool {
	if len(c.Choices) == 0 || c.Choices[0].Message.Content == nil {
		return false
	}
	name, args, ok := ParseFunctionCall(*c.Choices[0].Message.Content)
	if !ok || !ValidateToolArgs(tools, name, args) {
		return false
	}
	c.Choices[0].Message.Content = nil
	c.Choices[0].Message.ToolCalls = []ToolCall{NewToolCall(name, args)}
	c.Choices[0].FinishReason = FinishReasonToolCalls
	return true
}

// ToolCallChunk builds the final streamed chunk carrying a parsed call in
// its delta.
func ToolCallChunk(name, args, model string, created int64) ChatCompletionChunk {
	return ChatCompletionChunk{
		ID:      newHex(),
		Object:  ObjectChatCompletionChunk,
		Created: created,
		Model:   model,
		Choices: []ChunkChoice{{
			Index:        0,
			Delta:        Delta{ToolCalls: []ToolCall{NewToolCall(name, args)}},
			FinishReason: String(FinishReasonToolCalls),
		}},
	}
}
