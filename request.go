package argoproxy

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/argonne-lcf/argoproxy/openai"
)

// StringOrList decodes a JSON string or array of strings into a slice; a
// bare string becomes a one-element slice.
type StringOrList []string

// UnmarshalJSON implements the two accepted forms.
func (s *StringOrList) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*s = StringOrList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New("must be a string or a list of strings")
	}
	*s = StringOrList(many)
	return nil
}

// Request is the incoming OpenAI-shaped body, decoded once and shared by
// every endpoint's shaping rules. Fields the proxy rewrites or consults are
// typed; everything else lands in Extra and is forwarded to the upstream
// untouched.
type Request struct {
	Model    string
	Messages []openai.Message
	Prompt   StringOrList
	System   StringOrList
	Stream   *bool
	User     string

	MaxTokens   *int
	Temperature *float64
	TopP        *float64
	Stop        StringOrList

	// Function calling (chat completions).
	Tools []openai.Tool

	// Responses API.
	Input           json.RawMessage
	Instructions    string
	MaxOutputTokens *int

	// Timeout overrides the configured per-request deadline, in seconds.
	// It is consumed by the proxy and never forwarded.
	Timeout *int

	Extra map[string]json.RawMessage
}

// UnmarshalJSON pulls the typed fields out of the body and keeps the
// remaining keys raw in Extra.
func (r *Request) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}

	take := func(key string, dst any) error {
		raw, ok := fields[key]
		if !ok {
			return nil
		}
		delete(fields, key)
		if string(raw) == "null" {
			return nil
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		return nil
	}

	if err := take("model", &r.Model); err != nil {
		return err
	}
	if err := take("messages", &r.Messages); err != nil {
		return err
	}
	if err := take("prompt", &r.Prompt); err != nil {
		return err
	}
	if err := take("system", &r.System); err != nil {
		return err
	}
	if err := take("stream", &r.Stream); err != nil {
		return err
	}
	if err := take("user", &r.User); err != nil {
		return err
	}
	if err := take("max_tokens", &r.MaxTokens); err != nil {
		return err
	}
	if err := take("temperature", &r.Temperature); err != nil {
		return err
	}
	if err := take("top_p", &r.TopP); err != nil {
		return err
	}
	if err := take("stop", &r.Stop); err != nil {
		return err
	}
	if err := take("tools", &r.Tools); err != nil {
		return err
	}
	if err := take("input", &r.Input); err != nil {
		return err
	}
	if err := take("instructions", &r.Instructions); err != nil {
		return err
	}
	if err := take("max_output_tokens", &r.MaxOutputTokens); err != nil {
		return err
	}
	if err := take("timeout", &r.Timeout); err != nil {
		return err
	}

	if len(fields) > 0 {
		r.Extra = fields
	}
	return nil
}

// WantsStream reports whether the client asked for a streaming reply.
func (r *Request) WantsStream() bool {
	return r.Stream != nil && *r.Stream
}

// TimeoutSeconds returns the per-request timeout override, or zero when the
// configured default applies.
func (r *Request) TimeoutSeconds() int {
	if r.Timeout != nil && *r.Timeout > 0 {
		return *r.Timeout
	}
	return 0
}
