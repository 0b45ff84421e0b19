package argoproxy

import (
	"errors"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/argonne-lcf/argoproxy/models"
)

// PassthroughRequest is a raw /v1/chat body after its minimal rewrites,
// plus the request attributes the relay loop needs.
type PassthroughRequest struct {
	Body           []byte
	Model          string
	ClientStream   bool
	UpstreamStream bool
	Timeout        int // seconds; zero when absent
}

// ShapePassthrough applies the only rewrites the raw relay route performs:
// the configured user replaces the client's, the model alias resolves to
// its upstream id, and streaming is forced off for models the upstream
// cannot stream. Every other byte is left exactly as the client sent it.
func ShapePassthrough(body []byte, cfg *Config, reg *models.Registry) (*PassthroughRequest, error) {
	if !gjson.ValidBytes(body) {
		return nil, errors.New("Invalid input. Expected JSON data.")
	}

	out, err := sjson.SetBytes(body, "user", cfg.User)
	if err != nil {
		return nil, err
	}
	model := reg.Resolve(gjson.GetBytes(body, "model").String(), models.KindChat)
	if out, err = sjson.SetBytes(out, "model", model); err != nil {
		return nil, err
	}

	clientStream := gjson.GetBytes(body, "stream").Bool()
	upstreamStream := clientStream
	if !reg.Streamable(model) {
		upstreamStream = false
		if out, err = sjson.SetBytes(out, "stream", false); err != nil {
			return nil, err
		}
	}

	return &PassthroughRequest{
		Body:           out,
		Model:          model,
		ClientStream:   clientStream,
		UpstreamStream: upstreamStream,
		Timeout:        int(gjson.GetBytes(body, "timeout").Int()),
	}, nil
}
