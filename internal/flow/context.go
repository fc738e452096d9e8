// Package flow defines the multi-turn dialogue contract shared by every
// flow-capable handler: an opaque context envelope the caller carries between
// messages, plus the helpers handlers use to read and replace it.
package flow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Context is the opaque map threaded through the caller between turns. An
// empty or nil context means no flow is active. Handlers replace it wholesale
// on every turn; nothing patches it in place.
type Context map[string]any

// Envelope is the minimum every active flow context carries.
type Envelope struct {
	Handler string `json:"handler"`
	Flow    string `json:"flow"`
	Step    string `json:"step"`
}

// Active reports whether the context names a live flow.
func (c Context) Active() bool {
	return c.Handler() != "" && c.Flow() != "" && c.Step() != ""
}

// Handler returns the owning handler key, or "".
func (c Context) Handler() string { return c.str("handler") }

// Flow returns the flow name, or "".
func (c Context) Flow() string { return c.str("flow") }

// Step returns the current step name, or "".
func (c Context) Step() string { return c.str("step") }

func (c Context) str(key string) string {
	if c == nil {
		return ""
	}
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

// Encode builds a fresh context from an envelope and a typed step-data
// struct. The struct's JSON fields sit beside the envelope keys so callers
// that never interpret the context still see one flat map.
func Encode(env Envelope, data any) (Context, error) {
	out := Context{
		"handler": env.Handler,
		"flow":    env.Flow,
		"step":    env.Step,
	}
	if data == nil {
		return out, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("flow: encode context data: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("flow: context data must be an object: %w", err)
	}
	for k, v := range fields {
		if k == "handler" || k == "flow" || k == "step" {
			continue
		}
		out[k] = v
	}
	return out, nil
}

// Decode extracts the envelope and unmarshals the remaining fields into out.
// out may be nil when only the envelope is needed.
func Decode(c Context, out any) (Envelope, error) {
	env := Envelope{
		Handler: c.Handler(),
		Flow:    c.Flow(),
		Step:    c.Step(),
	}
	if out == nil {
		return env, nil
	}

	raw, err := json.Marshal(map[string]any(c))
	if err != nil {
		return env, fmt.Errorf("flow: decode context: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return env, fmt.Errorf("flow: decode context data: %w", err)
	}
	return env, nil
}

// cancelWords are honored at every step of every flow.
var cancelWords = map[string]bool{
	"cancel":     true,
	"stop":       true,
	"exit":       true,
	"quit":       true,
	"nevermind":  true,
	"never mind": true,
}

// IsCancellation reports whether a message is a reserved cancel word.
func IsCancellation(message string) bool {
	return cancelWords[strings.ToLower(strings.TrimSpace(message))]
}
