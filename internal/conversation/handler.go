package conversation

import (
	"context"

	"github.com/schooldesk/assistant/internal/flow"
)

// Response is what a handler returns for one turn. Context carries the flow
// state the caller must thread into the next message; an empty context means
// no flow is active.
type Response struct {
	Text         string       `json:"text"`
	Suggestions  []string     `json:"suggestions,omitempty"`
	Context      flow.Context `json:"context"`
	Intent       string       `json:"intent,omitempty"`
	Handler      string       `json:"handler,omitempty"`
	FallbackUsed bool         `json:"fallback_used,omitempty"`
}

// Handler is the uniform business-handler contract. Every handler accepts the
// full tuple even when it ignores parts of it, so dispatch stays uniform
// whether the handler is intent-first or flow-first.
type Handler interface {
	Name() string
	HandleIntent(ctx context.Context, intent, message string, entities map[string]string, fc flow.Context) (*Response, error)
}

// FlowHandler is a handler that can continue a multi-step dialogue. Dispatch
// calls ContinueFlow directly, bypassing intent routing, whenever the caller
// supplies a context owned by this handler.
type FlowHandler interface {
	Handler
	ContinueFlow(ctx context.Context, message string, fc flow.Context) (*Response, error)
}
