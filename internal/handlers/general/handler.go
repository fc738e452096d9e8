// Package general is the default handler: it answers intents no specialist
// handler claims and owns the last-resort fallback reply.
package general

import (
	"context"

	"github.com/schooldesk/assistant/internal/conversation"
	"github.com/schooldesk/assistant/internal/flow"
	"github.com/schooldesk/assistant/pkg/logging"
)

// HandlerName is the dispatch key for this handler.
const HandlerName = "general"

// TemplateSource resolves a canned reply for an intent under the active
// config version. May be nil.
type TemplateSource interface {
	Body(ctx context.Context, intent string) (string, bool)
}

// Handler answers general intents from response templates and produces the
// fallback reply when fusion exhausted both sources.
type Handler struct {
	templates      TemplateSource
	fallbackIntent string
	logger         *logging.Logger
}

// New creates the general handler.
func New(templates TemplateSource, fallbackIntent string, logger *logging.Logger) *Handler {
	if fallbackIntent == "" {
		fallbackIntent = "unhandled"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{templates: templates, fallbackIntent: fallbackIntent, logger: logger}
}

// Name implements conversation.Handler.
func (h *Handler) Name() string { return HandlerName }

// HandleIntent implements conversation.Handler.
func (h *Handler) HandleIntent(ctx context.Context, intent, message string, entities map[string]string, fc flow.Context) (*conversation.Response, error) {
	if h.templates != nil {
		if body, ok := h.templates.Body(ctx, intent); ok {
			return &conversation.Response{Text: body, Context: flow.Context{}}, nil
		}
	}

	if intent == h.fallbackIntent {
		return &conversation.Response{
			Text: "I'm not sure what you need there. I can help with students, fees and payments, or general school questions.",
			Suggestions: []string{
				"Add a new student",
				"Record a payment",
				"Ask about the school calendar",
			},
			Context: flow.Context{},
		}, nil
	}

	h.logger.Debug("general handler answering without template", "intent", intent)
	return &conversation.Response{
		Text:    "Happy to help with that. Could you tell me a bit more about what you need?",
		Context: flow.Context{},
	}, nil
}
