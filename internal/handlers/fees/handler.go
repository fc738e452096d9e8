// Package fees owns fee and payment intents, including the record-payment
// dialogue.
package fees

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/schooldesk/assistant/internal/conversation"
	"github.com/schooldesk/assistant/internal/flow"
	"github.com/schooldesk/assistant/pkg/logging"
)

// HandlerName is the dispatch key for this handler.
const HandlerName = "fees"

// FlowRecordPayment is the payment-entry dialogue.
const FlowRecordPayment = "record_payment"

// Step names for the record-payment flow.
type Step string

const (
	StepEnterStudent Step = "enter_student"
	StepEnterAmount  Step = "enter_amount"
	StepConfirm      Step = "confirm"
)

// RecordPaymentContext is the typed step data for the record-payment flow.
type RecordPaymentContext struct {
	Student string `json:"student,omitempty"`
	Amount  string `json:"amount,omitempty"`
}

var (
	amountExpr  = regexp.MustCompile(`(?:\$|usd\s*)?(\d+(?:\.\d{1,2})?)`)
	forNameExpr = regexp.MustCompile(`(?i)(?:for|from)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)
)

// Handler answers fees_* intents and runs the record-payment flow.
type Handler struct {
	completeness float64
	logger       *logging.Logger
}

// New creates the fees handler.
func New(completeness float64, logger *logging.Logger) *Handler {
	if completeness <= 0 || completeness > 1 {
		completeness = 0.75
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{completeness: completeness, logger: logger}
}

// Name implements conversation.Handler.
func (h *Handler) Name() string { return HandlerName }

// HandleIntent implements conversation.Handler.
func (h *Handler) HandleIntent(ctx context.Context, intent, message string, entities map[string]string, fc flow.Context) (*conversation.Response, error) {
	switch intent {
	case "fees_record_payment":
		return h.startPaymentFlow(message, entities)
	case "fees_balance":
		return &conversation.Response{
			Text:    "Which student's fee balance would you like to see?",
			Context: flow.Context{},
		}, nil
	default:
		return &conversation.Response{
			Text:        "I can record payments or look up fee balances. What do you need?",
			Suggestions: []string{"Record a payment", "Check a balance"},
			Context:     flow.Context{},
		}, nil
	}
}

func (h *Handler) startPaymentFlow(message string, entities map[string]string) (*conversation.Response, error) {
	data := RecordPaymentContext{
		Student: entities["student"],
		Amount:  entities["amount"],
	}
	if data.Student == "" {
		if m := forNameExpr.FindStringSubmatch(message); m != nil {
			data.Student = m[1]
		}
	}
	if data.Amount == "" {
		if m := amountExpr.FindStringSubmatch(message); m != nil {
			data.Amount = m[1]
		}
	}

	filled := 0
	if data.Student != "" {
		filled++
	}
	if data.Amount != "" {
		filled++
	}

	if float64(filled)/2 >= h.completeness {
		return h.respondAt(StepConfirm, data)
	}
	if data.Student == "" {
		return h.respondAt(StepEnterStudent, data)
	}
	return h.respondAt(StepEnterAmount, data)
}

// ContinueFlow implements conversation.FlowHandler.
func (h *Handler) ContinueFlow(ctx context.Context, message string, fc flow.Context) (*conversation.Response, error) {
	if flow.IsCancellation(message) {
		return &conversation.Response{
			Text:    "Okay, I've dropped that payment. Nothing was recorded.",
			Context: flow.Context{},
		}, nil
	}

	var data RecordPaymentContext
	env, err := flow.Decode(fc, &data)
	if err != nil {
		return nil, fmt.Errorf("fees: decode flow context: %w", err)
	}
	if env.Flow != FlowRecordPayment {
		return nil, fmt.Errorf("fees: unknown flow %q", env.Flow)
	}

	message = strings.TrimSpace(message)
	switch Step(env.Step) {
	case StepEnterStudent:
		if message == "" {
			return h.respondAt(StepEnterStudent, data)
		}
		data.Student = message
		return h.respondAt(StepEnterAmount, data)

	case StepEnterAmount:
		if m := amountExpr.FindStringSubmatch(message); m != nil {
			data.Amount = m[1]
			return h.respondAt(StepConfirm, data)
		}
		return &conversation.Response{
			Text:    "I need an amount, like 150 or 99.50. How much was paid?",
			Context: encode(StepEnterAmount, data),
		}, nil

	case StepConfirm:
		switch strings.ToLower(message) {
		case "yes", "y", "confirm", "save":
			h.logger.Info("payment recorded", "student", data.Student, "amount", data.Amount)
			return &conversation.Response{
				Text:    fmt.Sprintf("Recorded a payment of %s for %s.", data.Amount, data.Student),
				Context: flow.Context{},
			}, nil
		case "no", "n":
			return h.respondAt(StepEnterStudent, RecordPaymentContext{})
		default:
			return &conversation.Response{
				Text:        "Should I record this payment? Reply yes or no.",
				Suggestions: []string{"Yes", "No", "Cancel"},
				Context:     encode(StepConfirm, data),
			}, nil
		}

	default:
		return nil, fmt.Errorf("fees: unknown step %q in flow %q", env.Step, env.Flow)
	}
}

func (h *Handler) respondAt(step Step, data RecordPaymentContext) (*conversation.Response, error) {
	fc := encode(step, data)
	switch step {
	case StepEnterStudent:
		return &conversation.Response{
			Text:    "Sure - whose payment is this?",
			Context: fc,
		}, nil
	case StepEnterAmount:
		return &conversation.Response{
			Text:    fmt.Sprintf("How much did %s pay?", data.Student),
			Context: fc,
		}, nil
	case StepConfirm:
		return &conversation.Response{
			Text: fmt.Sprintf("Record a payment of %s for %s?",
				orUnknown(data.Amount), orUnknown(data.Student)),
			Suggestions: []string{"Yes", "No", "Cancel"},
			Context:     fc,
		}, nil
	default:
		return nil, fmt.Errorf("fees: unknown step %q", step)
	}
}

func encode(step Step, data RecordPaymentContext) flow.Context {
	fc, err := flow.Encode(flow.Envelope{
		Handler: HandlerName,
		Flow:    FlowRecordPayment,
		Step:    string(step),
	}, data)
	if err != nil {
		panic(err)
	}
	return fc
}

func orUnknown(v string) string {
	if v == "" {
		return "(missing)"
	}
	return v
}
