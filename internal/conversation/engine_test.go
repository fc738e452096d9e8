package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/schooldesk/assistant/internal/classifier"
	"github.com/schooldesk/assistant/internal/flow"
	"github.com/schooldesk/assistant/internal/routing"
	"github.com/schooldesk/assistant/pkg/logging"
	"github.com/stretchr/testify/require"
)

// fakeSource backs the cache with fixed patterns.
type fakeSource struct {
	version  *routing.ConfigVersion
	patterns []routing.Pattern
}

func (f *fakeSource) ActiveVersion(ctx context.Context) (*routing.ConfigVersion, error) {
	return f.version, nil
}

func (f *fakeSource) EnabledActivePatterns(ctx context.Context) ([]routing.Pattern, error) {
	return f.patterns, nil
}

// stubHandler records calls and returns canned responses.
type stubHandler struct {
	name         string
	intentResp   *Response
	intentErr    error
	flowResp     *Response
	flowErr      error
	lastIntent   string
	lastEntities map[string]string
	flowCalls    int
}

func (s *stubHandler) Name() string { return s.name }

func (s *stubHandler) HandleIntent(ctx context.Context, intent, message string, entities map[string]string, fc flow.Context) (*Response, error) {
	s.lastIntent = intent
	s.lastEntities = entities
	if s.intentErr != nil {
		return nil, s.intentErr
	}
	if s.intentResp != nil {
		return s.intentResp, nil
	}
	return &Response{Text: "handled " + intent, Context: flow.Context{}}, nil
}

func (s *stubHandler) ContinueFlow(ctx context.Context, message string, fc flow.Context) (*Response, error) {
	s.flowCalls++
	if s.flowErr != nil {
		return nil, s.flowErr
	}
	if s.flowResp != nil {
		return s.flowResp, nil
	}
	return &Response{Text: "flow continued", Context: flow.Context{}}, nil
}

// plainHandler has no flow support.
type plainHandler struct {
	name       string
	lastIntent string
}

func (p *plainHandler) Name() string { return p.name }

func (p *plainHandler) HandleIntent(ctx context.Context, intent, message string, entities map[string]string, fc flow.Context) (*Response, error) {
	p.lastIntent = intent
	return &Response{Text: "plain", Context: flow.Context{}}, nil
}

// stubClassifier returns a fixed result and counts calls.
type stubClassifier struct {
	mu    sync.Mutex
	res   *classifier.Result
	calls int
}

func (s *stubClassifier) Classify(ctx context.Context, req classifier.Request) *classifier.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.res
}

func (s *stubClassifier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// memRecorder captures log entries synchronously.
type memRecorder struct {
	mu      sync.Mutex
	entries []routing.LogEntry
}

func (m *memRecorder) Record(entry routing.LogEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
}

func (m *memRecorder) last(t *testing.T) routing.LogEntry {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.entries)
	return m.entries[len(m.entries)-1]
}

func pattern(intent, expr string, priority int) routing.Pattern {
	return routing.Pattern{
		ID:         uuid.New(),
		Handler:    "general",
		Intent:     intent,
		Kind:       routing.KindPositive,
		Expression: expr,
		Priority:   priority,
		Enabled:    true,
	}
}

type engineFixture struct {
	engine     *Engine
	general    *stubHandler
	students   *stubHandler
	classifier *stubClassifier
	recorder   *memRecorder
}

func newFixture(t *testing.T, clf *stubClassifier, patterns ...routing.Pattern) *engineFixture {
	t.Helper()

	source := &fakeSource{
		version:  &routing.ConfigVersion{ID: uuid.New(), Name: "v1", Status: routing.VersionActive},
		patterns: patterns,
	}
	cache := routing.NewCache(source, logging.New("error"))
	require.NoError(t, cache.Reload(context.Background()))

	fx := &engineFixture{
		general:    &stubHandler{name: "general"},
		students:   &stubHandler{name: "students"},
		classifier: clf,
		recorder:   &memRecorder{},
	}

	cfg := EngineConfig{
		Cache:    cache,
		Fusion:   routing.NewFusion(0.6, 0.75, "unhandled"),
		Dispatch: routing.NewDispatchTable("general").Prefix("students_", "students"),
		Recorder: fx.recorder,
		Handlers: []Handler{fx.general, fx.students},
		Logger:   logging.New("error"),
	}
	if clf != nil {
		cfg.Classifier = clf
	}
	fx.engine = NewEngine(cfg)
	return fx
}

func TestProcessMessagePatternMatch(t *testing.T) {
	fx := newFixture(t, &stubClassifier{},
		pattern("greeting", `(?i)\bhello\b`, 10))

	resp := fx.engine.ProcessMessage(context.Background(), MessageRequest{
		SchoolID: "s1", Message: "hello there",
	})

	require.Equal(t, "greeting", resp.Intent)
	require.Equal(t, "general", resp.Handler)
	require.False(t, resp.FallbackUsed)
	require.Equal(t, "greeting", fx.general.lastIntent)

	// A confident pattern match must not consult the classifier.
	require.Zero(t, fx.classifier.callCount())

	entry := fx.recorder.last(t)
	require.Equal(t, routing.SourcePattern, entry.Source)
	require.Equal(t, "greeting", entry.RouterIntent)
	require.NotNil(t, entry.VersionID)
}

func TestProcessMessageClassifierFallback(t *testing.T) {
	clf := &stubClassifier{res: &classifier.Result{Intent: "students_count", Confidence: 0.9}}
	fx := newFixture(t, clf, pattern("greeting", `(?i)\bhello\b`, 10))

	resp := fx.engine.ProcessMessage(context.Background(), MessageRequest{
		SchoolID: "s1", Message: "how many kids do we have",
	})

	require.Equal(t, "students_count", resp.Intent)
	require.Equal(t, "students", resp.Handler)
	require.Equal(t, 1, clf.callCount())

	entry := fx.recorder.last(t)
	require.Equal(t, routing.SourceClassifier, entry.Source)
}

func TestProcessMessageFallbackIntent(t *testing.T) {
	fx := newFixture(t, &stubClassifier{}, pattern("greeting", `(?i)\bhello\b`, 10))

	resp := fx.engine.ProcessMessage(context.Background(), MessageRequest{
		SchoolID: "s1", Message: "xyzzy",
	})

	require.Equal(t, "unhandled", resp.Intent)
	require.True(t, resp.FallbackUsed)
	require.Equal(t, "general", resp.Handler)

	entry := fx.recorder.last(t)
	require.Equal(t, routing.SourceFallback, entry.Source)
	require.True(t, entry.FallbackUsed)
}

func TestProcessMessageFlowBypassesRouting(t *testing.T) {
	fx := newFixture(t, &stubClassifier{}, pattern("greeting", `(?i)\bcancel\b`, 10))

	fc, err := flow.Encode(flow.Envelope{
		Handler: "students", Flow: "create_student", Step: "confirm",
	}, nil)
	require.NoError(t, err)

	// Even a message that matches a pattern (or is a cancel word) goes to the
	// flow handler while a flow context is active.
	resp := fx.engine.ProcessMessage(context.Background(), MessageRequest{
		SchoolID: "s1", Message: "cancel", Context: fc,
	})

	require.Equal(t, 1, fx.students.flowCalls)
	require.Equal(t, "students", resp.Handler)
	require.Zero(t, fx.classifier.callCount())
}

func TestProcessMessageUnknownFlowHandlerFallsThrough(t *testing.T) {
	fx := newFixture(t, &stubClassifier{}, pattern("greeting", `(?i)\bhello\b`, 10))

	fc, err := flow.Encode(flow.Envelope{
		Handler: "ghosts", Flow: "haunt", Step: "boo",
	}, nil)
	require.NoError(t, err)

	resp := fx.engine.ProcessMessage(context.Background(), MessageRequest{
		SchoolID: "s1", Message: "hello", Context: fc,
	})

	// Unknown handler in the context: routing takes over.
	require.Equal(t, "greeting", resp.Intent)
}

func TestProcessMessageNonFlowHandlerContextFallsThrough(t *testing.T) {
	source := &fakeSource{
		version:  &routing.ConfigVersion{ID: uuid.New(), Name: "v1", Status: routing.VersionActive},
		patterns: []routing.Pattern{pattern("greeting", `(?i)\bhello\b`, 10)},
	}
	cache := routing.NewCache(source, logging.New("error"))
	require.NoError(t, cache.Reload(context.Background()))

	general := &plainHandler{name: "general"}
	engine := NewEngine(EngineConfig{
		Cache:    cache,
		Fusion:   routing.NewFusion(0.6, 0.75, "unhandled"),
		Dispatch: routing.NewDispatchTable("general"),
		Handlers: []Handler{general},
		Logger:   logging.New("error"),
	})

	// The context names a registered handler that cannot continue flows, so
	// the message routes normally.
	fc, err := flow.Encode(flow.Envelope{
		Handler: "general", Flow: "ghost_flow", Step: "s1",
	}, nil)
	require.NoError(t, err)

	resp := engine.ProcessMessage(context.Background(), MessageRequest{
		SchoolID: "s1", Message: "hello", Context: fc,
	})
	require.Equal(t, "greeting", resp.Intent)
	require.Equal(t, "greeting", general.lastIntent)
}

func TestProcessMessageFlowErrorPreservesContext(t *testing.T) {
	fx := newFixture(t, &stubClassifier{})
	fx.students.flowErr = errors.New("db timeout")

	fc, err := flow.Encode(flow.Envelope{
		Handler: "students", Flow: "create_student", Step: "enter_grade",
	}, map[string]any{"student_name": "Asha"})
	require.NoError(t, err)

	resp := fx.engine.ProcessMessage(context.Background(), MessageRequest{
		SchoolID: "s1", Message: "5", Context: fc,
	})

	// The caller can retry the same step with the same context.
	require.Equal(t, fc, resp.Context)
	require.NotEmpty(t, resp.Text)
	require.NotEmpty(t, resp.Suggestions)
}

func TestProcessMessageHandlerErrorYieldsRecoverableReply(t *testing.T) {
	fx := newFixture(t, &stubClassifier{}, pattern("greeting", `(?i)\bhello\b`, 10))
	fx.general.intentErr = errors.New("boom")

	resp := fx.engine.ProcessMessage(context.Background(), MessageRequest{
		SchoolID: "s1", Message: "hello",
	})

	require.NotEmpty(t, resp.Text)
	require.NotNil(t, resp.Context)
}

func TestProcessMessageEntitiesReachHandler(t *testing.T) {
	fx := newFixture(t, &stubClassifier{},
		pattern("students_create", `(?i)add student (?P<student_name>[a-z ]+)`, 10))

	fx.engine.ProcessMessage(context.Background(), MessageRequest{
		SchoolID: "s1", Message: "add student asha rao",
	})

	require.Equal(t, "asha rao", fx.students.lastEntities["student_name"])
}

func TestEngineRequiresDefaultHandler(t *testing.T) {
	source := &fakeSource{}
	cache := routing.NewCache(source, logging.New("error"))

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when default handler is missing")
		}
	}()
	NewEngine(EngineConfig{
		Cache:    cache,
		Dispatch: routing.NewDispatchTable("general"),
		Handlers: []Handler{&stubHandler{name: "students"}},
		Logger:   logging.New("error"),
	})
}
