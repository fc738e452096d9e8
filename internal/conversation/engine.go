package conversation

import (
	"context"
	"time"

	"github.com/schooldesk/assistant/internal/classifier"
	"github.com/schooldesk/assistant/internal/flow"
	"github.com/schooldesk/assistant/internal/observability/metrics"
	"github.com/schooldesk/assistant/internal/routing"
	"github.com/schooldesk/assistant/pkg/logging"
)

// MessageRequest is one inbound user message plus the flow context the caller
// carried over from the previous turn.
type MessageRequest struct {
	SchoolID string       `json:"school_id"`
	UserID   string       `json:"user_id,omitempty"`
	Message  string       `json:"message"`
	Context  flow.Context `json:"context,omitempty"`
}

// IntentClassifier is the fusion-facing classifier contract.
type IntentClassifier interface {
	Classify(ctx context.Context, req classifier.Request) *classifier.Result
}

// DecisionRecorder persists routing decisions without ever failing the caller.
type DecisionRecorder interface {
	Record(entry routing.LogEntry)
}

// Engine runs the full message pipeline: flow-context bypass, pattern
// routing, classifier fallback, fusion, dispatch, and decision logging.
type Engine struct {
	cache      *routing.Cache
	classifier IntentClassifier
	fusion     routing.Fusion
	dispatch   *routing.DispatchTable
	recorder   DecisionRecorder
	handlers   map[string]Handler
	metrics    *metrics.RoutingMetrics
	logger     *logging.Logger
}

// EngineConfig wires an engine. Cache, Dispatch and at least the dispatch
// table's default handler are required; everything else degrades gracefully.
type EngineConfig struct {
	Cache      *routing.Cache
	Classifier IntentClassifier
	Fusion     routing.Fusion
	Dispatch   *routing.DispatchTable
	Recorder   DecisionRecorder
	Handlers   []Handler
	Metrics    *metrics.RoutingMetrics
	Logger     *logging.Logger
}

// NewEngine builds the pipeline and indexes handlers by name.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Cache == nil {
		panic("conversation: cache required")
	}
	if cfg.Dispatch == nil {
		panic("conversation: dispatch table required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	handlers := make(map[string]Handler, len(cfg.Handlers))
	for _, h := range cfg.Handlers {
		handlers[h.Name()] = h
	}
	if _, ok := handlers[cfg.Dispatch.Default()]; !ok {
		panic("conversation: default handler not registered")
	}

	return &Engine{
		cache:      cfg.Cache,
		classifier: cfg.Classifier,
		fusion:     cfg.Fusion,
		dispatch:   cfg.Dispatch,
		recorder:   cfg.Recorder,
		handlers:   handlers,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// Reload rebuilds the pattern cache snapshot. Idempotent and safe to call
// concurrently with in-flight routing.
func (e *Engine) Reload(ctx context.Context) error {
	err := e.cache.Reload(ctx)
	e.metrics.ObserveReload(err == nil, e.cache.Stats().PatternCount)
	return err
}

// Route exposes bare pattern routing for collaborators and diagnostics.
func (e *Engine) Route(message, schoolID string) *routing.RouterResult {
	return e.cache.Route(message, schoolID)
}

// CacheStats exposes cache health for monitoring endpoints.
func (e *Engine) CacheStats() routing.CacheStats {
	return e.cache.Stats()
}

// ProcessMessage runs one message through the full pipeline and returns a
// best-effort response. It never returns a bare error to the end user: flow
// errors preserve context and suggest a retry, handler errors fall back to a
// generic recoverable reply.
func (e *Engine) ProcessMessage(ctx context.Context, req MessageRequest) *Response {
	start := time.Now()

	// An active flow context bypasses routing entirely.
	if req.Context.Active() {
		if resp := e.continueFlow(ctx, req); resp != nil {
			return resp
		}
		// Context named an unknown or non-flow handler. Treat as no flow.
		e.logger.Warn("flow context ignored: unknown handler",
			"handler", req.Context.Handler(), "flow", req.Context.Flow())
	}

	routerRes := e.cache.Route(req.Message, req.SchoolID)

	var clfRes *classifier.Result
	if e.classifier != nil && e.fusion.NeedsClassifier(routerRes) {
		clfRes = e.classifier.Classify(ctx, classifier.Request{
			Message:        req.Message,
			AllowedIntents: e.allowedIntents(),
		})
		if clfRes == nil {
			e.metrics.ObserveClassifier("absent")
		} else {
			e.metrics.ObserveClassifier("ok")
		}
	}

	decision := e.fusion.Decide(routerRes, clfRes)
	handlerKey := e.dispatch.Resolve(decision.Intent)
	handler := e.handlers[handlerKey]
	if handler == nil {
		handler = e.handlers[e.dispatch.Default()]
		handlerKey = e.dispatch.Default()
	}

	resp, err := handler.HandleIntent(ctx, decision.Intent, req.Message, decision.Entities, req.Context)
	if err != nil {
		e.logger.Error("handler failed", "handler", handlerKey, "intent", decision.Intent, "error", err)
		resp = recoverableResponse(req.Context)
	}
	if resp.Context == nil {
		resp.Context = flow.Context{}
	}
	resp.Intent = decision.Intent
	resp.Handler = handlerKey
	resp.FallbackUsed = decision.FallbackUsed

	elapsed := time.Since(start)
	e.metrics.ObserveDecision(string(decision.Source), handlerKey, decision.FallbackUsed, elapsed.Seconds())
	e.record(req, routerRes, clfRes, decision, handlerKey, elapsed)

	return resp
}

// continueFlow dispatches directly to the owning handler's flow continuation.
// Returns nil when the context's handler cannot continue flows, letting the
// pipeline fall back to routing.
func (e *Engine) continueFlow(ctx context.Context, req MessageRequest) *Response {
	handler, ok := e.handlers[req.Context.Handler()]
	if !ok {
		return nil
	}
	fh, ok := handler.(FlowHandler)
	if !ok {
		return nil
	}

	resp, err := fh.ContinueFlow(ctx, req.Message, req.Context)
	if err != nil {
		// Preserve the context unchanged so the same step can be retried.
		e.logger.Error("flow step failed",
			"handler", req.Context.Handler(), "flow", req.Context.Flow(),
			"step", req.Context.Step(), "error", err)
		return recoverableResponse(req.Context)
	}
	if resp.Context == nil {
		resp.Context = flow.Context{}
	}
	resp.Handler = req.Context.Handler()
	return resp
}

func (e *Engine) allowedIntents() []string {
	snap := e.cache.Current()
	if snap == nil {
		return nil
	}
	return snap.Intents()
}

func (e *Engine) record(req MessageRequest, routerRes *routing.RouterResult,
	clfRes *classifier.Result, decision routing.Decision, handlerKey string, elapsed time.Duration) {
	if e.recorder == nil {
		return
	}

	entry := routing.LogEntry{
		SchoolID:     req.SchoolID,
		UserID:       req.UserID,
		Message:      req.Message,
		FinalIntent:  decision.Intent,
		Handler:      handlerKey,
		Source:       decision.Source,
		FallbackUsed: decision.FallbackUsed,
		LatencyMS:    elapsed.Milliseconds(),
	}
	if routerRes != nil {
		entry.RouterIntent = routerRes.Intent
		entry.RouterConfidence = routerRes.Confidence
	}
	if clfRes != nil {
		entry.ClassifierIntent = clfRes.Intent
		entry.ClassifierConfidence = clfRes.Confidence
	}
	if snap := e.cache.Current(); snap != nil {
		versionID := snap.VersionID
		entry.VersionID = &versionID
	}
	e.recorder.Record(entry)
}

func recoverableResponse(fc flow.Context) *Response {
	resp := &Response{
		Text:        "Sorry, something went wrong on my end. Your progress is saved - please try that again.",
		Suggestions: []string{"Try again", "Cancel"},
		Context:     fc,
	}
	if resp.Context == nil {
		resp.Context = flow.Context{}
	}
	return resp
}
