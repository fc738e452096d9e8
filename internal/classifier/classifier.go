// Package classifier wraps external text classifiers behind a soft-dependency
// adapter: a bounded wait yields a normalized result or nil, never an error
// that aborts the routing pipeline.
package classifier

import (
	"context"
	"time"

	"github.com/schooldesk/assistant/pkg/logging"
)

// Alternative is a lower-ranked intent guess.
type Alternative struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// Result is the normalized classifier output.
type Result struct {
	Intent       string            `json:"intent"`
	Confidence   float64           `json:"confidence"`
	Entities     map[string]string `json:"entities,omitempty"`
	Alternatives []Alternative     `json:"alternatives,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// Request carries the classification inputs.
type Request struct {
	Message        string            `json:"message"`
	AllowedIntents []string          `json:"allowed_intents,omitempty"`
	RecentContext  string            `json:"recent_context,omitempty"`
	EntityHints    map[string]string `json:"entity_hints,omitempty"`
}

// Backend performs the actual classification call. Backends may block; the
// adapter owns the deadline.
type Backend interface {
	Classify(ctx context.Context, req Request) (*Result, error)
}

// Adapter enforces a fixed timeout over a backend and degrades every failure
// to a nil result. Fusion treats nil as "classifier absent".
type Adapter struct {
	backend Backend
	timeout time.Duration
	logger  *logging.Logger
}

const defaultTimeout = time.Second

// NewAdapter wraps a backend. A nil backend yields an adapter that always
// returns nil, which keeps wiring simple when no classifier is configured.
func NewAdapter(backend Backend, timeout time.Duration, logger *logging.Logger) *Adapter {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Adapter{backend: backend, timeout: timeout, logger: logger}
}

type outcome struct {
	res *Result
	err error
}

// Classify runs the backend under the adapter's deadline. The call is bridged
// through a channel so a backend that ignores its context cannot hold the
// caller past the timeout.
func (a *Adapter) Classify(ctx context.Context, req Request) *Result {
	if a == nil || a.backend == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ch := make(chan outcome, 1)
	go func() {
		res, err := a.backend.Classify(ctx, req)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		a.logger.Warn("classifier call timed out", "timeout", a.timeout.String())
		return nil
	case out := <-ch:
		if out.err != nil {
			a.logger.Warn("classifier call failed", "error", out.err)
			return nil
		}
		return normalize(out.res)
	}
}

func normalize(res *Result) *Result {
	if res == nil {
		return nil
	}
	res.Confidence = clamp01(res.Confidence)
	for i := range res.Alternatives {
		res.Alternatives[i].Confidence = clamp01(res.Alternatives[i].Confidence)
	}
	return res
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
