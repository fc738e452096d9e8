package routing

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/schooldesk/assistant/pkg/logging"
)

// CacheStatus reports the health of the pattern cache.
type CacheStatus string

const (
	CacheLoaded   CacheStatus = "loaded"
	CacheUnloaded CacheStatus = "unloaded"
	CacheError    CacheStatus = "error"
)

// CacheStats is the monitoring view of the cache.
type CacheStats struct {
	Status         CacheStatus `json:"status"`
	PatternCount   int         `json:"pattern_count"`
	SkippedCount   int         `json:"skipped_count"`
	VersionID      uuid.UUID   `json:"version_id,omitempty"`
	VersionName    string      `json:"version_name,omitempty"`
	LastReloadedAt time.Time   `json:"last_reloaded_at,omitempty"`
	LastError      string      `json:"last_error,omitempty"`
}

// PatternSource is what the cache needs from the pattern store.
type PatternSource interface {
	ActiveVersion(ctx context.Context) (*ConfigVersion, error)
	EnabledActivePatterns(ctx context.Context) ([]Pattern, error)
}

type compiledPattern struct {
	Pattern
	re *regexp.Regexp
}

// Snapshot is an immutable compiled view of the active version's enabled
// patterns. It is never mutated after construction; readers always see either
// this snapshot or its complete replacement.
type Snapshot struct {
	VersionID   uuid.UUID
	VersionName string
	BuiltAt     time.Time
	Skipped     []string

	patterns []compiledPattern
}

// PatternCount reports how many patterns compiled into the snapshot.
func (s *Snapshot) PatternCount() int {
	return len(s.patterns)
}

// Intents lists the distinct intents positive patterns define, in load order.
// Fed to the classifier as its allowed-intent set.
func (s *Snapshot) Intents() []string {
	var out []string
	seen := map[string]bool{}
	for i := range s.patterns {
		p := &s.patterns[i]
		if p.Kind == KindNegative || seen[p.Intent] {
			continue
		}
		seen[p.Intent] = true
		out = append(out, p.Intent)
	}
	return out
}

// buildSnapshot compiles patterns, skipping (and reporting) any that fail to
// compile and any synonym whose intent has no positive pattern.
func buildSnapshot(version *ConfigVersion, patterns []Pattern) *Snapshot {
	snap := &Snapshot{
		VersionID:   version.ID,
		VersionName: version.Name,
		BuiltAt:     time.Now(),
	}

	positiveIntents := map[string]bool{}
	for _, p := range patterns {
		if p.Kind == KindPositive {
			positiveIntents[p.Intent] = true
		}
	}

	for _, p := range patterns {
		if p.Kind == KindSynonym && !positiveIntents[p.Intent] {
			snap.Skipped = append(snap.Skipped,
				fmt.Sprintf("pattern %s: synonym for intent %q with no positive pattern", p.ID, p.Intent))
			continue
		}
		re, err := regexp.Compile(p.Expression)
		if err != nil {
			snap.Skipped = append(snap.Skipped,
				fmt.Sprintf("pattern %s: %v", p.ID, err))
			continue
		}
		snap.patterns = append(snap.patterns, compiledPattern{Pattern: p, re: re})
	}

	// The router walks patterns in snapshot order, so the order is fixed here
	// rather than trusted to the source: descending priority, stable so load
	// order breaks ties.
	sort.SliceStable(snap.patterns, func(i, j int) bool {
		return snap.patterns[i].Priority > snap.patterns[j].Priority
	})
	return snap
}

// Cache holds the compiled pattern snapshot behind an atomic pointer.
// Reload builds a brand-new snapshot off to the side and swaps it in, so
// in-flight Route calls never observe a half-built cache.
type Cache struct {
	source         PatternSource
	logger         *logging.Logger
	baseConfidence float64

	snap atomic.Pointer[Snapshot]

	mu             sync.Mutex
	status         CacheStatus
	lastReloadedAt time.Time
	lastErr        error
}

// CacheOption tunes cache construction.
type CacheOption func(*Cache)

// WithBaseConfidence overrides the confidence assigned to positive matches.
func WithBaseConfidence(confidence float64) CacheOption {
	return func(c *Cache) {
		if confidence > 0 && confidence <= 1 {
			c.baseConfidence = confidence
		}
	}
}

// NewCache creates an empty (unloaded) cache over the given source.
func NewCache(source PatternSource, logger *logging.Logger, opts ...CacheOption) *Cache {
	if source == nil {
		panic("routing: pattern source required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &Cache{
		source:         source,
		logger:         logger,
		baseConfidence: defaultBaseConfidence,
		status:         CacheUnloaded,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const defaultBaseConfidence = 0.9

// Reload rebuilds the snapshot from the active version. A wholesale read
// failure leaves the previous snapshot installed; individual bad patterns are
// skipped and reported, never fatal. Safe to call concurrently with Route.
func (c *Cache) Reload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	version, err := c.source.ActiveVersion(ctx)
	if err != nil {
		c.noteFailure(err)
		return fmt.Errorf("routing: reload read active version: %w", err)
	}
	if version == nil {
		c.snap.Store(nil)
		c.status = CacheUnloaded
		c.lastErr = nil
		c.lastReloadedAt = time.Now()
		c.logger.Warn("pattern cache unloaded: no active config version")
		return nil
	}

	patterns, err := c.source.EnabledActivePatterns(ctx)
	if err != nil {
		c.noteFailure(err)
		return fmt.Errorf("routing: reload read patterns: %w", err)
	}

	snap := buildSnapshot(version, patterns)
	c.snap.Store(snap)
	c.status = CacheLoaded
	c.lastErr = nil
	c.lastReloadedAt = snap.BuiltAt

	for _, skipped := range snap.Skipped {
		c.logger.Warn("pattern skipped during reload", "detail", skipped, "version", version.Name)
	}
	c.logger.Info("pattern cache reloaded",
		"version", version.Name,
		"patterns", snap.PatternCount(),
		"skipped", len(snap.Skipped),
	)
	return nil
}

// noteFailure records a reload failure without discarding a valid snapshot:
// stale-but-valid beats no cache at all.
func (c *Cache) noteFailure(err error) {
	c.lastErr = err
	if c.snap.Load() == nil {
		c.status = CacheError
	}
	c.logger.Error("pattern cache reload failed", "error", err)
}

// Stats returns the monitoring view of the cache.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Status:         c.status,
		LastReloadedAt: c.lastReloadedAt,
	}
	if c.lastErr != nil {
		stats.LastError = c.lastErr.Error()
	}
	if snap := c.snap.Load(); snap != nil {
		stats.PatternCount = snap.PatternCount()
		stats.SkippedCount = len(snap.Skipped)
		stats.VersionID = snap.VersionID
		stats.VersionName = snap.VersionName
	}
	return stats
}

// Current returns the installed snapshot, or nil when unloaded.
func (c *Cache) Current() *Snapshot {
	return c.snap.Load()
}
