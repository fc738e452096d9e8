package routing

import (
	"time"

	"github.com/google/uuid"
)

// VersionStatus tracks the lifecycle of a routing configuration version.
type VersionStatus string

const (
	VersionActive    VersionStatus = "active"
	VersionCandidate VersionStatus = "candidate"
	VersionArchived  VersionStatus = "archived"
)

// ConfigVersion is a versioned collection of routing patterns. At most one
// version is active at any time; promoting a candidate archives the previous
// active version in the same transaction.
type ConfigVersion struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	Status        VersionStatus `json:"status"`
	Notes         string        `json:"notes,omitempty"`
	PatternCount  int           `json:"pattern_count"`
	TemplateCount int           `json:"template_count"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	ActivatedAt   *time.Time    `json:"activated_at,omitempty"`
}

// PatternKind distinguishes how a pattern participates in matching.
type PatternKind string

const (
	// KindPositive adds a candidate intent when the expression matches.
	KindPositive PatternKind = "positive"
	// KindNegative vetoes any positive match of the same intent.
	KindNegative PatternKind = "negative"
	// KindSynonym widens recall for an intent that positive patterns define.
	KindSynonym PatternKind = "synonym"
)

// Pattern is a single matchable expression belonging to one config version.
// An empty SchoolID means the pattern applies to every tenant.
type Pattern struct {
	ID         uuid.UUID   `json:"id"`
	VersionID  uuid.UUID   `json:"version_id"`
	Handler    string      `json:"handler"`
	Intent     string      `json:"intent"`
	Kind       PatternKind `json:"kind"`
	Expression string      `json:"expression"`
	Priority   int         `json:"priority"`
	Enabled    bool        `json:"enabled"`
	SchoolID   string      `json:"school_id,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// RouterResult is the pattern router's guess for a single message.
type RouterResult struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}
