package routing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrVersionNotFound indicates the referenced config version does not exist.
	ErrVersionNotFound = errors.New("routing: config version not found")
	// ErrNotCandidate indicates a promotion was attempted on a non-candidate version.
	ErrNotCandidate = errors.New("routing: only candidate versions can be promoted")
	// ErrVersionArchived indicates a write against an archived (immutable) version.
	ErrVersionArchived = errors.New("routing: archived versions are immutable")
	// ErrInvalidExpression indicates a pattern expression that does not compile.
	ErrInvalidExpression = errors.New("routing: pattern expression does not compile")
	// ErrPatternNotFound indicates the referenced pattern does not exist.
	ErrPatternNotFound = errors.New("routing: pattern not found")
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ResponseTemplate is a canned reply owned by a config version, keyed by intent.
type ResponseTemplate struct {
	ID        uuid.UUID `json:"id"`
	VersionID uuid.UUID `json:"version_id"`
	Intent    string    `json:"intent"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists config versions, patterns and response templates.
type Store struct {
	db DB
}

// NewStore wires a pattern store around a pgx pool.
func NewStore(db DB) *Store {
	if db == nil {
		panic("routing: db required")
	}
	return &Store{db: db}
}

const versionColumns = `id, name, status, notes, pattern_count, template_count, created_at, updated_at, activated_at`

func scanVersion(row pgx.Row) (*ConfigVersion, error) {
	var v ConfigVersion
	err := row.Scan(&v.ID, &v.Name, &v.Status, &v.Notes, &v.PatternCount,
		&v.TemplateCount, &v.CreatedAt, &v.UpdatedAt, &v.ActivatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVersions returns every config version, newest first.
func (s *Store) ListVersions(ctx context.Context) ([]ConfigVersion, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+versionColumns+`
		FROM config_versions
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("routing: list versions: %w", err)
	}
	defer rows.Close()

	out := []ConfigVersion{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("routing: scan version: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// GetVersion fetches one version by id, or ErrVersionNotFound.
func (s *Store) GetVersion(ctx context.Context, id uuid.UUID) (*ConfigVersion, error) {
	v, err := scanVersion(s.db.QueryRow(ctx, `
		SELECT `+versionColumns+`
		FROM config_versions
		WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("routing: get version: %w", err)
	}
	return v, nil
}

// ActiveVersion returns the currently active version, or nil when none exists.
func (s *Store) ActiveVersion(ctx context.Context) (*ConfigVersion, error) {
	v, err := scanVersion(s.db.QueryRow(ctx, `
		SELECT `+versionColumns+`
		FROM config_versions
		WHERE status = 'active'`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("routing: active version: %w", err)
	}
	return v, nil
}

// CreateVersion inserts a new candidate version. When copyFrom is non-nil the
// source version's patterns and templates are duplicated into the new one.
func (s *Store) CreateVersion(ctx context.Context, name, notes string, copyFrom *uuid.UUID) (*ConfigVersion, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("routing: begin create version: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO config_versions (id, name, status, notes)
		VALUES ($1, $2, 'candidate', $3)`, id, name, notes); err != nil {
		return nil, fmt.Errorf("routing: insert version: %w", err)
	}

	if copyFrom != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO routing_patterns (id, version_id, handler, intent, kind, expression, priority, enabled, school_id, created_at)
			SELECT gen_random_uuid(), $1, handler, intent, kind, expression, priority, enabled, school_id, created_at
			FROM routing_patterns WHERE version_id = $2`, id, *copyFrom); err != nil {
			return nil, fmt.Errorf("routing: copy patterns: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO response_templates (id, version_id, intent, body)
			SELECT gen_random_uuid(), $1, intent, body
			FROM response_templates WHERE version_id = $2`, id, *copyFrom); err != nil {
			return nil, fmt.Errorf("routing: copy templates: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE config_versions SET
				pattern_count = (SELECT count(*) FROM routing_patterns WHERE version_id = $1),
				template_count = (SELECT count(*) FROM response_templates WHERE version_id = $1)
			WHERE id = $1`, id); err != nil {
			return nil, fmt.Errorf("routing: update version counts: %w", err)
		}
	}

	v, err := scanVersion(tx.QueryRow(ctx, `
		SELECT `+versionColumns+`
		FROM config_versions
		WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("routing: read back version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("routing: commit create version: %w", err)
	}
	return v, nil
}

// PromoteVersion atomically makes a candidate the active version, archiving
// whatever was active before. The caller is responsible for reloading caches.
func (s *Store) PromoteVersion(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("routing: begin promote: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status VersionStatus
	err = tx.QueryRow(ctx, `
		SELECT status FROM config_versions WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionNotFound
	}
	if err != nil {
		return fmt.Errorf("routing: lock version: %w", err)
	}
	if status != VersionCandidate {
		return ErrNotCandidate
	}

	if _, err := tx.Exec(ctx, `
		UPDATE config_versions
		SET status = 'archived', updated_at = now()
		WHERE status = 'active'`); err != nil {
		return fmt.Errorf("routing: archive previous active: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE config_versions
		SET status = 'active', activated_at = now(), updated_at = now()
		WHERE id = $1`, id); err != nil {
		return fmt.Errorf("routing: activate version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("routing: commit promote: %w", err)
	}
	return nil
}

const patternColumns = `id, version_id, handler, intent, kind, expression, priority, enabled, school_id, created_at, updated_at`

func scanPattern(row pgx.Row) (*Pattern, error) {
	var p Pattern
	err := row.Scan(&p.ID, &p.VersionID, &p.Handler, &p.Intent, &p.Kind,
		&p.Expression, &p.Priority, &p.Enabled, &p.SchoolID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ValidateExpression checks that an expression compiles under the router's
// pattern engine. Used at write time and by the validation endpoint.
func ValidateExpression(expression string) error {
	if _, err := regexp.Compile(expression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	return nil
}

func (s *Store) versionWritable(ctx context.Context, q pgx.Tx, versionID uuid.UUID) error {
	var status VersionStatus
	err := q.QueryRow(ctx, `
		SELECT status FROM config_versions WHERE id = $1 FOR UPDATE`, versionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionNotFound
	}
	if err != nil {
		return fmt.Errorf("routing: check version status: %w", err)
	}
	if status == VersionArchived {
		return ErrVersionArchived
	}
	return nil
}

// CreatePattern validates and inserts a pattern, keeping the denormalized
// pattern count in step.
func (s *Store) CreatePattern(ctx context.Context, p *Pattern) error {
	if err := ValidateExpression(p.Expression); err != nil {
		return err
	}
	if p.Kind != KindPositive && p.Kind != KindNegative && p.Kind != KindSynonym {
		return fmt.Errorf("routing: unknown pattern kind %q", p.Kind)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("routing: begin create pattern: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.versionWritable(ctx, tx, p.VersionID); err != nil {
		return err
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO routing_patterns (id, version_id, handler, intent, kind, expression, priority, enabled, school_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.VersionID, p.Handler, p.Intent, p.Kind, p.Expression, p.Priority, p.Enabled, p.SchoolID); err != nil {
		return fmt.Errorf("routing: insert pattern: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE config_versions
		SET pattern_count = pattern_count + 1, updated_at = now()
		WHERE id = $1`, p.VersionID); err != nil {
		return fmt.Errorf("routing: bump pattern count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("routing: commit create pattern: %w", err)
	}
	return nil
}

// UpdatePattern rewrites a pattern's mutable fields after re-validation.
func (s *Store) UpdatePattern(ctx context.Context, p *Pattern) error {
	if err := ValidateExpression(p.Expression); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("routing: begin update pattern: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.versionWritable(ctx, tx, p.VersionID); err != nil {
		return err
	}

	// Scoping by version_id keeps the write inside the version the caller
	// proved writable; a pattern id from another version is not found.
	ct, err := tx.Exec(ctx, `
		UPDATE routing_patterns
		SET handler = $3, intent = $4, kind = $5, expression = $6,
		    priority = $7, enabled = $8, school_id = $9, updated_at = now()
		WHERE id = $1 AND version_id = $2`,
		p.ID, p.VersionID, p.Handler, p.Intent, p.Kind, p.Expression, p.Priority, p.Enabled, p.SchoolID)
	if err != nil {
		return fmt.Errorf("routing: update pattern: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrPatternNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("routing: commit update pattern: %w", err)
	}
	return nil
}

// DeletePattern removes a pattern and decrements the version's count.
func (s *Store) DeletePattern(ctx context.Context, versionID, patternID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("routing: begin delete pattern: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.versionWritable(ctx, tx, versionID); err != nil {
		return err
	}

	ct, err := tx.Exec(ctx, `
		DELETE FROM routing_patterns WHERE id = $1 AND version_id = $2`, patternID, versionID)
	if err != nil {
		return fmt.Errorf("routing: delete pattern: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrPatternNotFound
	}

	if _, err := tx.Exec(ctx, `
		UPDATE config_versions
		SET pattern_count = pattern_count - 1, updated_at = now()
		WHERE id = $1`, versionID); err != nil {
		return fmt.Errorf("routing: drop pattern count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("routing: commit delete pattern: %w", err)
	}
	return nil
}

// ListPatterns returns all patterns under a version in load order.
func (s *Store) ListPatterns(ctx context.Context, versionID uuid.UUID) ([]Pattern, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+patternColumns+`
		FROM routing_patterns
		WHERE version_id = $1
		ORDER BY priority DESC, created_at ASC`, versionID)
	if err != nil {
		return nil, fmt.Errorf("routing: list patterns: %w", err)
	}
	defer rows.Close()

	out := []Pattern{}
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("routing: scan pattern: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// EnabledActivePatterns returns the enabled patterns of the active version in
// descending priority, load order within equal priority. This is the cache's
// reload query.
func (s *Store) EnabledActivePatterns(ctx context.Context) ([]Pattern, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.id, p.version_id, p.handler, p.intent, p.kind, p.expression,
		       p.priority, p.enabled, p.school_id, p.created_at, p.updated_at
		FROM routing_patterns p
		JOIN config_versions v ON v.id = p.version_id
		WHERE v.status = 'active' AND p.enabled
		ORDER BY p.priority DESC, p.created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("routing: enabled active patterns: %w", err)
	}
	defer rows.Close()

	out := []Pattern{}
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("routing: scan pattern: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// TemplateForIntent resolves a response template under the active version.
// Returns nil when no template exists.
func (s *Store) TemplateForIntent(ctx context.Context, intent string) (*ResponseTemplate, error) {
	var t ResponseTemplate
	err := s.db.QueryRow(ctx, `
		SELECT t.id, t.version_id, t.intent, t.body, t.created_at, t.updated_at
		FROM response_templates t
		JOIN config_versions v ON v.id = t.version_id
		WHERE v.status = 'active' AND t.intent = $1`, intent).
		Scan(&t.ID, &t.VersionID, &t.Intent, &t.Body, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("routing: template for intent: %w", err)
	}
	return &t, nil
}

// UpsertTemplate creates or replaces the template for an intent under a version.
func (s *Store) UpsertTemplate(ctx context.Context, t *ResponseTemplate) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("routing: begin upsert template: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := s.versionWritable(ctx, tx, t.VersionID); err != nil {
		return err
	}

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO response_templates (id, version_id, intent, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (version_id, intent) DO UPDATE SET body = EXCLUDED.body, updated_at = now()`,
		t.ID, t.VersionID, t.Intent, t.Body); err != nil {
		return fmt.Errorf("routing: upsert template: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE config_versions
		SET template_count = (SELECT count(*) FROM response_templates WHERE version_id = $1),
		    updated_at = now()
		WHERE id = $1`, t.VersionID); err != nil {
		return fmt.Errorf("routing: refresh template count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("routing: commit upsert template: %w", err)
	}
	return nil
}
