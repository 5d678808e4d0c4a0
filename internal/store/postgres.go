package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sitelens/intel-cli/internal/db"
	"github.com/sitelens/intel-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// Bounded attempts for resolving slug collisions on organization insert.
const maxSlugAttempts = 3

const orgColumns = `id, slug, url, domain, name, business_type, description, target_audience, brand_voice, owner_user_id, owner_session_id, last_analyzed_at, created_at, updated_at`

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"find_org_by_url":      `SELECT ` + orgColumns + ` FROM organizations WHERE url = ANY($1) AND last_analyzed_at >= $2 ORDER BY last_analyzed_at DESC LIMIT 1`,
	"get_org":              `SELECT ` + orgColumns + ` FROM organizations WHERE id = $1`,
	"get_current_snapshot": `SELECT id, organization_id, analysis, narrative, confidence, cards, is_current, created_at FROM intelligence_snapshots WHERE organization_id = $1 AND is_current LIMIT 1`,
	"get_ctas":             `SELECT organization_id, page_url, text, placement, href FROM ctas WHERE organization_id = $1 ORDER BY page_url, placement, text`,
	"list_scenarios":       `SELECT id, snapshot_id, priority, name, description, demographics, pain_points, pitch, image_ref, created_at FROM audience_scenarios WHERE snapshot_id = $1 ORDER BY priority`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	slug             TEXT NOT NULL,
	url              TEXT NOT NULL,
	domain           TEXT NOT NULL,
	name             TEXT NOT NULL DEFAULT '',
	business_type    TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	target_audience  TEXT NOT NULL DEFAULT '',
	brand_voice      TEXT NOT NULL DEFAULT '',
	owner_user_id    TEXT,
	owner_session_id TEXT,
	owner_key        TEXT NOT NULL,
	last_analyzed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT organizations_slug_key UNIQUE (slug),
	CONSTRAINT organizations_owner_url_key UNIQUE (owner_key, url)
);

CREATE INDEX IF NOT EXISTS idx_organizations_url ON organizations(url);
CREATE INDEX IF NOT EXISTS idx_organizations_domain ON organizations(domain);
CREATE INDEX IF NOT EXISTS idx_organizations_last_analyzed ON organizations(last_analyzed_at DESC);

CREATE TABLE IF NOT EXISTS intelligence_snapshots (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	analysis        JSONB NOT NULL,
	narrative       TEXT,
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 0,
	cards           JSONB,
	is_current      BOOLEAN NOT NULL DEFAULT true,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_one_current ON intelligence_snapshots(organization_id) WHERE is_current;
CREATE INDEX IF NOT EXISTS idx_snapshots_org ON intelligence_snapshots(organization_id);

CREATE TABLE IF NOT EXISTS ctas (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	page_url        TEXT NOT NULL,
	text            TEXT NOT NULL,
	placement       TEXT NOT NULL,
	href            TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT ctas_natural_key UNIQUE (organization_id, page_url, text, placement)
);

CREATE INDEX IF NOT EXISTS idx_ctas_org ON ctas(organization_id);

CREATE TABLE IF NOT EXISTS audience_scenarios (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	snapshot_id  TEXT NOT NULL REFERENCES intelligence_snapshots(id),
	priority     INTEGER NOT NULL,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	demographics TEXT NOT NULL DEFAULT '',
	pain_points  JSONB,
	pitch        JSONB,
	image_ref    TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scenarios_snapshot ON audience_scenarios(snapshot_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanOrganization(row pgx.Row) (*model.Organization, error) {
	var o model.Organization
	var userID, sessionID *string
	err := row.Scan(&o.ID, &o.Slug, &o.URL, &o.Domain, &o.Name, &o.BusinessType, &o.Description,
		&o.TargetAudience, &o.BrandVoice, &userID, &sessionID, &o.LastAnalyzedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if userID != nil {
		o.Owner.UserID = *userID
	}
	if sessionID != nil {
		o.Owner.SessionID = *sessionID
	}
	return &o, nil
}

// UpsertOrganization inserts a new organization or updates the existing row
// for the same (owner, url) scope. Slug collisions are retried with
// timestamp-disambiguated slugs; an (owner, url) collision means another
// request created the row first, in which case that row is re-fetched and
// updated instead.
func (s *PostgresStore) UpsertOrganization(ctx context.Context, org *model.Organization) (*model.Organization, error) {
	if err := org.Owner.Validate(); err != nil {
		return nil, eris.Wrap(err, "postgres: upsert organization")
	}
	ownerKey := OwnerKey(org.Owner)

	existing, err := s.getByOwnerURL(ctx, ownerKey, org.URL)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.updateOrganization(ctx, existing.ID, existing.Slug, org)
	}

	now := time.Now().UTC()
	id := uuid.New().String()
	slug := org.Slug
	if slug == "" {
		slug = model.Slugify(org.Name)
	}
	if slug == "" {
		slug = model.Slugify(org.Domain)
	}
	baseSlug := slug

	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO organizations (id, slug, url, domain, name, business_type, description, target_audience, brand_voice, owner_user_id, owner_session_id, owner_key, last_analyzed_at, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			id, slug, org.URL, org.Domain, org.Name, org.BusinessType, org.Description,
			org.TargetAudience, org.BrandVoice, nullable(org.Owner.UserID), nullable(org.Owner.SessionID),
			ownerKey, now, now, now,
		)
		if err == nil {
			out := *org
			out.ID = id
			out.Slug = slug
			out.LastAnalyzedAt = now
			out.CreatedAt = now
			out.UpdatedAt = now
			return &out, nil
		}

		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
			return nil, eris.Wrapf(err, "postgres: insert organization %s", org.URL)
		}
		if pgErr.ConstraintName == "organizations_owner_url_key" {
			// Lost the creation race: the row exists now, update it.
			winner, ferr := s.getByOwnerURL(ctx, ownerKey, org.URL)
			if ferr != nil {
				return nil, ferr
			}
			if winner == nil {
				return nil, eris.Wrap(err, "postgres: organization vanished after conflict")
			}
			return s.updateOrganization(ctx, winner.ID, winner.Slug, org)
		}
		// Slug collision with a different owner's organization.
		zap.L().Debug("postgres: slug collision, retrying",
			zap.String("slug", slug), zap.Int("attempt", attempt+1))
		slug = model.DisambiguateSlug(baseSlug, time.Now().UTC().Add(time.Duration(attempt)*time.Second))
	}
	return nil, eris.Wrapf(err, "postgres: slug disambiguation exhausted for %s", org.URL)
}

func (s *PostgresStore) getByOwnerURL(ctx context.Context, ownerKey, url string) (*model.Organization, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE owner_key = $1 AND url = $2`,
		ownerKey, url,
	)
	o, err := scanOrganization(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get organization by owner/url %s", url)
	}
	return o, nil
}

func (s *PostgresStore) updateOrganization(ctx context.Context, id, slug string, org *model.Organization) (*model.Organization, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`UPDATE organizations SET name = $1, business_type = $2, description = $3, target_audience = $4, brand_voice = $5, last_analyzed_at = $6, updated_at = $7 WHERE id = $8`,
		org.Name, org.BusinessType, org.Description, org.TargetAudience, org.BrandVoice, now, now, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update organization %s", id)
	}
	out := *org
	out.ID = id
	out.Slug = slug
	out.LastAnalyzedAt = now
	out.UpdatedAt = now
	return &out, nil
}

// FindOrganizationByURL returns the most recently analyzed organization
// whose URL matches any of the given variants and whose last analysis is at
// or after the freshness cutoff. Returns nil without error on a miss.
func (s *PostgresStore) FindOrganizationByURL(ctx context.Context, variants []string, since time.Time) (*model.Organization, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE url = ANY($1) AND last_analyzed_at >= $2 ORDER BY last_analyzed_at DESC LIMIT 1`,
		variants, since,
	)
	o, err := scanOrganization(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find organization by url")
	}
	return o, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id)
	o, err := scanOrganization(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get organization %s", id)
	}
	return o, nil
}

// InsertSnapshot writes a new current snapshot, clearing the is_current
// flag on all prior snapshots for the organization in the same transaction.
func (s *PostgresStore) InsertSnapshot(ctx context.Context, snap *model.IntelligenceSnapshot) (*model.IntelligenceSnapshot, error) {
	analysisJSON, err := json.Marshal(snap.Analysis)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal analysis")
	}
	cardsJSON, err := json.Marshal(snap.Cards)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal cards")
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin snapshot tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE intelligence_snapshots SET is_current = false WHERE organization_id = $1 AND is_current`,
		snap.OrganizationID,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: clear current snapshot for %s", snap.OrganizationID)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO intelligence_snapshots (id, organization_id, analysis, narrative, confidence, cards, is_current, created_at) VALUES ($1, $2, $3, $4, $5, $6, true, $7)`,
		id, snap.OrganizationID, analysisJSON, nullable(snap.Narrative), snap.Confidence, cardsJSON, now,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: insert snapshot for %s", snap.OrganizationID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit snapshot tx")
	}

	out := *snap
	out.ID = id
	out.IsCurrent = true
	out.CreatedAt = now
	return &out, nil
}

func scanSnapshot(row pgx.Row) (*model.IntelligenceSnapshot, error) {
	var snap model.IntelligenceSnapshot
	var analysisJSON, cardsJSON []byte
	var narrative *string
	err := row.Scan(&snap.ID, &snap.OrganizationID, &analysisJSON, &narrative, &snap.Confidence, &cardsJSON, &snap.IsCurrent, &snap.CreatedAt)
	if err != nil {
		return nil, err
	}
	if narrative != nil {
		snap.Narrative = *narrative
	}
	if err := json.Unmarshal(analysisJSON, &snap.Analysis); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal analysis")
	}
	if len(cardsJSON) > 0 {
		if err := json.Unmarshal(cardsJSON, &snap.Cards); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal cards")
		}
	}
	return &snap, nil
}

// GetCurrentSnapshot returns the current snapshot for an organization, or
// nil if none exists.
func (s *PostgresStore) GetCurrentSnapshot(ctx context.Context, orgID string) (*model.IntelligenceSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, organization_id, analysis, narrative, confidence, cards, is_current, created_at FROM intelligence_snapshots WHERE organization_id = $1 AND is_current LIMIT 1`,
		orgID,
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get current snapshot for %s", orgID)
	}
	return snap, nil
}

// UpdateSnapshotNarrative amends narrative fields on an existing snapshot
// in place (backfill path).
func (s *PostgresStore) UpdateSnapshotNarrative(ctx context.Context, snapshotID, narrative string, confidence float64, cards []model.InsightCard) error {
	cardsJSON, err := json.Marshal(cards)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal cards")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE intelligence_snapshots SET narrative = $1, confidence = $2, cards = $3 WHERE id = $4`,
		narrative, confidence, cardsJSON, snapshotID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update snapshot narrative %s", snapshotID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("snapshot not found: %s", snapshotID)
	}
	return nil
}

// ReplaceCTAs deletes the organization's CTA set and inserts the new one.
// Individual insert failures are logged and skipped; the returned count is
// the number of rows actually written.
func (s *PostgresStore) ReplaceCTAs(ctx context.Context, orgID string, ctas []model.CTA) (int, error) {
	if _, err := s.pool.Exec(ctx, `DELETE FROM ctas WHERE organization_id = $1`, orgID); err != nil {
		return 0, eris.Wrapf(err, "postgres: delete ctas for %s", orgID)
	}

	inserted := 0
	for _, cta := range ctas {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO ctas (id, organization_id, page_url, text, placement, href) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT ON CONSTRAINT ctas_natural_key DO NOTHING`,
			uuid.New().String(), orgID, cta.PageURL, cta.Text, cta.Placement, cta.Href,
		)
		if err != nil {
			zap.L().Warn("postgres: cta insert failed, skipping",
				zap.String("org_id", orgID),
				zap.String("text", cta.Text),
				zap.Error(err),
			)
			continue
		}
		inserted++
	}
	return inserted, nil
}

func (s *PostgresStore) GetCTAs(ctx context.Context, orgID string) ([]model.CTA, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT organization_id, page_url, text, placement, href FROM ctas WHERE organization_id = $1 ORDER BY page_url, placement, text`,
		orgID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get ctas for %s", orgID)
	}
	defer rows.Close()

	var ctas []model.CTA
	for rows.Next() {
		var c model.CTA
		if err := rows.Scan(&c.OrganizationID, &c.PageURL, &c.Text, &c.Placement, &c.Href); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cta")
		}
		ctas = append(ctas, c)
	}
	return ctas, eris.Wrap(rows.Err(), "postgres: get ctas iterate")
}

// InsertScenarios bulk-inserts scenario rows using the COPY protocol.
func (s *PostgresStore) InsertScenarios(ctx context.Context, scenarios []model.AudienceScenario) error {
	if len(scenarios) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(scenarios))
	for i := range scenarios {
		sc := &scenarios[i]
		if sc.ID == "" {
			sc.ID = uuid.New().String()
		}
		if sc.CreatedAt.IsZero() {
			sc.CreatedAt = now
		}
		painJSON, err := json.Marshal(sc.PainPoints)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal pain points")
		}
		pitchJSON, err := json.Marshal(sc.Pitch)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal pitch")
		}
		rows = append(rows, []any{
			sc.ID, sc.SnapshotID, sc.Priority, sc.Name, sc.Description, sc.Demographics,
			painJSON, pitchJSON, sc.ImageRef, sc.CreatedAt,
		})
	}

	_, err := db.CopyFrom(ctx, s.pool, "audience_scenarios",
		[]string{"id", "snapshot_id", "priority", "name", "description", "demographics", "pain_points", "pitch", "image_ref", "created_at"},
		rows,
	)
	return eris.Wrap(err, "postgres: insert scenarios")
}

func (s *PostgresStore) ListScenarios(ctx context.Context, snapshotID string) ([]model.AudienceScenario, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, snapshot_id, priority, name, description, demographics, pain_points, pitch, image_ref, created_at FROM audience_scenarios WHERE snapshot_id = $1 ORDER BY priority`,
		snapshotID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list scenarios for %s", snapshotID)
	}
	defer rows.Close()

	var out []model.AudienceScenario
	for rows.Next() {
		var sc model.AudienceScenario
		var painJSON, pitchJSON []byte
		if err := rows.Scan(&sc.ID, &sc.SnapshotID, &sc.Priority, &sc.Name, &sc.Description, &sc.Demographics, &painJSON, &pitchJSON, &sc.ImageRef, &sc.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scenario")
		}
		if len(painJSON) > 0 {
			if err := json.Unmarshal(painJSON, &sc.PainPoints); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal pain points")
			}
		}
		if len(pitchJSON) > 0 && string(pitchJSON) != "null" {
			sc.Pitch = &model.Pitch{}
			if err := json.Unmarshal(pitchJSON, sc.Pitch); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal pitch")
			}
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list scenarios iterate")
}

// ListOwnerAudiences returns the distinct audience scenario names already
// generated for any of the owner's organizations, for dedup during
// generation.
func (s *PostgresStore) ListOwnerAudiences(ctx context.Context, owner model.Owner) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT a.name FROM audience_scenarios a
		 JOIN intelligence_snapshots s ON s.id = a.snapshot_id
		 JOIN organizations o ON o.id = s.organization_id
		 WHERE o.owner_key = $1 ORDER BY a.name`,
		OwnerKey(owner),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list owner audiences")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audience name")
		}
		names = append(names, name)
	}
	return names, eris.Wrap(rows.Err(), "postgres: list owner audiences iterate")
}
