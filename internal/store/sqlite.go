package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sitelens/intel-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS organizations (
	id               TEXT PRIMARY KEY,
	slug             TEXT NOT NULL UNIQUE,
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
	last_analyzed_at DATETIME NOT NULL,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL,
	UNIQUE (owner_key, url)
);

CREATE INDEX IF NOT EXISTS idx_organizations_url ON organizations(url);
CREATE INDEX IF NOT EXISTS idx_organizations_last_analyzed ON organizations(last_analyzed_at DESC);

CREATE TABLE IF NOT EXISTS intelligence_snapshots (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	analysis        TEXT NOT NULL,
	narrative       TEXT,
	confidence      REAL NOT NULL DEFAULT 0,
	cards           TEXT,
	is_current      INTEGER NOT NULL DEFAULT 1,
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_org ON intelligence_snapshots(organization_id);

CREATE TABLE IF NOT EXISTS ctas (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL REFERENCES organizations(id),
	page_url        TEXT NOT NULL,
	text            TEXT NOT NULL,
	placement       TEXT NOT NULL,
	href            TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL,
	UNIQUE (organization_id, page_url, text, placement)
);

CREATE TABLE IF NOT EXISTS audience_scenarios (
	id           TEXT PRIMARY KEY,
	snapshot_id  TEXT NOT NULL REFERENCES intelligence_snapshots(id),
	priority     INTEGER NOT NULL,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	demographics TEXT NOT NULL DEFAULT '',
	pain_points  TEXT,
	pitch        TEXT,
	image_ref    TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scenarios_snapshot ON audience_scenarios(snapshot_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanOrgRow(row *sql.Row) (*model.Organization, error) {
	var o model.Organization
	var userID, sessionID sql.NullString
	err := row.Scan(&o.ID, &o.Slug, &o.URL, &o.Domain, &o.Name, &o.BusinessType, &o.Description,
		&o.TargetAudience, &o.BrandVoice, &userID, &sessionID, &o.LastAnalyzedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.Owner.UserID = userID.String
	o.Owner.SessionID = sessionID.String
	return &o, nil
}

func (s *SQLiteStore) UpsertOrganization(ctx context.Context, org *model.Organization) (*model.Organization, error) {
	if err := org.Owner.Validate(); err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert organization")
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
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO organizations (id, slug, url, domain, name, business_type, description, target_audience, brand_voice, owner_user_id, owner_session_id, owner_key, last_analyzed_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, slug, org.URL, org.Domain, org.Name, org.BusinessType, org.Description,
			org.TargetAudience, org.BrandVoice, nullString(org.Owner.UserID), nullString(org.Owner.SessionID),
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

		msg := err.Error()
		switch {
		case strings.Contains(msg, "organizations.owner_key"):
			winner, ferr := s.getByOwnerURL(ctx, ownerKey, org.URL)
			if ferr != nil {
				return nil, ferr
			}
			if winner == nil {
				return nil, eris.Wrap(err, "sqlite: organization vanished after conflict")
			}
			return s.updateOrganization(ctx, winner.ID, winner.Slug, org)
		case strings.Contains(msg, "organizations.slug"):
			zap.L().Debug("sqlite: slug collision, retrying",
				zap.String("slug", slug), zap.Int("attempt", attempt+1))
			slug = model.DisambiguateSlug(baseSlug, time.Now().UTC().Add(time.Duration(attempt)*time.Second))
		default:
			return nil, eris.Wrapf(err, "sqlite: insert organization %s", org.URL)
		}
	}
	return nil, eris.Wrapf(err, "sqlite: slug disambiguation exhausted for %s", org.URL)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *SQLiteStore) getByOwnerURL(ctx context.Context, ownerKey, url string) (*model.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE owner_key = ? AND url = ?`,
		ownerKey, url,
	)
	o, err := scanOrgRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get organization by owner/url %s", url)
	}
	return o, nil
}

func (s *SQLiteStore) updateOrganization(ctx context.Context, id, slug string, org *model.Organization) (*model.Organization, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE organizations SET name = ?, business_type = ?, description = ?, target_audience = ?, brand_voice = ?, last_analyzed_at = ?, updated_at = ? WHERE id = ?`,
		org.Name, org.BusinessType, org.Description, org.TargetAudience, org.BrandVoice, now, now, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update organization %s", id)
	}
	out := *org
	out.ID = id
	out.Slug = slug
	out.LastAnalyzedAt = now
	out.UpdatedAt = now
	return &out, nil
}

func (s *SQLiteStore) FindOrganizationByURL(ctx context.Context, variants []string, since time.Time) (*model.Organization, error) {
	if len(variants) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(variants)), ",")
	args := make([]any, 0, len(variants)+1)
	for _, v := range variants {
		args = append(args, v)
	}
	args = append(args, since)

	row := s.db.QueryRowContext(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE url IN (`+placeholders+`) AND last_analyzed_at >= ? ORDER BY last_analyzed_at DESC LIMIT 1`,
		args...,
	)
	o, err := scanOrgRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find organization by url")
	}
	return o, nil
}

func (s *SQLiteStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = ?`, id)
	o, err := scanOrgRow(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get organization %s", id)
	}
	return o, nil
}

func (s *SQLiteStore) InsertSnapshot(ctx context.Context, snap *model.IntelligenceSnapshot) (*model.IntelligenceSnapshot, error) {
	analysisJSON, err := json.Marshal(snap.Analysis)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal analysis")
	}
	cardsJSON, err := json.Marshal(snap.Cards)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal cards")
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin snapshot tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE intelligence_snapshots SET is_current = 0 WHERE organization_id = ? AND is_current = 1`,
		snap.OrganizationID,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: clear current snapshot for %s", snap.OrganizationID)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO intelligence_snapshots (id, organization_id, analysis, narrative, confidence, cards, is_current, created_at) VALUES (?, ?, ?, ?, ?, ?, 1, ?)`,
		id, snap.OrganizationID, string(analysisJSON), nullString(snap.Narrative), snap.Confidence, string(cardsJSON), now,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert snapshot for %s", snap.OrganizationID)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit snapshot tx")
	}

	out := *snap
	out.ID = id
	out.IsCurrent = true
	out.CreatedAt = now
	return &out, nil
}

func (s *SQLiteStore) GetCurrentSnapshot(ctx context.Context, orgID string) (*model.IntelligenceSnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, analysis, narrative, confidence, cards, is_current, created_at FROM intelligence_snapshots WHERE organization_id = ? AND is_current = 1 LIMIT 1`,
		orgID,
	)

	var snap model.IntelligenceSnapshot
	var analysisJSON string
	var narrative, cardsJSON sql.NullString
	err := row.Scan(&snap.ID, &snap.OrganizationID, &analysisJSON, &narrative, &snap.Confidence, &cardsJSON, &snap.IsCurrent, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get current snapshot for %s", orgID)
	}
	snap.Narrative = narrative.String
	if err := json.Unmarshal([]byte(analysisJSON), &snap.Analysis); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal analysis")
	}
	if cardsJSON.Valid && cardsJSON.String != "" {
		if err := json.Unmarshal([]byte(cardsJSON.String), &snap.Cards); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal cards")
		}
	}
	return &snap, nil
}

func (s *SQLiteStore) UpdateSnapshotNarrative(ctx context.Context, snapshotID, narrative string, confidence float64, cards []model.InsightCard) error {
	cardsJSON, err := json.Marshal(cards)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal cards")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE intelligence_snapshots SET narrative = ?, confidence = ?, cards = ? WHERE id = ?`,
		narrative, confidence, string(cardsJSON), snapshotID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update snapshot narrative %s", snapshotID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("snapshot not found: %s", snapshotID)
	}
	return nil
}

func (s *SQLiteStore) ReplaceCTAs(ctx context.Context, orgID string, ctas []model.CTA) (int, error) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM ctas WHERE organization_id = ?`, orgID); err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete ctas for %s", orgID)
	}

	now := time.Now().UTC()
	inserted := 0
	for _, cta := range ctas {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO ctas (id, organization_id, page_url, text, placement, href, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), orgID, cta.PageURL, cta.Text, cta.Placement, cta.Href, now,
		)
		if err != nil {
			zap.L().Warn("sqlite: cta insert failed, skipping",
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

func (s *SQLiteStore) GetCTAs(ctx context.Context, orgID string) ([]model.CTA, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT organization_id, page_url, text, placement, href FROM ctas WHERE organization_id = ? ORDER BY page_url, placement, text`,
		orgID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get ctas for %s", orgID)
	}
	defer rows.Close()

	var ctas []model.CTA
	for rows.Next() {
		var c model.CTA
		if err := rows.Scan(&c.OrganizationID, &c.PageURL, &c.Text, &c.Placement, &c.Href); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cta")
		}
		ctas = append(ctas, c)
	}
	return ctas, eris.Wrap(rows.Err(), "sqlite: get ctas iterate")
}

func (s *SQLiteStore) InsertScenarios(ctx context.Context, scenarios []model.AudienceScenario) error {
	now := time.Now().UTC()
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
			return eris.Wrap(err, "sqlite: marshal pain points")
		}
		pitchJSON, err := json.Marshal(sc.Pitch)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal pitch")
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO audience_scenarios (id, snapshot_id, priority, name, description, demographics, pain_points, pitch, image_ref, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sc.ID, sc.SnapshotID, sc.Priority, sc.Name, sc.Description, sc.Demographics,
			string(painJSON), string(pitchJSON), sc.ImageRef, sc.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert scenario %s", sc.Name)
		}
	}
	return nil
}

func (s *SQLiteStore) ListScenarios(ctx context.Context, snapshotID string) ([]model.AudienceScenario, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, snapshot_id, priority, name, description, demographics, pain_points, pitch, image_ref, created_at FROM audience_scenarios WHERE snapshot_id = ? ORDER BY priority`,
		snapshotID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list scenarios for %s", snapshotID)
	}
	defer rows.Close()

	var out []model.AudienceScenario
	for rows.Next() {
		var sc model.AudienceScenario
		var painJSON, pitchJSON sql.NullString
		if err := rows.Scan(&sc.ID, &sc.SnapshotID, &sc.Priority, &sc.Name, &sc.Description, &sc.Demographics, &painJSON, &pitchJSON, &sc.ImageRef, &sc.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scenario")
		}
		if painJSON.Valid && painJSON.String != "" && painJSON.String != "null" {
			if err := json.Unmarshal([]byte(painJSON.String), &sc.PainPoints); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal pain points")
			}
		}
		if pitchJSON.Valid && pitchJSON.String != "" && pitchJSON.String != "null" {
			sc.Pitch = &model.Pitch{}
			if err := json.Unmarshal([]byte(pitchJSON.String), sc.Pitch); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal pitch")
			}
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list scenarios iterate")
}

func (s *SQLiteStore) ListOwnerAudiences(ctx context.Context, owner model.Owner) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT a.name FROM audience_scenarios a
		 JOIN intelligence_snapshots s ON s.id = a.snapshot_id
		 JOIN organizations o ON o.id = s.organization_id
		 WHERE o.owner_key = ? ORDER BY a.name`,
		OwnerKey(owner),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list owner audiences")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audience name")
		}
		names = append(names, name)
	}
	return names, eris.Wrap(rows.Err(), "sqlite: list owner audiences iterate")
}
