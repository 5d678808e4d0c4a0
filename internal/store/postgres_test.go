package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitelens/intel-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

// anyArgs returns n pgxmock.AnyArg matchers for statements whose exact
// argument values are not under test.
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func orgRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "slug", "url", "domain", "name", "business_type", "description",
		"target_audience", "brand_voice", "owner_user_id", "owner_session_id",
		"last_analyzed_at", "created_at", "updated_at",
	})
}

func addOrgRow(rows *pgxmock.Rows, id, slug, url string) *pgxmock.Rows {
	now := time.Now().UTC()
	userID := "u1"
	return rows.AddRow(id, slug, url, "acme.test", "Acme", "saas", "desc", "devs", "direct",
		&userID, nil, now, now, now)
}

func TestPostgresStore_FindOrganizationByURL_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM organizations WHERE url = ANY`).
		WithArgs([]string{"https://unknown.test"}, pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	org, err := s.FindOrganizationByURL(context.Background(), []string{"https://unknown.test"}, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, org)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindOrganizationByURL_Hit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	variants := []string{"https://acme.test", "http://acme.test"}
	mock.ExpectQuery(`SELECT .* FROM organizations WHERE url = ANY`).
		WithArgs(variants, pgxmock.AnyArg()).
		WillReturnRows(addOrgRow(orgRows(), "org-1", "acme", "https://acme.test"))

	org, err := s.FindOrganizationByURL(context.Background(), variants, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, org)
	assert.Equal(t, "org-1", org.ID)
	assert.Equal(t, "u1", org.Owner.UserID)
	assert.Empty(t, org.Owner.SessionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertOrganization_Insert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM organizations WHERE owner_key = \$1 AND url = \$2`).
		WithArgs("user:u1", "https://acme.test").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO organizations`).
		WithArgs(anyArgs(15)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	org, err := s.UpsertOrganization(context.Background(), &model.Organization{
		URL:    "https://acme.test",
		Domain: "acme.test",
		Name:   "Acme",
		Owner:  model.Owner{UserID: "u1"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, org.ID)
	assert.Equal(t, "acme", org.Slug)
	assert.False(t, org.LastAnalyzedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertOrganization_UpdateExisting(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM organizations WHERE owner_key = \$1 AND url = \$2`).
		WithArgs("user:u1", "https://acme.test").
		WillReturnRows(addOrgRow(orgRows(), "org-1", "acme", "https://acme.test"))
	mock.ExpectExec(`UPDATE organizations SET name`).
		WithArgs(anyArgs(8)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	org, err := s.UpsertOrganization(context.Background(), &model.Organization{
		URL:   "https://acme.test",
		Name:  "Acme Renamed",
		Owner: model.Owner{UserID: "u1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "org-1", org.ID)
	assert.Equal(t, "acme", org.Slug, "existing slug preserved on update")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertOrganization_SlugCollisionRetries(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM organizations WHERE owner_key`).
		WithArgs(anyArgs(2)...).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO organizations`).
		WithArgs(anyArgs(15)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "organizations_slug_key"})
	mock.ExpectExec(`INSERT INTO organizations`).
		WithArgs(anyArgs(15)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	org, err := s.UpsertOrganization(context.Background(), &model.Organization{
		URL:    "https://acme.test",
		Domain: "acme.test",
		Name:   "Acme",
		Owner:  model.Owner{SessionID: "s1"},
	})
	require.NoError(t, err)
	assert.Contains(t, org.Slug, "acme-", "second attempt uses a disambiguated slug")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertOrganization_OwnerURLRaceResolved(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM organizations WHERE owner_key`).
		WithArgs(anyArgs(2)...).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO organizations`).
		WithArgs(anyArgs(15)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "organizations_owner_url_key"})
	// The racing request's row is re-fetched and updated instead of failing.
	mock.ExpectQuery(`SELECT .* FROM organizations WHERE owner_key`).
		WithArgs(anyArgs(2)...).
		WillReturnRows(addOrgRow(orgRows(), "org-winner", "acme", "https://acme.test"))
	mock.ExpectExec(`UPDATE organizations SET name`).
		WithArgs(anyArgs(8)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	org, err := s.UpsertOrganization(context.Background(), &model.Organization{
		URL:   "https://acme.test",
		Name:  "Acme",
		Owner: model.Owner{UserID: "u1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "org-winner", org.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertOrganization_RejectsInvalidOwner(t *testing.T) {
	s, _ := newMockPostgresStore(t)

	_, err := s.UpsertOrganization(context.Background(), &model.Organization{URL: "https://acme.test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner")
}

func TestPostgresStore_InsertSnapshot_FlipsCurrent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE intelligence_snapshots SET is_current = false`).
		WithArgs("org-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO intelligence_snapshots`).
		WithArgs(anyArgs(7)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	snap, err := s.InsertSnapshot(context.Background(), &model.IntelligenceSnapshot{
		OrganizationID: "org-1",
		Analysis:       model.BusinessAnalysis{BusinessType: "saas"},
	})
	require.NoError(t, err)
	assert.True(t, snap.IsCurrent)
	assert.NotEmpty(t, snap.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCurrentSnapshot_None(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM intelligence_snapshots WHERE organization_id`).
		WithArgs("org-1").
		WillReturnError(pgx.ErrNoRows)

	snap, err := s.GetCurrentSnapshot(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSnapshotNarrative_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE intelligence_snapshots SET narrative`).
		WithArgs(anyArgs(4)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateSnapshotNarrative(context.Background(), "snap-missing", "text", 0.8, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "snapshot not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceCTAs_SkipsFailedInserts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM ctas`).
		WithArgs("org-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`INSERT INTO ctas`).
		WithArgs(anyArgs(6)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO ctas`).
		WithArgs(anyArgs(6)...).
		WillReturnError(&pgconn.PgError{Code: "22001", Message: "value too long"})
	mock.ExpectExec(`INSERT INTO ctas`).
		WithArgs(anyArgs(6)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := s.ReplaceCTAs(context.Background(), "org-1", []model.CTA{
		{PageURL: "https://acme.test", Text: "Sign up", Placement: "hero"},
		{PageURL: "https://acme.test", Text: "Bad", Placement: "nav"},
		{PageURL: "https://acme.test", Text: "Contact", Placement: "footer"},
	})
	require.NoError(t, err, "individual insert failures don't fail the replace")
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertScenarios_CopyFrom(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"audience_scenarios"},
		[]string{"id", "snapshot_id", "priority", "name", "description", "demographics", "pain_points", "pitch", "image_ref", "created_at"}).
		WillReturnResult(2)

	err := s.InsertScenarios(context.Background(), []model.AudienceScenario{
		{SnapshotID: "snap-1", Priority: 1, Name: "Indie developers"},
		{SnapshotID: "snap-1", Priority: 2, Name: "Agency teams", Pitch: &model.Pitch{Headline: "Scale it"}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListOwnerAudiences(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"name"}).AddRow("Agency teams").AddRow("Indie developers")
	mock.ExpectQuery(`SELECT DISTINCT a.name FROM audience_scenarios`).
		WithArgs("session:s1").
		WillReturnRows(rows)

	names, err := s.ListOwnerAudiences(context.Background(), model.Owner{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Agency teams", "Indie developers"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}
