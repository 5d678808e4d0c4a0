package store

import (
	"context"
	"time"

	"github.com/sitelens/intel-cli/internal/model"
)

// Store defines the persistence interface for the intelligence pipeline.
// All owner-scoped operations take a model.Owner that is either a user id
// or an anonymous session id, never both.
type Store interface {
	// Organizations
	UpsertOrganization(ctx context.Context, org *model.Organization) (*model.Organization, error)
	FindOrganizationByURL(ctx context.Context, variants []string, since time.Time) (*model.Organization, error)
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)

	// Intelligence snapshots
	InsertSnapshot(ctx context.Context, snap *model.IntelligenceSnapshot) (*model.IntelligenceSnapshot, error)
	GetCurrentSnapshot(ctx context.Context, orgID string) (*model.IntelligenceSnapshot, error)
	UpdateSnapshotNarrative(ctx context.Context, snapshotID, narrative string, confidence float64, cards []model.InsightCard) error

	// CTAs
	ReplaceCTAs(ctx context.Context, orgID string, ctas []model.CTA) (int, error)
	GetCTAs(ctx context.Context, orgID string) ([]model.CTA, error)

	// Audience scenarios
	InsertScenarios(ctx context.Context, scenarios []model.AudienceScenario) error
	ListScenarios(ctx context.Context, snapshotID string) ([]model.AudienceScenario, error)
	ListOwnerAudiences(ctx context.Context, owner model.Owner) ([]string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// OwnerKey collapses an Owner into the single scoping column used by the
// (owner, url) uniqueness constraint.
func OwnerKey(o model.Owner) string {
	if o.UserID != "" {
		return "user:" + o.UserID
	}
	return "session:" + o.SessionID
}
