package intel

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sitelens/intel-cli/internal/model"
)

// locate finds a fresh cached analysis for a URL. Freshness is validated
// independently on the organization row (last_analyzed_at) and its current
// snapshot (created_at); both must be within TTL for a hit. No side
// effects.
func (p *Pipeline) locate(ctx context.Context, rawURL string, now time.Time) (*model.Organization, *model.IntelligenceSnapshot, error) {
	since := now.Add(-p.cacheTTL())

	org, err := p.store.FindOrganizationByURL(ctx, model.URLVariants(rawURL), since)
	if err != nil {
		return nil, nil, eris.Wrap(err, "intel: cache lookup")
	}
	if org == nil {
		return nil, nil, nil
	}

	snap, err := p.store.GetCurrentSnapshot(ctx, org.ID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "intel: cache snapshot lookup")
	}
	if snap == nil || snap.CreatedAt.Before(since) {
		return nil, nil, nil
	}

	return org, snap, nil
}
