package intel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestLocate_Miss(t *testing.T) {
	f := newFixture()
	f.store.On("FindOrganizationByURL", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	org, snap, err := f.p.locate(context.Background(), testURL, time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, org)
	assert.Nil(t, snap)
}

func TestLocate_QueriesAllURLVariants(t *testing.T) {
	f := newFixture()
	now := time.Now().UTC()
	var variants []string
	f.store.On("FindOrganizationByURL", mock.Anything, mock.Anything, now.Add(-30*24*time.Hour)).
		Run(func(args mock.Arguments) {
			variants = args.Get(1).([]string)
		}).
		Return(nil, nil)

	_, _, err := f.p.locate(context.Background(), "https://www.acme.test/", now)
	require.NoError(t, err)
	assert.Contains(t, variants, "https://www.acme.test/")
	assert.Contains(t, variants, "https://acme.test")
	assert.Contains(t, variants, "http://acme.test")
}

func TestLocate_StaleSnapshotIsMiss(t *testing.T) {
	f := newFixture()
	now := time.Now().UTC()
	f.store.On("FindOrganizationByURL", mock.Anything, mock.Anything, mock.Anything).Return(cachedOrg(), nil)
	stale := cachedSnapshot(sampleNarrativeText)
	stale.CreatedAt = now.Add(-40 * 24 * time.Hour)
	f.store.On("GetCurrentSnapshot", mock.Anything, "org-1").Return(stale, nil)

	org, snap, err := f.p.locate(context.Background(), testURL, now)
	require.NoError(t, err)
	assert.Nil(t, org)
	assert.Nil(t, snap)
}

func TestLocate_NoCurrentSnapshotIsMiss(t *testing.T) {
	f := newFixture()
	f.store.On("FindOrganizationByURL", mock.Anything, mock.Anything, mock.Anything).Return(cachedOrg(), nil)
	f.store.On("GetCurrentSnapshot", mock.Anything, "org-1").Return(nil, nil)

	org, _, err := f.p.locate(context.Background(), testURL, time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, org)
}

func TestLocate_Hit(t *testing.T) {
	f := newFixture()
	f.store.On("FindOrganizationByURL", mock.Anything, mock.Anything, mock.Anything).Return(cachedOrg(), nil)
	f.store.On("GetCurrentSnapshot", mock.Anything, "org-1").Return(cachedSnapshot(sampleNarrativeText), nil)

	org, snap, err := f.p.locate(context.Background(), testURL, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, org)
	require.NotNil(t, snap)
	assert.Equal(t, "org-1", org.ID)
	assert.Equal(t, "snap-1", snap.ID)
}
