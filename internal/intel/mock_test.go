package intel

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/sitelens/intel-cli/internal/model"
	"github.com/sitelens/intel-cli/pkg/scraper"
)

// --- Store mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) UpsertOrganization(ctx context.Context, org *model.Organization) (*model.Organization, error) {
	args := m.Called(ctx, org)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Organization), args.Error(1)
}

func (m *mockStore) FindOrganizationByURL(ctx context.Context, variants []string, since time.Time) (*model.Organization, error) {
	args := m.Called(ctx, variants, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Organization), args.Error(1)
}

func (m *mockStore) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Organization), args.Error(1)
}

func (m *mockStore) InsertSnapshot(ctx context.Context, snap *model.IntelligenceSnapshot) (*model.IntelligenceSnapshot, error) {
	args := m.Called(ctx, snap)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.IntelligenceSnapshot), args.Error(1)
}

func (m *mockStore) GetCurrentSnapshot(ctx context.Context, orgID string) (*model.IntelligenceSnapshot, error) {
	args := m.Called(ctx, orgID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.IntelligenceSnapshot), args.Error(1)
}

func (m *mockStore) UpdateSnapshotNarrative(ctx context.Context, snapshotID, narrative string, confidence float64, cards []model.InsightCard) error {
	args := m.Called(ctx, snapshotID, narrative, confidence, cards)
	return args.Error(0)
}

func (m *mockStore) ReplaceCTAs(ctx context.Context, orgID string, ctas []model.CTA) (int, error) {
	args := m.Called(ctx, orgID, ctas)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) GetCTAs(ctx context.Context, orgID string) ([]model.CTA, error) {
	args := m.Called(ctx, orgID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CTA), args.Error(1)
}

func (m *mockStore) InsertScenarios(ctx context.Context, scenarios []model.AudienceScenario) error {
	args := m.Called(ctx, scenarios)
	return args.Error(0)
}

func (m *mockStore) ListScenarios(ctx context.Context, snapshotID string) ([]model.AudienceScenario, error) {
	args := m.Called(ctx, snapshotID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AudienceScenario), args.Error(1)
}

func (m *mockStore) ListOwnerAudiences(ctx context.Context, owner model.Owner) ([]string, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Scraper mock ---

type mockScraper struct {
	mock.Mock
}

func (m *mockScraper) Scrape(ctx context.Context, url string, onProgress scraper.ProgressFunc) (*scraper.Result, error) {
	args := m.Called(ctx, url, onProgress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	if onProgress != nil {
		onProgress("fetch", "Fetching page", "")
		onProgress("parse", "Parsing HTML", "")
		onProgress("extract", "Extracting page structure", "")
		onProgress("convert", "Converting content", "")
	}
	return args.Get(0).(*scraper.Result), args.Error(1)
}

func (m *mockScraper) Name() string { return "mock" }

// --- AI client mock ---

type mockAI struct {
	mock.Mock
}

func (m *mockAI) Analyze(ctx context.Context, content, url string, onPhase func(string)) (*model.BusinessAnalysis, error) {
	args := m.Called(ctx, content, url, onPhase)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	if onPhase != nil {
		onPhase("prompt")
		onPhase("inference")
		onPhase("parse")
	}
	return args.Get(0).(*model.BusinessAnalysis), args.Error(1)
}

func (m *mockAI) GenerateAudienceScenarios(ctx context.Context, analysis *model.BusinessAnalysis, existing []string) ([]model.AudienceScenario, error) {
	args := m.Called(ctx, analysis, existing)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AudienceScenario), args.Error(1)
}

func (m *mockAI) GeneratePitches(ctx context.Context, scenarios []model.AudienceScenario, analysis *model.BusinessAnalysis) ([]model.AudienceScenario, error) {
	args := m.Called(ctx, scenarios, analysis)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.AudienceScenario), args.Error(1)
}

func (m *mockAI) GenerateNarrative(ctx context.Context, analysis *model.BusinessAnalysis, snapshot *model.IntelligenceSnapshot, ctas []model.CTA) (*Narration, error) {
	args := m.Called(ctx, analysis, snapshot, ctas)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Narration), args.Error(1)
}

func (m *mockAI) ScrapeObservation(ctx context.Context, result *scraper.Result) (string, error) {
	args := m.Called(ctx, result)
	return args.String(0), args.Error(1)
}

func (m *mockAI) CTAObservation(ctx context.Context, ctas []model.CTA) (string, error) {
	args := m.Called(ctx, ctas)
	return args.String(0), args.Error(1)
}

// --- Image generator mock ---

type mockImages struct {
	mock.Mock
}

func (m *mockImages) GenerateScenarioImage(ctx context.Context, scenario model.AudienceScenario, brand *model.BusinessAnalysis) (string, error) {
	args := m.Called(ctx, scenario, brand)
	return args.String(0), args.Error(1)
}
