package imagegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/sitelens/intel-cli/internal/model"
)

const defaultModel = "gemini-2.5-flash-image"

// Gemini generates scenario illustrations with a Gemini image model and
// returns them as data-URL references.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini image generator.
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, eris.Wrap(err, "imagegen: create client")
	}
	if modelName == "" {
		modelName = defaultModel
	}
	return &Gemini{client: client, model: modelName}, nil
}

// GenerateScenarioImage produces one illustrative image for an audience
// scenario, styled after the brand.
func (g *Gemini) GenerateScenarioImage(ctx context.Context, scenario model.AudienceScenario, brand *model.BusinessAnalysis) (string, error) {
	prompt := buildImagePrompt(scenario, brand)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{
		{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{genai.NewPartFromText(prompt)},
		},
	}, nil)
	if err != nil {
		return "", eris.Wrap(err, "imagegen: generate content")
	}

	ref, ok := extractImage(resp)
	if !ok {
		return "", eris.Errorf("imagegen: no image in response for scenario %q", scenario.Name)
	}
	zap.L().Debug("imagegen: image generated",
		zap.String("scenario", scenario.Name),
		zap.Int("ref_bytes", len(ref)))
	return ref, nil
}

func buildImagePrompt(scenario model.AudienceScenario, brand *model.BusinessAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "An illustrative marketing image of the customer segment %q: %s.",
		scenario.Name, scenario.Description)
	if scenario.Demographics != "" {
		fmt.Fprintf(&b, " Demographics: %s.", scenario.Demographics)
	}
	if brand != nil {
		if brand.BusinessType != "" {
			fmt.Fprintf(&b, " The business is a %s.", brand.BusinessType)
		}
		if brand.BrandVoice != "" {
			fmt.Fprintf(&b, " Match a %s brand tone.", brand.BrandVoice)
		}
	}
	b.WriteString(" No text in the image.")
	return b.String()
}

// extractImage pulls the first inline image from a response and encodes
// it as a data URL.
func extractImage(resp *genai.GenerateContentResponse) (string, bool) {
	if resp == nil {
		return "", false
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			mime := part.InlineData.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(part.InlineData.Data), true
		}
	}
	return "", false
}
