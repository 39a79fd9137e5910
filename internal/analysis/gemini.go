package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/config"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/telemetry"
)

const systemPrompt = `You are a financial analyst reviewing a nonprofit service provider.
You are given the organization's tax filing, an optional provider profile from the
state licensing directory, an optional state quality review, and a multi-year
financial summary. Write a concise narrative assessment covering financial health,
spending trends, and any notable findings from the licensing documents. Ground
every statement in the supplied documents; say "not available" rather than guess.`

// GeminiAnalyzer implements Analyzer on the Gemini API.
type GeminiAnalyzer struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiAnalyzer creates an analyzer from the analysis configuration.
func NewGeminiAnalyzer(cfg *config.AnalysisConfig) (*GeminiAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("analysis API key is required")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiAnalyzer{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.RequestTimeout,
	}, nil
}

// Analyze submits the documents and financial summary to the model and
// returns its narrative.
func (a *GeminiAnalyzer) Analyze(ctx context.Context, req Request) (*Report, error) {
	if req.Form990 == nil {
		telemetry.AnalysisRequestsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("analysis requires a filing document")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	parts := []*genai.Part{
		genai.NewPartFromText(a.buildPrompt(req)),
		genai.NewPartFromBytes(req.Form990, "application/pdf"),
	}
	if req.ProviderProfile != nil {
		parts = append(parts, genai.NewPartFromBytes(req.ProviderProfile, "application/pdf"))
	}
	if req.QualityReport != nil {
		parts = append(parts, genai.NewPartFromBytes(req.QualityReport, "application/pdf"))
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		},
	)
	if err != nil {
		telemetry.AnalysisRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}

	narrative := strings.TrimSpace(resp.Text())
	if narrative == "" {
		telemetry.AnalysisRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("empty analysis response")
	}

	telemetry.AnalysisRequestsTotal.WithLabelValues("ok").Inc()
	return &Report{
		Narrative:   narrative,
		Model:       a.model,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// buildPrompt renders the per-request context that accompanies the
// documents.
func (a *GeminiAnalyzer) buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Organization: %s (EIN %s)\n\n", req.OrgName, req.EIN)
	if req.FinancialSummary != "" {
		b.WriteString("Financial summary:\n")
		b.WriteString(req.FinancialSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("Attached documents, in order: tax filing")
	if req.ProviderProfile != nil {
		b.WriteString(", licensing profile")
	}
	if req.QualityReport != nil {
		b.WriteString(", quality review")
	}
	b.WriteString(".")
	return b.String()
}
