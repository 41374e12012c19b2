package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"ai-speech-intelligence-service/internal/models"
)

func sampleRecord() models.AnalysisRecord {
	owner := "Dana"
	due := "2026-06-30"
	badDue := "next week"
	mitigation := "Share roadmap"
	return models.AnalysisRecord{
		InteractionID:   uuid.NewString(),
		TenantID:        uuid.NewString(),
		TraceID:         uuid.NewString(),
		PersonaCode:     "gtm",
		InteractionType: "transcript",
		Timestamp:       time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Source:          "openai:gpt-4o",
		Analysis: models.InteractionAnalysis{
			Summaries: models.Summaries{
				Title:     "Renewal call",
				Headline:  "Acme renews if SSO ships.",
				Brief:     "Short brief.",
				Detailed:  "A much longer detailed summary.",
				Spotlight: "SSO",
			},
			ActionItems: []models.ActionItem{
				{Description: "Send timeline", Owner: &owner, DueDate: &due},
				{Description: "Book demo", DueDate: &badDue},
			},
			Decisions:          []models.Decision{{Decision: "Discount"}},
			Risks:              []models.Risk{{Risk: "Churn", Severity: models.RiskHigh, Mitigation: &mitigation}},
			KeyTakeaways:       []string{"Security first"},
			ProductFeedback:    []models.ProductFeedback{{Text: "Needs audit export"}},
			MarketIntelligence: []models.MarketIntelligence{{Text: "Rival pilot"}},
		},
	}
}

func TestSummaryRows(t *testing.T) {
	rows := summaryRows(sampleRecord())

	require.Len(t, rows, 5)
	levels := make([]string, len(rows))
	for i, r := range rows {
		levels[i] = r.level
	}
	require.Equal(t, []string{"title", "headline", "brief", "detailed", "spotlight"}, levels)
	require.Equal(t, 2, rows[0].wordCount)
	require.Equal(t, 1, rows[4].wordCount)
}

func TestInsightRows(t *testing.T) {
	rows := insightRows(sampleRecord())
	require.Len(t, rows, 7)

	byKind := map[string][]insightRow{}
	for _, r := range rows {
		byKind[r.kind] = append(byKind[r.kind], r)
		require.Len(t, r.contentHash, 64)
	}

	items := byKind["action_item"]
	require.Len(t, items, 2)
	require.Equal(t, "Send timeline", *items[0].description)
	require.Equal(t, "Dana", *items[0].owner)
	require.NotNil(t, items[0].dueDate)
	require.Equal(t, time.June, items[0].dueDate.Month())
	require.Nil(t, items[1].dueDate)
	require.Nil(t, items[0].text)

	risk := byKind["risk"][0]
	require.Equal(t, "high", *risk.severity)
	require.Equal(t, "Share roadmap", *risk.mitigation)

	require.Equal(t, "Security first", *byKind["key_takeaway"][0].text)
	require.Equal(t, "Needs audit export", *byKind["product_feedback"][0].text)
	require.Equal(t, "Rival pilot", *byKind["market_intelligence"][0].text)
	require.Equal(t, "Discount", *byKind["decision_made"][0].decision)
}

func TestContentHash(t *testing.T) {
	require.Equal(t, contentHash("risk", "Churn"), contentHash("risk", "Churn"))
	require.NotEqual(t, contentHash("risk", "Churn"), contentHash("key_takeaway", "Churn"))
}

func TestParseMeta(t *testing.T) {
	rec := sampleRecord()
	m, err := parseMeta(rec)
	require.NoError(t, err)
	require.Nil(t, m.accountID)

	rec.AccountID = uuid.NewString()
	m, err = parseMeta(rec)
	require.NoError(t, err)
	require.NotNil(t, m.accountID)

	rec.TenantID = "default_org"
	_, err = parseMeta(rec)
	require.Error(t, err)
}

func TestIntegration_SaveAnalysis(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	s, err := New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	rec := sampleRecord()
	require.NoError(t, s.SaveAnalysis(ctx, rec))

	var summaries, insights int
	require.NoError(t, s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM interaction_summary_entries WHERE interaction_id = $1`,
		rec.InteractionID).Scan(&summaries))
	require.NoError(t, s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM interaction_insights WHERE interaction_id = $1`,
		rec.InteractionID).Scan(&insights))
	require.Equal(t, 5, summaries)
	require.Equal(t, 7, insights)
}
