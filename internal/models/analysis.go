package models

import "time"

// MeetingOutput is the structured result of transcript cleaning.
type MeetingOutput struct {
	Summary           string   `json:"summary"`
	ActionItems       []string `json:"action_items"`
	CleanedTranscript string   `json:"cleaned_transcript"`
}

// RiskSeverity grades an identified risk.
type RiskSeverity string

const (
	RiskLow    RiskSeverity = "low"
	RiskMedium RiskSeverity = "medium"
	RiskHigh   RiskSeverity = "high"
)

// Summaries holds the multi-level summaries of an interaction.
type Summaries struct {
	Title     string `json:"title"`
	Headline  string `json:"headline"`
	Brief     string `json:"brief"`
	Detailed  string `json:"detailed"`
	Spotlight string `json:"spotlight"`
}

type ActionItem struct {
	Description string  `json:"description"`
	Owner       *string `json:"owner,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
}

type Decision struct {
	Decision  string  `json:"decision"`
	Rationale *string `json:"rationale,omitempty"`
}

type Risk struct {
	Risk       string       `json:"risk"`
	Severity   RiskSeverity `json:"severity"`
	Mitigation *string      `json:"mitigation,omitempty"`
}

type ProductFeedback struct {
	Text string `json:"text"`
}

type MarketIntelligence struct {
	Text string `json:"text"`
}

// InteractionAnalysis is everything extracted from one transcript.
type InteractionAnalysis struct {
	Summaries          Summaries            `json:"summaries"`
	ActionItems        []ActionItem         `json:"action_items"`
	Decisions          []Decision           `json:"decisions"`
	Risks              []Risk               `json:"risks"`
	KeyTakeaways       []string             `json:"key_takeaways"`
	ProductFeedback    []ProductFeedback    `json:"product_feedback"`
	MarketIntelligence []MarketIntelligence `json:"market_intelligence"`
}

// Valid reports whether every risk carries a known severity.
func (a *InteractionAnalysis) Valid() bool {
	for _, r := range a.Risks {
		switch r.Severity {
		case RiskLow, RiskMedium, RiskHigh:
		default:
			return false
		}
	}
	return true
}

// InsightCount is the number of typed insights in the analysis.
func (a *InteractionAnalysis) InsightCount() int {
	return len(a.ActionItems) + len(a.Decisions) + len(a.Risks) +
		len(a.KeyTakeaways) + len(a.ProductFeedback) + len(a.MarketIntelligence)
}

// AnalysisRecord is an analysis together with the interaction it belongs to,
// ready to be persisted.
type AnalysisRecord struct {
	InteractionID   string
	TenantID        string
	TraceID         string
	AccountID       string
	PersonaCode     string
	InteractionType string
	Timestamp       time.Time
	Source          string
	Analysis        InteractionAnalysis
}
