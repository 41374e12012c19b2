// Package postgres persists interaction intelligence into the existing
// interaction_summary_entries and interaction_insights tables.
package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"ai-speech-intelligence-service/internal/models"
)

// ErrPersonaNotFound is returned when the record's persona code has no row.
var ErrPersonaNotFound = errors.New("persona not found")

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveAnalysis writes the five summary levels and one row per insight in a
// single transaction.
func (s *Store) SaveAnalysis(ctx context.Context, rec models.AnalysisRecord) error {
	meta, err := parseMeta(rec)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.QueryRow(ctx, `SELECT id FROM personas WHERE code = $1`, rec.PersonaCode).Scan(&meta.personaID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrPersonaNotFound, rec.PersonaCode)
		}
		return fmt.Errorf("lookup persona: %w", err)
	}

	summaries := summaryRows(rec)
	insights := insightRows(rec)

	batch := &pgx.Batch{}
	for _, r := range summaries {
		batch.Queue(insertSummary,
			uuid.New(), meta.tenantID, meta.interactionID, meta.personaID,
			r.level, r.text, r.wordCount, rec.Source,
			meta.traceID, rec.InteractionType, meta.accountID, rec.Timestamp)
	}
	for _, r := range insights {
		batch.Queue(insertInsight,
			uuid.New(), meta.tenantID, meta.interactionID, meta.personaID, r.kind,
			r.description, r.owner, r.dueDate, r.text, r.decision, r.rationale,
			r.risk, r.severity, r.mitigation, r.contentHash,
			meta.traceID, rec.InteractionType, meta.accountID, rec.Timestamp)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert intelligence: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	log.Info().
		Str("interactionId", rec.InteractionID).
		Int("summaries", len(summaries)).
		Int("insights", len(insights)).
		Msg("Persisted intelligence")
	return nil
}

const insertSummary = `
	INSERT INTO interaction_summary_entries (
		id, tenant_id, interaction_id, persona_id, level, text, word_count,
		profile_type, source, trace_id, interaction_type, account_id,
		interaction_timestamp, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5::"SummaryLevel", $6, $7, 'rich'::"ProfileType", $8, $9, $10, $11, $12, now(), now())`

const insertInsight = `
	INSERT INTO interaction_insights (
		id, tenant_id, interaction_id, persona_id, type,
		description, owner, due_date, text, decision, rationale,
		risk, severity, mitigation, content_hash,
		trace_id, interaction_type, account_id, interaction_timestamp,
		created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5::"InsightType", $6, $7, $8, $9, $10, $11, $12,
		$13::"RiskSeverity", $14, $15, $16, $17, $18, $19, now(), now())
	ON CONFLICT DO NOTHING`

type recordMeta struct {
	tenantID      uuid.UUID
	interactionID uuid.UUID
	traceID       uuid.UUID
	accountID     *uuid.UUID
	personaID     uuid.UUID
}

func parseMeta(rec models.AnalysisRecord) (recordMeta, error) {
	var m recordMeta
	var err error
	if m.tenantID, err = uuid.Parse(rec.TenantID); err != nil {
		return m, fmt.Errorf("tenant id: %w", err)
	}
	if m.interactionID, err = uuid.Parse(rec.InteractionID); err != nil {
		return m, fmt.Errorf("interaction id: %w", err)
	}
	if m.traceID, err = uuid.Parse(rec.TraceID); err != nil {
		return m, fmt.Errorf("trace id: %w", err)
	}
	if rec.AccountID != "" {
		id, err := uuid.Parse(rec.AccountID)
		if err != nil {
			return m, fmt.Errorf("account id: %w", err)
		}
		m.accountID = &id
	}
	return m, nil
}

type summaryRow struct {
	level     string
	text      string
	wordCount int
}

func summaryRows(rec models.AnalysisRecord) []summaryRow {
	s := rec.Analysis.Summaries
	rows := []summaryRow{
		{level: "title", text: s.Title},
		{level: "headline", text: s.Headline},
		{level: "brief", text: s.Brief},
		{level: "detailed", text: s.Detailed},
		{level: "spotlight", text: s.Spotlight},
	}
	for i := range rows {
		rows[i].wordCount = len(strings.Fields(rows[i].text))
	}
	return rows
}

// insightRow carries the typed columns; only those matching kind are set.
type insightRow struct {
	kind        string
	description *string
	owner       *string
	dueDate     *time.Time
	text        *string
	decision    *string
	rationale   *string
	risk        *string
	severity    *string
	mitigation  *string
	contentHash string
}

func insightRows(rec models.AnalysisRecord) []insightRow {
	a := rec.Analysis
	rows := make([]insightRow, 0, a.InsightCount())

	for _, it := range a.ActionItems {
		rows = append(rows, insightRow{
			kind:        "action_item",
			description: ptr(it.Description),
			owner:       it.Owner,
			dueDate:     parseDueDate(it.DueDate),
			contentHash: contentHash("action_item", it.Description),
		})
	}
	for _, it := range a.Decisions {
		rows = append(rows, insightRow{
			kind:        "decision_made",
			decision:    ptr(it.Decision),
			rationale:   it.Rationale,
			contentHash: contentHash("decision_made", it.Decision),
		})
	}
	for _, it := range a.Risks {
		var sev *string
		if it.Severity != "" {
			sev = ptr(string(it.Severity))
		}
		rows = append(rows, insightRow{
			kind:        "risk",
			risk:        ptr(it.Risk),
			severity:    sev,
			mitigation:  it.Mitigation,
			contentHash: contentHash("risk", it.Risk),
		})
	}
	for _, text := range a.KeyTakeaways {
		rows = append(rows, textInsight("key_takeaway", text))
	}
	for _, it := range a.ProductFeedback {
		rows = append(rows, textInsight("product_feedback", it.Text))
	}
	for _, it := range a.MarketIntelligence {
		rows = append(rows, textInsight("market_intelligence", it.Text))
	}
	return rows
}

func textInsight(kind, text string) insightRow {
	return insightRow{kind: kind, text: ptr(text), contentHash: contentHash(kind, text)}
}

// contentHash identifies an insight for deduplication.
func contentHash(kind, content string) string {
	sum := sha256.Sum256([]byte(kind + ":" + content))
	return hex.EncodeToString(sum[:])
}

func parseDueDate(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, *s)
	if err != nil {
		return nil
	}
	return &t
}

func ptr(s string) *string { return &s }
