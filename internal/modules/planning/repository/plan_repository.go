// Package repository stores generated plans. Plans are write-once: a saved
// plan is never updated or deleted.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/bucketplan/internal/database"
	"github.com/aristath/bucketplan/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PlanRepository stores plans in the ledger database
type PlanRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewPlanRepository creates a plan repository over ledger.db
func NewPlanRepository(db *database.DB, log zerolog.Logger) *PlanRepository {
	return &PlanRepository{
		db:  db,
		log: log.With().Str("repo", "plan").Logger(),
	}
}

// Save inserts a plan. A plan whose ID already exists is rejected with
// domain.ErrPlanExists.
func (r *PlanRepository) Save(ctx context.Context, plan domain.Plan) error {
	inputs, err := json.Marshal(plan.Inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal plan inputs: %w", err)
	}
	outputs, err := json.Marshal(plan.Outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal plan outputs: %w", err)
	}

	err = database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM plans WHERE id = ?", plan.ID).Scan(&exists); err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", domain.ErrPlanExists, plan.ID)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO plans
			(id, created_at, actor, status, goal_type, scope, as_of, trades, warnings,
			 tax_delta, outputs_digest, inputs_json, outputs_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			plan.ID,
			plan.CreatedAt.UnixNano(),
			plan.Actor,
			string(plan.Status),
			string(plan.Inputs.Goal.Type),
			string(plan.Inputs.Scope),
			plan.Inputs.AsOf.Format(domain.DateLayout),
			len(plan.Outputs.Trades),
			len(plan.Outputs.Warnings),
			plan.Outputs.TaxEstimate.TotalDelta.String(),
			plan.OutputsDigest,
			string(inputs),
			string(outputs),
		)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrPlanExists) {
			return domain.ErrPlanExists
		}
		return fmt.Errorf("failed to save plan %s: %w", plan.ID, err)
	}

	r.log.Info().
		Str("plan_id", plan.ID).
		Str("status", string(plan.Status)).
		Str("digest", plan.OutputsDigest).
		Msg("Plan saved")

	return nil
}

// Get loads a plan and verifies its outputs digest
func (r *PlanRepository) Get(ctx context.Context, id string) (domain.Plan, error) {
	var (
		plan                    domain.Plan
		createdAt               int64
		status                  string
		inputsJSON, outputsJSON string
	)
	err := r.db.Querier(ctx).QueryRowContext(ctx, `
		SELECT id, created_at, actor, status, outputs_digest, inputs_json, outputs_json
		FROM plans WHERE id = ?
	`, id).Scan(&plan.ID, &createdAt, &plan.Actor, &status, &plan.OutputsDigest, &inputsJSON, &outputsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Plan{}, fmt.Errorf("%w: %s", domain.ErrPlanNotFound, id)
	}
	if err != nil {
		return domain.Plan{}, fmt.Errorf("failed to load plan %s: %w", id, err)
	}

	plan.CreatedAt = time.Unix(0, createdAt).UTC()
	plan.Status = domain.PlanStatus(status)
	if err := decodePlan(&plan, []byte(inputsJSON), []byte(outputsJSON)); err != nil {
		return domain.Plan{}, fmt.Errorf("plan %s: %w", id, err)
	}
	return plan, nil
}

// List returns plan summaries, newest first. limit <= 0 means no limit.
func (r *PlanRepository) List(ctx context.Context, limit int) ([]domain.PlanSummary, error) {
	query := `
		SELECT id, created_at, status, goal_type, scope, as_of, trades, warnings, tax_delta, outputs_digest
		FROM plans ORDER BY created_at DESC, id DESC
	`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Querier(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	summaries := []domain.PlanSummary{}
	for rows.Next() {
		var (
			s                      domain.PlanSummary
			createdAt              int64
			status, goal, scope    string
			asOf, taxDelta, digest string
		)
		if err := rows.Scan(&s.ID, &createdAt, &status, &goal, &scope, &asOf, &s.Trades, &s.Warnings, &taxDelta, &digest); err != nil {
			return nil, fmt.Errorf("failed to scan plan summary: %w", err)
		}
		s.CreatedAt = time.Unix(0, createdAt).UTC()
		s.Status = domain.PlanStatus(status)
		s.Goal = domain.GoalType(goal)
		s.Scope = domain.TaxpayerScope(scope)
		s.OutputsDigest = digest
		if s.AsOf, err = domain.ParseDate(asOf); err != nil {
			return nil, fmt.Errorf("plan %s has invalid as_of: %w", s.ID, err)
		}
		if s.TaxDelta, err = decimal.NewFromString(taxDelta); err != nil {
			return nil, fmt.Errorf("plan %s has invalid tax_delta: %w", s.ID, err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plans: %w", err)
	}
	return summaries, nil
}

func decodePlan(plan *domain.Plan, inputs, outputs []byte) error {
	if err := json.Unmarshal(inputs, &plan.Inputs); err != nil {
		return fmt.Errorf("failed to decode inputs: %w", err)
	}
	if err := json.Unmarshal(outputs, &plan.Outputs); err != nil {
		return fmt.Errorf("failed to decode outputs: %w", err)
	}
	digest, err := plan.Outputs.Digest()
	if err != nil {
		return err
	}
	if digest != plan.OutputsDigest {
		return fmt.Errorf("outputs digest mismatch: stored %s, computed %s", plan.OutputsDigest, digest)
	}
	return nil
}

// MemoryPlanStore is a write-once plan store held in memory. Plans are kept
// as encoded JSON so callers cannot mutate a stored plan.
type MemoryPlanStore struct {
	mu    sync.RWMutex
	plans map[string]storedPlan
}

type storedPlan struct {
	summary domain.PlanSummary
	plan    domain.Plan
	inputs  []byte
	outputs []byte
}

// NewMemoryPlanStore creates an empty in-memory plan store
func NewMemoryPlanStore() *MemoryPlanStore {
	return &MemoryPlanStore{plans: make(map[string]storedPlan)}
}

// Save stores a plan once
func (m *MemoryPlanStore) Save(ctx context.Context, plan domain.Plan) error {
	inputs, err := json.Marshal(plan.Inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal plan inputs: %w", err)
	}
	outputs, err := json.Marshal(plan.Outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal plan outputs: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[plan.ID]; ok {
		return domain.ErrPlanExists
	}
	m.plans[plan.ID] = storedPlan{
		summary: plan.Summary(),
		plan:    domain.Plan{ID: plan.ID, CreatedAt: plan.CreatedAt, Actor: plan.Actor, Status: plan.Status, OutputsDigest: plan.OutputsDigest},
		inputs:  inputs,
		outputs: outputs,
	}
	return nil
}

// Get returns a decoded copy of a stored plan
func (m *MemoryPlanStore) Get(ctx context.Context, id string) (domain.Plan, error) {
	m.mu.RLock()
	stored, ok := m.plans[id]
	m.mu.RUnlock()
	if !ok {
		return domain.Plan{}, fmt.Errorf("%w: %s", domain.ErrPlanNotFound, id)
	}
	plan := stored.plan
	if err := decodePlan(&plan, stored.inputs, stored.outputs); err != nil {
		return domain.Plan{}, fmt.Errorf("plan %s: %w", id, err)
	}
	return plan, nil
}

// List returns summaries, newest first
func (m *MemoryPlanStore) List(ctx context.Context, limit int) ([]domain.PlanSummary, error) {
	m.mu.RLock()
	out := make([]domain.PlanSummary, 0, len(m.plans))
	for _, p := range m.plans {
		out = append(out, p.summary)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
