package planning

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Snapshotter runs fn inside a consistent, isolated read view of all
// collaborator data. Repositories read through the context it passes.
type Snapshotter interface {
	ReadSnapshot(ctx context.Context, fn func(ctx context.Context) error) error
}

// ServiceDeps are the collaborators the planning service reads and writes
type ServiceDeps struct {
	Positions domain.PositionRepository
	Policies  domain.PolicyRepository
	History   domain.TransactionHistory
	Prices    domain.PriceSource
	Plans     domain.PlanStore
	Audit     domain.AuditSink
	Snapshots Snapshotter
	Archiver  domain.PlanArchiver // optional
	Defaults  domain.PlannerOptions
	Clock     func() time.Time
	NewID     func() string
}

// Service loads snapshots, runs the planner and persists plans
type Service struct {
	deps    ServiceDeps
	planner *Planner
	log     zerolog.Logger
}

// NewService creates the planning service
func NewService(deps ServiceDeps, log zerolog.Logger) *Service {
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return uuid.New().String() }
	}
	return &Service{
		deps:    deps,
		planner: NewPlanner(log),
		log:     log.With().Str("service", "planning").Logger(),
	}
}

// GenerateRequest is a caller's plan request. Nil assumptions fall back to
// defaults; unset option fields take the configured defaults; a zero AsOf
// means today.
type GenerateRequest struct {
	Goal        domain.Goal            `json:"goal"`
	Scope       domain.TaxpayerScope   `json:"scope"`
	AsOf        time.Time              `json:"as_of"`
	Assumptions *domain.TaxAssumptions `json:"assumptions,omitempty"`
	Options     *domain.PlannerOptions `json:"options,omitempty"`
	Overrides   domain.OverrideSet     `json:"overrides,omitempty"`
	Finalize    bool                   `json:"finalize"`
	Actor       string                 `json:"actor,omitempty"`
}

// Defaults returns the assumptions and options a request starts from
func (s *Service) Defaults() (domain.TaxAssumptions, domain.PlannerOptions) {
	return domain.DefaultTaxAssumptions(), s.deps.Defaults
}

func (s *Service) request(in GenerateRequest) Request {
	req := Request{
		Goal:        in.Goal,
		Scope:       in.Scope,
		AsOf:        domain.DateOnly(in.AsOf),
		Assumptions: domain.DefaultTaxAssumptions(),
		Options:     s.deps.Defaults,
		Overrides:   in.Overrides,
		Finalize:    in.Finalize,
		Actor:       in.Actor,
	}
	if in.AsOf.IsZero() {
		req.AsOf = domain.DateOnly(s.deps.Clock())
	}
	if in.Assumptions != nil {
		req.Assumptions = *in.Assumptions
	}
	if in.Options != nil {
		req.Options = in.Options.WithDefaults(s.deps.Defaults)
	}
	if req.Overrides == nil {
		req.Overrides = domain.OverrideSet{}
	}
	if req.Actor == "" {
		req.Actor = "user"
	}
	return req
}

// GeneratePlan runs one planning call against a single read snapshot, then
// stores the plan and records its audit facts.
func (s *Service) GeneratePlan(ctx context.Context, in GenerateRequest) (domain.Plan, error) {
	req := s.request(in)

	var snap Snapshot
	err := s.deps.Snapshots.ReadSnapshot(ctx, func(ctx context.Context) error {
		var err error
		snap, err = s.loadSnapshot(ctx, req.Scope, req.AsOf, req.Options.WashWindowDays)
		return err
	})
	if err != nil {
		return domain.Plan{}, err
	}

	plan, facts, err := s.planner.Generate(snap, req, Meta{ID: s.deps.NewID(), CreatedAt: s.deps.Clock()})
	if err != nil {
		s.log.Warn().Err(err).Str("goal", string(req.Goal.Type)).Str("scope", string(req.Scope)).Msg("Plan generation aborted")
		return domain.Plan{}, err
	}

	if err := s.deps.Plans.Save(ctx, plan); err != nil {
		return domain.Plan{}, fmt.Errorf("failed to save plan %s: %w", plan.ID, err)
	}
	if err := s.deps.Audit.Record(ctx, facts); err != nil {
		return domain.Plan{}, fmt.Errorf("failed to record audit facts for plan %s: %w", plan.ID, err)
	}
	if plan.Status == domain.PlanFinal && s.deps.Archiver != nil {
		if err := s.deps.Archiver.Archive(ctx, plan); err != nil {
			s.log.Error().Err(err).Str("plan_id", plan.ID).Msg("Failed to archive final plan")
		}
	}

	s.log.Info().
		Str("plan_id", plan.ID).
		Str("status", string(plan.Status)).
		Str("goal", string(req.Goal.Type)).
		Str("scope", string(req.Scope)).
		Int("trades", len(plan.Outputs.Trades)).
		Int("warnings", len(plan.Outputs.Warnings)).
		Msg("Plan created")

	return plan, nil
}

// Drift reports current drift for a scope
func (s *Service) Drift(ctx context.Context, scope domain.TaxpayerScope, asOf time.Time) (DriftView, error) {
	if asOf.IsZero() {
		asOf = s.deps.Clock()
	}
	asOf = domain.DateOnly(asOf)

	var snap Snapshot
	err := s.deps.Snapshots.ReadSnapshot(ctx, func(ctx context.Context) error {
		var err error
		snap, err = s.loadSnapshot(ctx, scope, asOf, 0)
		return err
	})
	if err != nil {
		return DriftView{}, err
	}
	return s.planner.Drift(snap, scope, asOf, s.deps.Defaults)
}

// GetPlan returns a stored plan
func (s *Service) GetPlan(ctx context.Context, id string) (domain.Plan, error) {
	return s.deps.Plans.Get(ctx, id)
}

// ListPlans returns stored plan summaries, newest first
func (s *Service) ListPlans(ctx context.Context, limit int) ([]domain.PlanSummary, error) {
	return s.deps.Plans.List(ctx, limit)
}

func (s *Service) loadSnapshot(ctx context.Context, scope domain.TaxpayerScope, asOf time.Time, windowDays int) (Snapshot, error) {
	var snap Snapshot
	var err error

	if snap.Taxpayers, err = s.deps.Positions.Taxpayers(ctx); err != nil {
		return snap, fmt.Errorf("failed to load taxpayers: %w", err)
	}
	if snap.Accounts, err = s.deps.Positions.Accounts(ctx); err != nil {
		return snap, fmt.Errorf("failed to load accounts: %w", err)
	}
	if snap.Securities, err = s.deps.Positions.Securities(ctx); err != nil {
		return snap, fmt.Errorf("failed to load securities: %w", err)
	}
	if snap.Policies, err = s.deps.Policies.Policies(ctx); err != nil {
		return snap, fmt.Errorf("failed to load policies: %w", err)
	}
	if active, err := domain.ActivePolicy(snap.Policies, asOf); err == nil {
		if snap.Assignments, err = s.deps.Policies.Assignments(ctx, active.ID); err != nil {
			return snap, fmt.Errorf("failed to load bucket assignments: %w", err)
		}
	}

	accountIDs := scopeAccountIDs(snap, scope)
	if snap.Lots, err = s.deps.Positions.Lots(ctx, accountIDs); err != nil {
		return snap, fmt.Errorf("failed to load lots: %w", err)
	}
	if snap.Positions, err = s.deps.Positions.Positions(ctx, accountIDs); err != nil {
		return snap, fmt.Errorf("failed to load positions: %w", err)
	}
	if snap.Cash, err = s.deps.Positions.CashBalances(ctx, accountIDs, asOf); err != nil {
		return snap, fmt.Errorf("failed to load cash balances: %w", err)
	}
	from, to := transactionWindow(asOf, windowDays)
	if snap.Transactions, err = s.deps.History.Transactions(ctx, accountIDs, from, to); err != nil {
		return snap, fmt.Errorf("failed to load transactions: %w", err)
	}

	tickers := make(map[string]bool)
	for _, sec := range snap.Securities {
		tickers[sec.Ticker] = true
	}
	for _, lot := range snap.Lots {
		tickers[lot.Ticker] = true
	}
	list := make([]string, 0, len(tickers))
	for t := range tickers {
		list = append(list, t)
	}
	sort.Strings(list)
	if snap.Prices, err = s.deps.Prices.LatestPrices(ctx, list); err != nil {
		return snap, fmt.Errorf("failed to load prices: %w", err)
	}
	return snap, nil
}

// scopeAccountIDs returns the accounts of every taxpayer in scope. The
// result is never nil so repositories do not read all accounts.
func scopeAccountIDs(snap Snapshot, scope domain.TaxpayerScope) []int64 {
	included := make(map[int64]bool)
	for _, tp := range snap.Taxpayers {
		if scope.Includes(tp.Type) {
			included[tp.ID] = true
		}
	}
	ids := []int64{}
	for _, a := range snap.Accounts {
		if included[a.TaxpayerEntityID] {
			ids = append(ids, a.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
