package planning

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/aristath/bucketplan/internal/domain"
	"github.com/rs/zerolog"
)

// AssembleInput is everything a plan is packaged from
type AssembleInput struct {
	Meta      Meta
	Request   Request
	PolicyID  int64
	Totals    domain.SnapshotTotals
	Drift     domain.PlanDrift
	Trades    []domain.Trade
	Excluded  []domain.ExcludedTrade
	Tax       domain.TaxEstimate
	Warnings  []domain.Warning
	Overrides []appliedOverride
}

// Assembler packages planning results into write-once Plan records
type Assembler struct {
	log zerolog.Logger
}

// NewAssembler creates a plan assembler
func NewAssembler(log zerolog.Logger) *Assembler {
	return &Assembler{log: log.With().Str("component", "plan_assembler").Logger()}
}

// Assemble builds the Plan and its audit facts. Every warning is carried
// into the outputs; none are filtered.
func (a *Assembler) Assemble(in AssembleInput) (domain.Plan, []domain.AuditFact, error) {
	warnings := domain.DedupeWarnings(in.Warnings)
	domain.SortWarnings(warnings)
	if warnings == nil {
		warnings = []domain.Warning{}
	}

	trades := in.Trades
	if trades == nil {
		trades = []domain.Trade{}
	}
	excluded := in.Excluded
	if excluded == nil {
		excluded = []domain.ExcludedTrade{}
	}
	picks := []domain.LotPick{}
	for _, t := range trades {
		picks = append(picks, t.LotPicks...)
	}

	outputs := domain.PlanOutputs{
		Trades:      trades,
		LotPicks:    picks,
		TaxEstimate: in.Tax,
		Drift:       in.Drift,
		Warnings:    warnings,
		Excluded:    excluded,
	}
	digest, err := outputs.Digest()
	if err != nil {
		return domain.Plan{}, nil, err
	}

	status := in.Request.Status()
	plan := domain.Plan{
		ID:        in.Meta.ID,
		CreatedAt: in.Meta.CreatedAt,
		Actor:     in.Request.Actor,
		Status:    status,
		Inputs: domain.PlanInputs{
			Goal:           in.Request.Goal,
			Scope:          in.Request.Scope,
			AsOf:           domain.DateOnly(in.Request.AsOf),
			Assumptions:    in.Request.Assumptions,
			Options:        in.Request.Options,
			Overrides:      in.Request.Overrides.Sorted(),
			Status:         status,
			PolicyID:       in.PolicyID,
			SnapshotTotals: in.Totals,
		},
		Outputs:       outputs,
		OutputsDigest: digest,
	}

	facts := []domain.AuditFact{{
		At:       in.Meta.CreatedAt,
		Actor:    in.Request.Actor,
		Action:   domain.AuditPlanCreated,
		Entity:   "plan",
		EntityID: plan.ID,
		New: map[string]string{
			"status":         string(status),
			"goal":           string(in.Request.Goal.Type),
			"scope":          string(in.Request.Scope),
			"as_of":          plan.Inputs.AsOf.Format(domain.DateLayout),
			"policy_id":      strconv.FormatInt(in.PolicyID, 10),
			"trades":         strconv.Itoa(len(trades)),
			"warnings":       strconv.Itoa(len(warnings)),
			"outputs_digest": digest,
		},
	}}

	overrides := append([]appliedOverride(nil), in.Overrides...)
	sort.SliceStable(overrides, func(i, j int) bool {
		if overrides[i].TradeKey != overrides[j].TradeKey {
			return overrides[i].TradeKey < overrides[j].TradeKey
		}
		return overrides[i].Kind < overrides[j].Kind
	})
	for _, o := range overrides {
		facts = append(facts, domain.AuditFact{
			At:       in.Meta.CreatedAt,
			Actor:    in.Request.Actor,
			Action:   domain.AuditOverrideApplied,
			Entity:   "plan_trade",
			EntityID: fmt.Sprintf("%s/%s", plan.ID, o.TradeKey),
			New: map[string]string{
				"kind":        o.Kind,
				"taxpayer_id": strconv.FormatInt(o.TaxpayerID, 10),
				"detail":      o.Detail,
			},
			Note: o.Reason,
		})
	}

	a.log.Debug().
		Str("plan_id", plan.ID).
		Str("digest", digest).
		Int("audit_facts", len(facts)).
		Msg("Assembled plan")

	return plan, facts, nil
}
