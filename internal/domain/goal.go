package domain

import "github.com/shopspring/decimal"

// GoalType tags the planning strategy to run
type GoalType string

const (
	GoalRebalance     GoalType = "REBALANCE"
	GoalRaiseCash     GoalType = "RAISE_CASH"
	GoalReduceAlpha   GoalType = "REDUCE_ALPHA"
	GoalHarvestLosses GoalType = "HARVEST_LOSSES"
)

// HarvestMode selects between a loss target and maximizing safe losses
type HarvestMode string

const (
	HarvestTarget   HarvestMode = "TARGET"
	HarvestMaximize HarvestMode = "MAXIMIZE"
)

// Goal is the caller's stated planning objective.
// Amount is the cash to raise for RAISE_CASH and the loss to realize for
// HARVEST_LOSSES in TARGET mode.
type Goal struct {
	Type        GoalType        `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	HarvestMode HarvestMode     `json:"harvest_mode,omitempty"`
}

// Validate checks that the goal carries what its strategy needs
func (g Goal) Validate() error {
	errs := &ValidationErrors{Kind: ErrInvalidGoal}
	switch g.Type {
	case GoalRebalance, GoalReduceAlpha:
	case GoalRaiseCash:
		if !g.Amount.IsPositive() {
			errs.Add("amount", "raise-cash amount must be positive")
		}
	case GoalHarvestLosses:
		switch g.HarvestMode {
		case HarvestMaximize:
		case HarvestTarget, "":
			if !g.Amount.IsPositive() {
				errs.Add("amount", "target loss must be positive")
			}
		default:
			errs.Add("harvest_mode", "must be TARGET or MAXIMIZE")
		}
	default:
		errs.Add("type", "unknown goal type")
	}
	return errs.OrNil()
}

// Maximize reports whether a harvest goal maximizes safe losses
func (g Goal) Maximize() bool {
	return g.Type == GoalHarvestLosses && g.HarvestMode == HarvestMaximize
}
