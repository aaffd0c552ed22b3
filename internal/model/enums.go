package model

type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseActive    Phase = "active"
	PhaseResults   Phase = "results"
	PhaseCompleted Phase = "completed"
)

// Rank orders phases; transitions may only move to a higher rank.
func (p Phase) Rank() int {
	switch p {
	case PhaseWaiting:
		return 1
	case PhaseActive:
		return 2
	case PhaseResults:
		return 3
	case PhaseCompleted:
		return 4
	default:
		return 0
	}
}

func (p Phase) Terminal() bool {
	return p == PhaseCompleted
}

type MatchStatus string

const (
	MatchWaiting   MatchStatus = "waiting"
	MatchActive    MatchStatus = "active"
	MatchCompleted MatchStatus = "completed"
)

type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

const (
	BillingBet    = "bet"
	BillingPayout = "payout"
	BillingEscrow = "escrow"
	BillingRefund = "refund"
	BillingStake  = "stake"
	BillingAdjust = "adjust"
)

const (
	SessionActive = "active"
	SessionWon    = "won"
	SessionLost   = "lost"
)
