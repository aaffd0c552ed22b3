package settle

import (
	"encoding/json"
	"fmt"

	"arcade-service/internal/model"
	"arcade-service/internal/service/game"
)

// Strategy turns a round's outcome and its open bets into one payout per bet.
type Strategy interface {
	Compute(round *model.Round, bets []model.Bet) ([]game.Payout, error)
}

func DefaultStrategies() map[game.Kind]Strategy {
	return map[game.Kind]Strategy{
		game.KindCard:   PoolStrategy{},
		game.KindDice:   MultiplierStrategy{Kind: game.KindDice},
		game.KindColor:  MultiplierStrategy{Kind: game.KindColor},
		game.KindRocket: CashoutStrategy{},
	}
}

// PoolStrategy shares the pool, less the developer fee, among the winning side.
type PoolStrategy struct{}

func (PoolStrategy) Compute(round *model.Round, bets []model.Bet) ([]game.Payout, error) {
	var out game.CardOutcome
	if err := json.Unmarshal(round.OutcomeJSON, &out); err != nil {
		return nil, fmt.Errorf("round %d: bad card outcome: %w", round.ID, err)
	}

	sels := make([]game.CardSelection, len(bets))
	var pool int64
	for i, b := range bets {
		if err := json.Unmarshal(b.SelectionJSON, &sels[i]); err != nil {
			return nil, fmt.Errorf("bet %d: bad selection: %w", b.ID, err)
		}
		pool += b.Amount
	}
	fee, prize := game.SplitPool(pool)

	var winners []int
	var desired []int64
	for i := range bets {
		if sels[i].Side == out.Side {
			winners = append(winners, i)
			desired = append(desired, game.PoolDesired(bets[i].Amount))
		}
	}
	shares := game.PoolShares(desired, prize)

	payouts := make([]game.Payout, len(bets))
	for i, b := range bets {
		payouts[i] = game.Payout{
			PlayerID: b.PlayerID,
			BetID:    b.ID,
			Staked:   b.Amount,
			Outcome:  model.OutcomeLoss,
			Detail: map[string]interface{}{
				"side": sels[i].Side,
				"card": out.Card,
				"pool": pool,
				"fee":  fee,
			},
		}
	}
	for j, i := range winners {
		payouts[i].Returned = shares[j]
		payouts[i].Outcome = model.OutcomeWin
	}
	return payouts, nil
}

// MultiplierStrategy pays each won sub-market independently and sums them.
type MultiplierStrategy struct {
	Kind game.Kind
}

func (s MultiplierStrategy) Compute(round *model.Round, bets []model.Bet) ([]game.Payout, error) {
	switch s.Kind {
	case game.KindDice:
		var out game.DiceOutcome
		if err := json.Unmarshal(round.OutcomeJSON, &out); err != nil {
			return nil, fmt.Errorf("round %d: bad dice outcome: %w", round.ID, err)
		}
		return eachBet(bets, func(b model.Bet) (int64, []string, error) {
			var sel game.DiceSelection
			if err := json.Unmarshal(b.SelectionJSON, &sel); err != nil {
				return 0, nil, err
			}
			ret, won := game.DiceReturn(sel, out)
			return ret, won, nil
		})
	case game.KindColor:
		var out game.ColorOutcome
		if err := json.Unmarshal(round.OutcomeJSON, &out); err != nil {
			return nil, fmt.Errorf("round %d: bad color outcome: %w", round.ID, err)
		}
		return eachBet(bets, func(b model.Bet) (int64, []string, error) {
			var sel game.ColorSelection
			if err := json.Unmarshal(b.SelectionJSON, &sel); err != nil {
				return 0, nil, err
			}
			ret, won := game.ColorReturn(sel, out)
			return ret, won, nil
		})
	default:
		return nil, fmt.Errorf("multiplier strategy does not cover %q", s.Kind)
	}
}

func eachBet(bets []model.Bet, fn func(model.Bet) (int64, []string, error)) ([]game.Payout, error) {
	payouts := make([]game.Payout, 0, len(bets))
	for _, b := range bets {
		ret, won, err := fn(b)
		if err != nil {
			return nil, fmt.Errorf("bet %d: bad selection: %w", b.ID, err)
		}
		outcome := model.OutcomeLoss
		if len(won) > 0 {
			outcome = model.OutcomeWin
		}
		payouts = append(payouts, game.Payout{
			PlayerID: b.PlayerID,
			BetID:    b.ID,
			Staked:   b.Amount,
			Returned: ret,
			Outcome:  outcome,
			Detail:   map[string]interface{}{"won": won},
		})
	}
	return payouts, nil
}

// CashoutStrategy settles the bets still open when the rocket crashes. A
// target at or below the crash point that was missed mid-flight still wins.
type CashoutStrategy struct{}

func (CashoutStrategy) Compute(round *model.Round, bets []model.Bet) ([]game.Payout, error) {
	var out game.RocketOutcome
	if err := json.Unmarshal(round.OutcomeJSON, &out); err != nil {
		return nil, fmt.Errorf("round %d: bad rocket outcome: %w", round.ID, err)
	}
	payouts := make([]game.Payout, 0, len(bets))
	for _, b := range bets {
		target := EffectiveTarget(b)
		p := game.Payout{
			PlayerID: b.PlayerID,
			BetID:    b.ID,
			Staked:   b.Amount,
			Outcome:  model.OutcomeLoss,
			Detail: map[string]interface{}{
				"target":     game.FormatMultiplier(target),
				"crashPoint": out.Display,
			},
		}
		if target > 0 && target <= out.CrashPoint {
			p.Returned = game.CashoutReturn(b.Amount, target)
			p.Outcome = model.OutcomeWin
		}
		payouts = append(payouts, p)
	}
	return payouts, nil
}

// EffectiveTarget is the revised cash-out target if there is one.
func EffectiveTarget(b model.Bet) int64 {
	if b.RevisedTarget != nil {
		return *b.RevisedTarget
	}
	if b.Target != nil {
		return *b.Target
	}
	return 0
}

// HeadToHeadStrategy splits both escrowed stakes by final score.
type HeadToHeadStrategy struct{}

func (HeadToHeadStrategy) Duel(m *model.Match) []game.Payout {
	if m.PlayerBID == nil {
		return nil
	}
	retA, retB, outA, outB := game.DuelReturns(m.AmountA, m.AmountB, m.ScoreA, m.ScoreB)
	detail := map[string]interface{}{"scoreA": m.ScoreA, "scoreB": m.ScoreB}
	return []game.Payout{
		{PlayerID: m.PlayerAID, Staked: m.AmountA, Returned: retA, Outcome: outA, Detail: detail},
		{PlayerID: *m.PlayerBID, Staked: m.AmountB, Returned: retB, Outcome: outB, Detail: detail},
	}
}
