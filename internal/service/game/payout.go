package game

import (
	"fmt"

	"arcade-service/internal/model"
	appErr "arcade-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// MaxMarketAmount caps the amount on any single market, amendments included.
// With it every stake and payout stays far inside int64.
const MaxMarketAmount int64 = 1_000_000_000

var (
	poolFeeRate     = decimal.RequireFromString("0.10")
	poolReturnRate  = decimal.RequireFromString("1.95")
	diceFee         = decimal.RequireFromString("0.90")
	colorFeeColor   = decimal.RequireFromString("0.70")
	colorFeeSize    = decimal.RequireFromString("0.40")
	colorFeeExact   = decimal.RequireFromString("0.90")
	cashoutFee      = decimal.RequireFromString("0.90")
	duelWinnerShare = decimal.RequireFromString("0.90")
	hundred         = decimal.NewFromInt(100)
)

// Payout is one player's settlement line for a round or match.
type Payout struct {
	PlayerID int64
	BetID    int64
	Staked   int64
	Returned int64
	Outcome  model.Outcome
	Detail   map[string]interface{}
}

func checkAmount(market string, amount int64) error {
	if amount > MaxMarketAmount {
		return fmt.Errorf("%w: %s amount above %d", appErr.ErrInvalidSelection, market, MaxMarketAmount)
	}
	return nil
}

func floorMul(amount int64, factor decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(factor).Floor().IntPart()
}

// SplitPool takes the developer fee off pool, returning fee and prize.
func SplitPool(pool int64) (fee, prize int64) {
	fee = floorMul(pool, poolFeeRate)
	return fee, pool - fee
}

// PoolDesired is what a winning card stake asks for, stake included.
func PoolDesired(stake int64) int64 {
	return floorMul(stake, poolReturnRate)
}

// PoolShares scales desired payouts down uniformly when they exceed prize.
// The result never sums above prize.
func PoolShares(desired []int64, prize int64) []int64 {
	var sum int64
	for _, d := range desired {
		sum += d
	}
	shares := make([]int64, len(desired))
	if sum <= prize {
		copy(shares, desired)
		return shares
	}
	if prize <= 0 || sum == 0 {
		return shares
	}
	p := decimal.NewFromInt(prize)
	s := decimal.NewFromInt(sum)
	for i, d := range desired {
		shares[i] = decimal.NewFromInt(d).Mul(p).Div(s).Floor().IntPart()
	}
	return shares
}

// DiceReturn sums every won market of sel against out.
func DiceReturn(sel DiceSelection, out DiceOutcome) (int64, []string) {
	var total int64
	var won []string
	if sel.SideAmount > 0 && sel.Side == out.Side {
		total += floorMul(sel.SideAmount, decimal.NewFromInt(1).Add(diceFee))
		won = append(won, string(sel.Side))
	}
	if sel.ExactAmount > 0 && sel.Exact == out.Total {
		m := decimal.NewFromInt(int64(out.JackpotMultiplier(out.Total)))
		total += floorMul(sel.ExactAmount, decimal.NewFromInt(1).Add(m.Mul(diceFee)))
		won = append(won, "EXACT")
	}
	return total, won
}

// ColorReturn pays stake + stake×m×fee per won market, with m = 2 at x1 and
// the player multiplier otherwise.
func ColorReturn(sel ColorSelection, out ColorOutcome) (int64, []string) {
	k := sel.k()
	m := decimal.NewFromInt(k)
	if k == 1 {
		m = decimal.NewFromInt(2)
	}
	market := func(amount int64, fee decimal.Decimal) int64 {
		stake := amount * k
		return stake + floorMul(stake, m.Mul(fee))
	}

	var total int64
	var won []string
	if sel.ColorAmount > 0 && sel.Color == out.Color {
		total += market(sel.ColorAmount, colorFeeColor)
		won = append(won, "COLOR")
	}
	if sel.SizeAmount > 0 && sel.Size == out.Size {
		total += market(sel.SizeAmount, colorFeeSize)
		won = append(won, "SIZE")
	}
	if sel.ExactAmount > 0 && sel.Exact != nil && *sel.Exact == out.Number {
		total += market(sel.ExactAmount, colorFeeExact)
		won = append(won, "EXACT")
	}
	return total, won
}

// CashoutReturn is stake + floor(stake × target × 0.90), target in hundredths.
func CashoutReturn(stake, target int64) int64 {
	mult := decimal.NewFromInt(target).Div(hundred)
	return stake + floorMul(stake, mult.Mul(cashoutFee))
}

// DuelReturns pays the winner their own stake plus 90% of the loser's. A draw
// refunds both.
func DuelReturns(stakeA, stakeB int64, scoreA, scoreB int) (retA, retB int64, outA, outB model.Outcome) {
	switch {
	case scoreA > scoreB:
		return stakeA + floorMul(stakeB, duelWinnerShare), 0, model.OutcomeWin, model.OutcomeLoss
	case scoreB > scoreA:
		return 0, stakeB + floorMul(stakeA, duelWinnerShare), model.OutcomeLoss, model.OutcomeWin
	default:
		return stakeA, stakeB, model.OutcomeDraw, model.OutcomeDraw
	}
}
