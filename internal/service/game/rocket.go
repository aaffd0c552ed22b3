package game

import (
	"fmt"

	"arcade-service/internal/service/ledger"
	appErr "arcade-service/pkg/errors"
	"arcade-service/pkg/utils/random"

	"github.com/shopspring/decimal"
)

const (
	MinTarget int64 = 2
	MaxTarget int64 = 10000
)

// RocketSelection targets are in hundredths: 150 means 1.50x.
type RocketSelection struct {
	Amount int64 `json:"amount"`
	Target int64 `json:"target"`
}

// rocketWire is what clients send: the target as a decimal multiplier.
type rocketWire struct {
	Amount int64           `json:"amount"`
	Target decimal.Decimal `json:"target"`
}

func (s RocketSelection) Validate() error {
	if s.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", appErr.ErrInvalidSelection)
	}
	if s.Target < MinTarget || s.Target > MaxTarget {
		return fmt.Errorf("%w: target must be within %s..%s", appErr.ErrInvalidSelection,
			FormatMultiplier(MinTarget), FormatMultiplier(MaxTarget))
	}
	return checkAmount("rocket", s.Amount)
}

func (s RocketSelection) Stake() int64 {
	return s.Amount
}

func (s RocketSelection) Totals() map[string]int64 {
	return map[string]int64{"BETS": s.Amount}
}

func (s RocketSelection) Amend([]byte) (ledger.Selection, error) {
	return nil, fmt.Errorf("%w: bet already placed for this round", appErr.ErrInvalidSelection)
}

func (s RocketSelection) CashoutTarget() int64 {
	return s.Target
}

type RocketOutcome struct {
	CrashPoint int64  `json:"crashPoint"`
	Display    string `json:"display"`
}

// FlightState is the continuous state of a flying round.
type FlightState struct {
	Multiplier int64   `json:"multiplier"`
	Position   float64 `json:"position"`
	Ticks      int64   `json:"ticks"`
}

type CrashBucket struct {
	Lo     int64
	Hi     int64
	Weight float64
}

// CrashTable is a weighted bucket distribution over crash points in hundredths.
type CrashTable []CrashBucket

var DefaultCrashTable = CrashTable{
	{Lo: 1, Hi: 99, Weight: 64},
	{Lo: 100, Hi: 200, Weight: 18},
	{Lo: 201, Hi: 500, Weight: 9},
	{Lo: 501, Hi: 800, Weight: 5},
	{Lo: 801, Hi: 1500, Weight: 2.5},
	{Lo: 1501, Hi: 2000, Weight: 1},
	{Lo: 2001, Hi: 5000, Weight: 0.4},
	{Lo: 5001, Hi: 10000, Weight: 0.1},
}

func (t CrashTable) Draw(src random.Source) int64 {
	if len(t) == 0 {
		return MinTarget
	}
	weights := make([]float64, len(t))
	for i, b := range t {
		weights[i] = b.Weight
	}
	b := t[random.Weighted(src, weights)]
	return random.Between(src, b.Lo, b.Hi)
}

// ParseMultiplier converts "1.50" style input to hundredths. More than two
// decimal places is rejected.
func ParseMultiplier(d decimal.Decimal) (int64, error) {
	if d.Exponent() < -2 && !d.Equal(d.Truncate(2)) {
		return 0, fmt.Errorf("%w: target allows at most two decimals", appErr.ErrInvalidSelection)
	}
	return d.Shift(2).IntPart(), nil
}

func FormatMultiplier(hundredths int64) string {
	return decimal.New(hundredths, -2).StringFixed(2)
}

type rocketVariant struct {
	crash CrashTable
}

func (rocketVariant) Kind() Kind { return KindRocket }

func (rocketVariant) Categories() []string {
	return []string{"BETS"}
}

func (rocketVariant) DecodeSelection(raw []byte) (ledger.Selection, error) {
	var wire rocketWire
	if err := decodeStrict(raw, &wire); err != nil {
		return nil, err
	}
	target, err := ParseMultiplier(wire.Target)
	if err != nil {
		return nil, err
	}
	return RocketSelection{Amount: wire.Amount, Target: target}, nil
}

func (v rocketVariant) Draw(src random.Source) (interface{}, error) {
	cp := v.crash.Draw(src)
	return RocketOutcome{CrashPoint: cp, Display: FormatMultiplier(cp)}, nil
}
