package game

import (
	"encoding/json"
	"fmt"

	"arcade-service/internal/service/ledger"
	appErr "arcade-service/pkg/errors"
	"arcade-service/pkg/utils/random"
)

type DiceSide string

const (
	DiceDown   DiceSide = "DOWN"
	DiceMiddle DiceSide = "MIDDLE"
	DiceUp     DiceSide = "UP"
)

const (
	diceMinTotal = 2
	diceMaxTotal = 12
	jackpotCount = 2
)

// SideOfTotal: 2..6 DOWN, 7 MIDDLE, 8..12 UP.
func SideOfTotal(total int) DiceSide {
	switch {
	case total < 7:
		return DiceDown
	case total == 7:
		return DiceMiddle
	default:
		return DiceUp
	}
}

type DiceSelection struct {
	Side        DiceSide `json:"side,omitempty"`
	SideAmount  int64    `json:"sideAmount,omitempty"`
	Exact       int      `json:"exact,omitempty"`
	ExactAmount int64    `json:"exactAmount,omitempty"`
}

func (s DiceSelection) Validate() error {
	if s.SideAmount < 0 || s.ExactAmount < 0 {
		return fmt.Errorf("%w: negative amount", appErr.ErrInvalidSelection)
	}
	if s.SideAmount == 0 && s.ExactAmount == 0 {
		return fmt.Errorf("%w: no market selected", appErr.ErrInvalidSelection)
	}
	if s.SideAmount > 0 {
		switch s.Side {
		case DiceDown, DiceMiddle, DiceUp:
		default:
			return fmt.Errorf("%w: side must be DOWN, MIDDLE or UP", appErr.ErrInvalidSelection)
		}
	}
	if s.ExactAmount > 0 && (s.Exact < diceMinTotal || s.Exact > diceMaxTotal) {
		return fmt.Errorf("%w: exact total must be within 2..12", appErr.ErrInvalidSelection)
	}
	if err := checkAmount("side", s.SideAmount); err != nil {
		return err
	}
	return checkAmount("exact", s.ExactAmount)
}

func (s DiceSelection) Stake() int64 {
	return s.SideAmount + s.ExactAmount
}

func (s DiceSelection) Totals() map[string]int64 {
	totals := make(map[string]int64, 2)
	if s.SideAmount > 0 {
		totals[string(s.Side)] = s.SideAmount
	}
	if s.ExactAmount > 0 {
		totals["EXACT"] = s.ExactAmount
	}
	return totals
}

// Amend adds amounts per market; a market already chosen cannot change pick.
func (s DiceSelection) Amend(prev []byte) (ledger.Selection, error) {
	var old DiceSelection
	if err := json.Unmarshal(prev, &old); err != nil {
		return nil, fmt.Errorf("%w: stored selection unreadable", appErr.ErrInvalidSelection)
	}
	merged := old
	if s.SideAmount > 0 {
		if old.SideAmount > 0 && old.Side != s.Side {
			return nil, fmt.Errorf("%w: already backing %s", appErr.ErrInvalidSelection, old.Side)
		}
		merged.Side = s.Side
		merged.SideAmount += s.SideAmount
	}
	if s.ExactAmount > 0 {
		if old.ExactAmount > 0 && old.Exact != s.Exact {
			return nil, fmt.Errorf("%w: already backing exact %d", appErr.ErrInvalidSelection, old.Exact)
		}
		merged.Exact = s.Exact
		merged.ExactAmount += s.ExactAmount
	}
	return merged, nil
}

type Jackpot struct {
	Number     int `json:"number"`
	Multiplier int `json:"multiplier"`
}

type DiceOutcome struct {
	Dice     [2]int    `json:"dice"`
	Total    int       `json:"total"`
	Side     DiceSide  `json:"side"`
	Jackpots []Jackpot `json:"jackpots"`
}

// JackpotMultiplier returns the multiplier for total, or 1 if it is not a jackpot number.
func (o DiceOutcome) JackpotMultiplier(total int) int {
	for _, j := range o.Jackpots {
		if j.Number == total {
			return j.Multiplier
		}
	}
	return 1
}

func DrawDice(src random.Source) DiceOutcome {
	a := 1 + src.Intn(6)
	b := 1 + src.Intn(6)
	out := DiceOutcome{
		Dice:  [2]int{a, b},
		Total: a + b,
		Side:  SideOfTotal(a + b),
	}

	seen := make(map[int]bool, jackpotCount)
	for len(out.Jackpots) < jackpotCount {
		n := int(random.Between(src, diceMinTotal, diceMaxTotal))
		if seen[n] {
			continue
		}
		seen[n] = true
		out.Jackpots = append(out.Jackpots, Jackpot{
			Number:     n,
			Multiplier: int(random.Between(src, 2, 12)),
		})
	}
	return out
}

type diceVariant struct{}

func (diceVariant) Kind() Kind { return KindDice }

func (diceVariant) Categories() []string {
	return []string{string(DiceDown), string(DiceMiddle), string(DiceUp), "EXACT"}
}

func (diceVariant) DecodeSelection(raw []byte) (ledger.Selection, error) {
	var sel DiceSelection
	if err := decodeStrict(raw, &sel); err != nil {
		return nil, err
	}
	return sel, nil
}

func (diceVariant) Draw(src random.Source) (interface{}, error) {
	return DrawDice(src), nil
}
