package game

import (
	"encoding/json"
	"fmt"

	"arcade-service/internal/service/ledger"
	appErr "arcade-service/pkg/errors"
	"arcade-service/pkg/utils/random"
)

type Color string

const (
	ColorGreen  Color = "Green"
	ColorViolet Color = "Violet"
	ColorRed    Color = "Red"
)

type Size string

const (
	SizeSmall Size = "Small"
	SizeBig   Size = "Big"
)

const maxColorMultiplier = 10

func ColorOf(n int) Color {
	switch {
	case n == 0 || n == 5:
		return ColorViolet
	case n%2 == 1:
		return ColorGreen
	default:
		return ColorRed
	}
}

func SizeOf(n int) Size {
	if n < 5 {
		return SizeSmall
	}
	return SizeBig
}

// ColorSelection amounts are per unit; the debited stake of each market is
// amount × Multiplier.
type ColorSelection struct {
	Color       Color `json:"color,omitempty"`
	ColorAmount int64 `json:"colorAmount,omitempty"`
	Size        Size  `json:"size,omitempty"`
	SizeAmount  int64 `json:"sizeAmount,omitempty"`
	Exact       *int  `json:"exact,omitempty"`
	ExactAmount int64 `json:"exactAmount,omitempty"`
	Multiplier  int   `json:"multiplier"`
}

func (s ColorSelection) Validate() error {
	if s.ColorAmount < 0 || s.SizeAmount < 0 || s.ExactAmount < 0 {
		return fmt.Errorf("%w: negative amount", appErr.ErrInvalidSelection)
	}
	if s.ColorAmount == 0 && s.SizeAmount == 0 && s.ExactAmount == 0 {
		return fmt.Errorf("%w: no market selected", appErr.ErrInvalidSelection)
	}
	for _, err := range []error{
		checkAmount("color", s.ColorAmount),
		checkAmount("size", s.SizeAmount),
		checkAmount("exact", s.ExactAmount),
	} {
		if err != nil {
			return err
		}
	}
	if s.Multiplier < 1 || s.Multiplier > maxColorMultiplier {
		return fmt.Errorf("%w: multiplier must be within 1..%d", appErr.ErrInvalidSelection, maxColorMultiplier)
	}
	if s.ColorAmount > 0 {
		switch s.Color {
		case ColorGreen, ColorViolet, ColorRed:
		default:
			return fmt.Errorf("%w: unknown color %q", appErr.ErrInvalidSelection, s.Color)
		}
	}
	if s.SizeAmount > 0 && s.Size != SizeSmall && s.Size != SizeBig {
		return fmt.Errorf("%w: size must be Small or Big", appErr.ErrInvalidSelection)
	}
	if s.ExactAmount > 0 && (s.Exact == nil || *s.Exact < 0 || *s.Exact > 9) {
		return fmt.Errorf("%w: exact number must be within 0..9", appErr.ErrInvalidSelection)
	}
	return nil
}

func (s ColorSelection) k() int64 {
	return int64(s.Multiplier)
}

func (s ColorSelection) Stake() int64 {
	return (s.ColorAmount + s.SizeAmount + s.ExactAmount) * s.k()
}

func (s ColorSelection) Totals() map[string]int64 {
	totals := make(map[string]int64, 3)
	if s.ColorAmount > 0 {
		totals["COLOR"] = s.ColorAmount * s.k()
	}
	if s.SizeAmount > 0 {
		totals["SIZE"] = s.SizeAmount * s.k()
	}
	if s.ExactAmount > 0 {
		totals["EXACT"] = s.ExactAmount * s.k()
	}
	return totals
}

func (s ColorSelection) Amend(prev []byte) (ledger.Selection, error) {
	var old ColorSelection
	if err := json.Unmarshal(prev, &old); err != nil {
		return nil, fmt.Errorf("%w: stored selection unreadable", appErr.ErrInvalidSelection)
	}
	if old.Multiplier != s.Multiplier {
		return nil, fmt.Errorf("%w: multiplier fixed at x%d for this round", appErr.ErrInvalidSelection, old.Multiplier)
	}
	merged := old
	if s.ColorAmount > 0 {
		if old.ColorAmount > 0 && old.Color != s.Color {
			return nil, fmt.Errorf("%w: already backing %s", appErr.ErrInvalidSelection, old.Color)
		}
		merged.Color = s.Color
		merged.ColorAmount += s.ColorAmount
	}
	if s.SizeAmount > 0 {
		if old.SizeAmount > 0 && old.Size != s.Size {
			return nil, fmt.Errorf("%w: already backing %s", appErr.ErrInvalidSelection, old.Size)
		}
		merged.Size = s.Size
		merged.SizeAmount += s.SizeAmount
	}
	if s.ExactAmount > 0 {
		if old.ExactAmount > 0 && old.Exact != nil && *old.Exact != *s.Exact {
			return nil, fmt.Errorf("%w: already backing number %d", appErr.ErrInvalidSelection, *old.Exact)
		}
		exact := *s.Exact
		merged.Exact = &exact
		merged.ExactAmount += s.ExactAmount
	}
	return merged, nil
}

type ColorOutcome struct {
	Number int   `json:"number"`
	Color  Color `json:"color"`
	Size   Size  `json:"size"`
}

func DrawColor(src random.Source) ColorOutcome {
	n := src.Intn(10)
	return ColorOutcome{Number: n, Color: ColorOf(n), Size: SizeOf(n)}
}

type colorVariant struct{}

func (colorVariant) Kind() Kind { return KindColor }

func (colorVariant) Categories() []string {
	return []string{"COLOR", "SIZE", "EXACT"}
}

func (colorVariant) DecodeSelection(raw []byte) (ledger.Selection, error) {
	var sel ColorSelection
	if err := decodeStrict(raw, &sel); err != nil {
		return nil, err
	}
	if sel.Multiplier == 0 {
		sel.Multiplier = 1
	}
	return sel, nil
}

func (colorVariant) Draw(src random.Source) (interface{}, error) {
	return DrawColor(src), nil
}
