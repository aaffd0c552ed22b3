package game

import (
	"encoding/json"
	"fmt"

	"arcade-service/internal/service/ledger"
	appErr "arcade-service/pkg/errors"
	"arcade-service/pkg/utils/random"
)

type CardSide string

const (
	SideNumber  CardSide = "NUM"
	SidePicture CardSide = "PIC"
)

var (
	cardRanks = []string{"2", "4", "6", "8", "10", "jack", "queen", "king", "ace"}
	cardSuits = []string{"clubs", "diamonds", "hearts", "spades"}
)

// SideOf maps a rank to the side that wins when it is drawn.
func SideOf(rank string) CardSide {
	switch rank {
	case "jack", "queen", "king", "ace":
		return SidePicture
	default:
		return SideNumber
	}
}

type CardSelection struct {
	Side   CardSide `json:"side"`
	Amount int64    `json:"amount"`
}

func (s CardSelection) Validate() error {
	if s.Side != SideNumber && s.Side != SidePicture {
		return fmt.Errorf("%w: side must be NUM or PIC", appErr.ErrInvalidSelection)
	}
	if s.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", appErr.ErrInvalidSelection)
	}
	return checkAmount(string(s.Side), s.Amount)
}

func (s CardSelection) Stake() int64 {
	return s.Amount
}

func (s CardSelection) Totals() map[string]int64 {
	return map[string]int64{string(s.Side): s.Amount}
}

func (s CardSelection) Amend(prev []byte) (ledger.Selection, error) {
	var old CardSelection
	if err := json.Unmarshal(prev, &old); err != nil {
		return nil, fmt.Errorf("%w: stored selection unreadable", appErr.ErrInvalidSelection)
	}
	if old.Side != s.Side {
		return nil, fmt.Errorf("%w: already backing %s", appErr.ErrInvalidSelection, old.Side)
	}
	return CardSelection{Side: s.Side, Amount: old.Amount + s.Amount}, nil
}

type CardOutcome struct {
	Card string   `json:"card"`
	Rank string   `json:"rank"`
	Suit string   `json:"suit"`
	Side CardSide `json:"side"`
}

func DrawCard(src random.Source) CardOutcome {
	rank := cardRanks[src.Intn(len(cardRanks))]
	suit := cardSuits[src.Intn(len(cardSuits))]
	return CardOutcome{
		Card: rank + "_of_" + suit,
		Rank: rank,
		Suit: suit,
		Side: SideOf(rank),
	}
}

type cardVariant struct{}

func (cardVariant) Kind() Kind { return KindCard }

func (cardVariant) Categories() []string {
	return []string{string(SideNumber), string(SidePicture)}
}

func (cardVariant) DecodeSelection(raw []byte) (ledger.Selection, error) {
	var sel CardSelection
	if err := decodeStrict(raw, &sel); err != nil {
		return nil, err
	}
	return sel, nil
}

func (cardVariant) Draw(src random.Source) (interface{}, error) {
	return DrawCard(src), nil
}
