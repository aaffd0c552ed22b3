package game

import (
	"fmt"
	"strings"

	appErr "arcade-service/pkg/errors"
)

type Kind string

const (
	KindCard        Kind = "card"
	KindDice        Kind = "dice"
	KindColor       Kind = "color"
	KindRocket      Kind = "rocket"
	KindFootball    Kind = "football"
	KindConnectDots Kind = "connectdots"
	KindGuess       Kind = "guess"
	KindSpin        Kind = "spin"
)

type Mode int

const (
	ModeRound Mode = iota + 1
	ModeMatch
	ModeSolo
)

func (k Kind) Mode() Mode {
	switch k {
	case KindCard, KindDice, KindColor, KindRocket:
		return ModeRound
	case KindFootball, KindConnectDots:
		return ModeMatch
	case KindGuess, KindSpin:
		return ModeSolo
	default:
		return 0
	}
}

func (k Kind) Valid() bool {
	return k.Mode() != 0
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind accepts any case and surrounding whitespace.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", appErr.ErrUnknownVariant, s)
	}
	return k, nil
}

// RoundKinds lists the variants played on a shared table.
func RoundKinds() []Kind {
	return []Kind{KindCard, KindDice, KindColor, KindRocket}
}

func MatchKinds() []Kind {
	return []Kind{KindFootball, KindConnectDots}
}

// Title is the display name shown in table listings.
func (k Kind) Title() string {
	switch k {
	case KindCard:
		return "Card Flip"
	case KindDice:
		return "Lucky Dice"
	case KindColor:
		return "Color Trading"
	case KindRocket:
		return "Rocket"
	case KindFootball:
		return "Penalty Duel"
	case KindConnectDots:
		return "Connect the Dots"
	case KindGuess:
		return "Guess the Number"
	case KindSpin:
		return "Spin Wheel"
	default:
		return string(k)
	}
}
