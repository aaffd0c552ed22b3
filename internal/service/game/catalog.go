package game

import (
	"bytes"
	"encoding/json"
	"fmt"

	"arcade-service/internal/service/ledger"
	appErr "arcade-service/pkg/errors"
	"arcade-service/pkg/utils/random"
)

// Variant is a game played in rounds on a shared table.
type Variant interface {
	Kind() Kind
	// Categories are the keys of the table's live totals.
	Categories() []string
	DecodeSelection(raw []byte) (ledger.Selection, error)
	// Draw returns the round outcome payload.
	Draw(src random.Source) (interface{}, error)
}

var catalog = map[Kind]Variant{
	KindCard:   cardVariant{},
	KindDice:   diceVariant{},
	KindColor:  colorVariant{},
	KindRocket: rocketVariant{crash: DefaultCrashTable},
}

func Lookup(kind Kind) (Variant, error) {
	v, ok := catalog[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a table game", appErr.ErrUnknownVariant, kind)
	}
	return v, nil
}

// DrawOutcome draws and encodes an outcome for kind.
func DrawOutcome(kind Kind, src random.Source) ([]byte, error) {
	v, err := Lookup(kind)
	if err != nil {
		return nil, err
	}
	out, err := v.Draw(src)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func decodeStrict(raw []byte, dst interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: empty selection", appErr.ErrInvalidSelection)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", appErr.ErrInvalidSelection, err)
	}
	return nil
}
