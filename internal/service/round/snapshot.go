package round

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"arcade-service/internal/model"
	"arcade-service/internal/service/game"
	appErr "arcade-service/pkg/errors"
)

type Participant struct {
	PlayerID int64  `json:"playerId"`
	Nickname string `json:"nickname"`
	Amount   int64  `json:"amount"`
}

type Snapshot struct {
	TableID      int64            `json:"tableId"`
	Variant      string           `json:"variant"`
	RoundID      int64            `json:"roundId"`
	PublicID     string           `json:"publicId"`
	Phase        model.Phase      `json:"phase"`
	Remaining    int64            `json:"remaining"` // whole seconds, rounded up
	BetsCloseAt  *time.Time       `json:"betsCloseAt,omitempty"`
	Totals       map[string]int64 `json:"totals"`
	Participants []Participant    `json:"participants"`
	Outcome      json.RawMessage  `json:"outcome,omitempty"`
	State        json.RawMessage  `json:"state,omitempty"`
}

type Summary struct {
	RoundID  int64           `json:"roundId"`
	PublicID string          `json:"publicId"`
	Outcome  json.RawMessage `json:"outcome"`
	EndedAt  *time.Time      `json:"endedAt"`
}

// Snapshot reports what a newly attached client needs to render the table.
// The outcome stays hidden while bets are open.
func (m *Machine) Snapshot(ctx context.Context, tableID int64) (*Snapshot, error) {
	table, rnd, err := m.Current(ctx, tableID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		TableID:      table.ID,
		Variant:      table.Variant,
		Totals:       Totals(table),
		Participants: make([]Participant, 0),
	}
	if rnd == nil {
		return snap, nil
	}

	snap.RoundID = rnd.ID
	snap.PublicID = rnd.PublicID
	snap.Phase = rnd.Phase
	snap.Remaining = seconds(Remaining(rnd, m.now()))
	snap.BetsCloseAt = rnd.BetsCloseAt
	if outcomeVisible(rnd) {
		snap.Outcome = json.RawMessage(rnd.OutcomeJSON)
	}
	if len(rnd.StateJSON) > 0 {
		snap.State = json.RawMessage(rnd.StateJSON)
	}

	snap.Participants, err = m.Participants(ctx, rnd.ID)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Participants lists who has a bet in the round and how much.
func (m *Machine) Participants(ctx context.Context, roundID int64) ([]Participant, error) {
	out := make([]Participant, 0)
	err := m.db.WithContext(ctx).
		Table("bets").
		Select("bets.player_id AS player_id, players.nickname AS nickname, bets.amount AS amount").
		Joins("JOIN players ON players.id = bets.player_id").
		Where("bets.round_id = ?", roundID).
		Order("bets.id").
		Scan(&out).Error
	if err != nil {
		return nil, appErr.Transient(err)
	}
	return out, nil
}

// Recent returns up to n completed rounds of the table, newest first.
func (m *Machine) Recent(ctx context.Context, tableID int64, n int) ([]Summary, error) {
	if n <= 0 || n > 100 {
		n = 20
	}
	var rounds []model.Round
	err := m.db.WithContext(ctx).
		Where("table_id = ? AND phase = ?", tableID, model.PhaseCompleted).
		Order("id DESC").
		Limit(n).
		Find(&rounds).Error
	if err != nil {
		return nil, appErr.Transient(err)
	}
	out := make([]Summary, 0, len(rounds))
	for _, r := range rounds {
		out = append(out, Summary{
			RoundID:  r.ID,
			PublicID: r.PublicID,
			Outcome:  json.RawMessage(r.OutcomeJSON),
			EndedAt:  r.EndTime,
		})
	}
	return out, nil
}

// The crash point stays hidden until the rocket has crashed.
func outcomeVisible(r *model.Round) bool {
	if len(r.OutcomeJSON) == 0 || r.Phase == model.PhaseActive {
		return false
	}
	return game.Kind(r.Variant) != game.KindRocket || r.Phase == model.PhaseCompleted
}

func seconds(d time.Duration) int64 {
	return int64(math.Ceil(d.Seconds()))
}
