package match

import (
	"time"

	"arcade-service/internal/model"
	"arcade-service/internal/service/game"
)

type RequestMatchRequest struct {
	PlayerID int64
	Variant  game.Kind
	Amount   int64
}

type RequestResult struct {
	Match  View `json:"match"`
	Paired bool `json:"paired"`
}

// View is a match as seen by one of its players.
type View struct {
	ID            int64             `json:"id"`
	PublicID      string            `json:"publicId"`
	Variant       string            `json:"variant"`
	Status        model.MatchStatus `json:"status"`
	Seat          string            `json:"seat"` // A or B
	OpponentID    *int64            `json:"opponentId,omitempty"`
	Stake         int64             `json:"stake"`
	OpponentStake int64             `json:"opponentStake"`
	Score         int               `json:"score"`
	OpponentScore int               `json:"opponentScore"`
	ExpiresAt     time.Time         `json:"expiresAt"`
	EndsAt        *time.Time        `json:"endsAt,omitempty"`
	Outcome       model.Outcome     `json:"outcome,omitempty"`
}

type ExpiredPayload struct {
	MatchID  int64 `json:"matchId"`
	Refunded int64 `json:"refunded"`
}

type ResultPayload struct {
	MatchID  int64         `json:"matchId"`
	Outcome  model.Outcome `json:"outcome"`
	Returned int64         `json:"returned"`
	Score    int           `json:"score"`
	Opponent int           `json:"opponentScore"`
}

func viewFor(m *model.Match, playerID int64) View {
	v := View{
		ID:        m.ID,
		PublicID:  m.PublicID,
		Variant:   m.Variant,
		Status:    m.Status,
		ExpiresAt: m.ExpiresAt,
		EndsAt:    m.EndsAt,
	}
	if m.PlayerBID != nil && *m.PlayerBID == playerID {
		v.Seat = "B"
		opp := m.PlayerAID
		v.OpponentID = &opp
		v.Stake, v.OpponentStake = m.AmountB, m.AmountA
		v.Score, v.OpponentScore = m.ScoreB, m.ScoreA
		v.Outcome = flip(m.Outcome)
		return v
	}
	v.Seat = "A"
	v.OpponentID = m.PlayerBID
	v.Stake, v.OpponentStake = m.AmountA, m.AmountB
	v.Score, v.OpponentScore = m.ScoreA, m.ScoreB
	v.Outcome = m.Outcome
	return v
}

// flip turns seat A's outcome into seat B's.
func flip(o model.Outcome) model.Outcome {
	switch o {
	case model.OutcomeWin:
		return model.OutcomeLoss
	case model.OutcomeLoss:
		return model.OutcomeWin
	default:
		return o
	}
}

func lockKey(playerID int64) string {
	return "match:lock:" + itoa(playerID)
}
