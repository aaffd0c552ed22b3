package solo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"arcade-service/internal/config"
	"arcade-service/internal/model"
	"arcade-service/internal/service/game"
	"arcade-service/internal/service/ledger"
	appErr "arcade-service/pkg/errors"
	"arcade-service/pkg/logger"
	"arcade-service/pkg/utils/random"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	guessMin = 0
	guessMax = 1000
)

var guessWinRate = decimal.RequireFromString("1.5")

type Hint string

const (
	HintHigher  Hint = "higher"
	HintLower   Hint = "lower"
	HintCorrect Hint = "correct"
)

type guessState struct {
	Target  int   `json:"target"`
	Guesses []int `json:"guesses"`
}

type GuessView struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Stake     int64     `json:"stake"`
	Payout    int64     `json:"payout"`
	Attempts  int       `json:"attempts"`
	Remaining int       `json:"remaining"`
	Hint      Hint      `json:"hint,omitempty"`
	Target    *int      `json:"target,omitempty"` // revealed once the session is over
	EndsAt    time.Time `json:"endsAt"`
	Balance   int64     `json:"balance"`
}

type SpinResult struct {
	ID      string `json:"id"`
	Segment string `json:"segment"`
	Cost    int64  `json:"cost"`
	Prize   int64  `json:"prize"`
	Balance int64  `json:"balance"`
}

type Service struct {
	db    *gorm.DB
	cfg   config.SoloConfig
	src   random.Source
	wheel []Segment
	now   func() time.Time
}

type Option func(*Service)

func WithSource(src random.Source) Option {
	return func(s *Service) { s.src = src }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(db *gorm.DB, cfg config.SoloConfig, opts ...Option) *Service {
	if cfg.GuessDuration <= 0 {
		cfg.GuessDuration = 100 * time.Second
	}
	if cfg.GuessAttempts <= 0 {
		cfg.GuessAttempts = 10
	}
	if cfg.SpinCost <= 0 {
		cfg.SpinCost = 100
	}
	s := &Service{
		db:    db,
		cfg:   cfg,
		src:   random.Secure(),
		wheel: Wheel,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartGuess stakes coins on a fresh guess-the-number session.
func (s *Service) StartGuess(ctx context.Context, playerID, stake int64) (*GuessView, error) {
	if stake <= 0 {
		return nil, fmt.Errorf("%w: stake must be positive", appErr.ErrInvalidSelection)
	}
	now := s.now()
	state := guessState{Target: int(random.Between(s.src, guessMin, guessMax)), Guesses: []int{}}
	raw, _ := json.Marshal(state)
	endsAt := now.Add(s.cfg.GuessDuration)
	sess := model.SoloSession{
		PublicID:  uuid.NewString(),
		PlayerID:  playerID,
		Variant:   string(game.KindGuess),
		Status:    model.SessionActive,
		Stake:     stake,
		StateJSON: datatypes.JSON(raw),
		EndsAt:    &endsAt,
	}

	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&sess).Error; err != nil {
			return appErr.Transient(err)
		}
		book := ledger.NewBook(tx, now)
		var err error
		balance, err = book.Debit(playerID, stake, ledger.Entry{
			Type:      model.BillingStake,
			SessionID: &sess.ID,
			Meta:      map[string]interface{}{"variant": sess.Variant},
		})
		if err != nil {
			return err
		}
		return book.Flush()
	})
	if err != nil {
		return nil, err
	}
	return s.guessView(&sess, state, "", balance), nil
}

// Guess records one attempt. The session settles exactly once: on a hit,
// on the last attempt, or on the first call after its deadline.
func (s *Service) Guess(ctx context.Context, playerID int64, sessionID string, guess int) (*GuessView, error) {
	if guess < guessMin || guess > guessMax {
		return nil, fmt.Errorf("%w: guess must be within %d..%d", appErr.ErrInvalidSelection, guessMin, guessMax)
	}

	var view *GuessView
	var timedOut bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess model.SoloSession
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("public_id = ? AND player_id = ? AND variant = ?", sessionID, playerID, string(game.KindGuess)).
			First(&sess).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return appErr.ErrSessionNotFound
			}
			return appErr.Transient(err)
		}
		if sess.Status != model.SessionActive {
			return appErr.ErrSessionClosed
		}

		var state guessState
		if err := json.Unmarshal(sess.StateJSON, &state); err != nil {
			return fmt.Errorf("session %d: bad state: %w", sess.ID, err)
		}

		now := s.now()
		book := ledger.NewBook(tx, now)
		hint := HintCorrect
		switch {
		case sess.EndsAt != nil && !now.Before(*sess.EndsAt):
			sess.Status = model.SessionLost
			timedOut = true
		default:
			state.Guesses = append(state.Guesses, guess)
			switch {
			case guess == state.Target:
				sess.Status = model.SessionWon
				sess.Payout = decimal.NewFromInt(sess.Stake).Mul(guessWinRate).Floor().IntPart()
				if _, err := book.Credit(playerID, sess.Payout, ledger.Entry{
					Type:      model.BillingPayout,
					SessionID: &sess.ID,
					Meta:      map[string]interface{}{"variant": sess.Variant, "attempts": len(state.Guesses)},
				}); err != nil {
					return err
				}
			case guess < state.Target:
				hint = HintHigher
			default:
				hint = HintLower
			}
			if sess.Status == model.SessionActive && len(state.Guesses) >= s.cfg.GuessAttempts {
				sess.Status = model.SessionLost
			}
		}

		raw, _ := json.Marshal(state)
		sess.StateJSON = datatypes.JSON(raw)
		if sess.Status != model.SessionActive {
			sess.EndedAt = &now
		}
		if err := tx.Save(&sess).Error; err != nil {
			return appErr.Transient(err)
		}
		if err := book.Flush(); err != nil {
			return err
		}
		balance, err := book.Balance(playerID)
		if err != nil {
			return err
		}
		if timedOut {
			hint = ""
		}
		view = s.guessView(&sess, state, hint, balance)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if view.Status != model.SessionActive {
		logger.Log.Info("guess session finished",
			zap.String("sessionID", sessionID),
			zap.String("status", view.Status),
			zap.Int64("payout", view.Payout))
	}
	return view, nil
}

// Spin charges the fixed cost, spins once and credits the prize.
func (s *Service) Spin(ctx context.Context, playerID int64) (*SpinResult, error) {
	seg, prize := Spin(s.src, s.wheel)
	now := s.now()
	status := model.SessionLost
	if prize > 0 {
		status = model.SessionWon
	}
	state, _ := json.Marshal(map[string]interface{}{"segment": seg.Name})
	sess := model.SoloSession{
		PublicID:  uuid.NewString(),
		PlayerID:  playerID,
		Variant:   string(game.KindSpin),
		Status:    status,
		Stake:     s.cfg.SpinCost,
		Payout:    prize,
		StateJSON: datatypes.JSON(state),
		EndsAt:    &now,
		EndedAt:   &now,
	}

	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&sess).Error; err != nil {
			return appErr.Transient(err)
		}
		book := ledger.NewBook(tx, now)
		meta := map[string]interface{}{"variant": sess.Variant, "segment": seg.Name}
		if _, err := book.Debit(playerID, s.cfg.SpinCost, ledger.Entry{Type: model.BillingStake, SessionID: &sess.ID, Meta: meta}); err != nil {
			return err
		}
		var err error
		balance, err = book.Credit(playerID, prize, ledger.Entry{Type: model.BillingPayout, SessionID: &sess.ID, Meta: meta})
		if err != nil {
			return err
		}
		return book.Flush()
	})
	if err != nil {
		return nil, err
	}
	return &SpinResult{ID: sess.PublicID, Segment: seg.Name, Cost: s.cfg.SpinCost, Prize: prize, Balance: balance}, nil
}

func (s *Service) guessView(sess *model.SoloSession, state guessState, hint Hint, balance int64) *GuessView {
	v := &GuessView{
		ID:        sess.PublicID,
		Status:    sess.Status,
		Stake:     sess.Stake,
		Payout:    sess.Payout,
		Attempts:  len(state.Guesses),
		Remaining: s.cfg.GuessAttempts - len(state.Guesses),
		Hint:      hint,
		Balance:   balance,
	}
	if sess.EndsAt != nil {
		v.EndsAt = *sess.EndsAt
	}
	if v.Remaining < 0 {
		v.Remaining = 0
	}
	if sess.Status != model.SessionActive {
		target := state.Target
		v.Target = &target
	}
	return v
}
