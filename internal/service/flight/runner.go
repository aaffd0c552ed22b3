package flight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"arcade-service/internal/config"
	"arcade-service/internal/model"
	"arcade-service/internal/service/game"
	"arcade-service/internal/service/hub"
	"arcade-service/internal/service/round"
	"arcade-service/internal/service/settle"
	appErr "arcade-service/pkg/errors"
	"arcade-service/pkg/logger"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	positionStep = 0.8
	positionMax  = 100.0
)

// TickData is broadcast on every flight step.
type TickData struct {
	RoundID    int64   `json:"roundId"`
	Multiplier string  `json:"multiplier"`
	Position   float64 `json:"position"`
}

type CashoutData struct {
	RoundID    int64  `json:"roundId"`
	PlayerID   int64  `json:"playerId"`
	Multiplier string `json:"multiplier"`
	Returned   int64  `json:"returned"`
}

type CrashData struct {
	RoundID    int64          `json:"roundId"`
	CrashPoint string         `json:"crashPoint"`
	Results    []model.Result `json:"results"`
}

type flying struct {
	multiplier atomic.Int64
}

// Runner drives at most one flight per round.
type Runner struct {
	db           *gorm.DB
	machine      *round.Machine
	engine       *settle.Engine
	pub          hub.Publisher
	tick         time.Duration
	persistEvery int64

	mu      sync.Mutex
	flights map[int64]*flying
	wg      conc.WaitGroup
}

func NewRunner(db *gorm.DB, machine *round.Machine, engine *settle.Engine, pub hub.Publisher, cfg config.FlightConfig) *Runner {
	tick := cfg.Tick
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	every := int64(cfg.PersistEvery)
	if every <= 0 {
		every = 10
	}
	return &Runner{
		db:           db,
		machine:      machine,
		engine:       engine,
		pub:          pub,
		tick:         tick,
		persistEvery: every,
		flights:      make(map[int64]*flying),
	}
}

// Ensure starts the flight of a RESULTS round unless one is already running.
// The flight stops when ctx is cancelled and resumes from the persisted state.
func (r *Runner) Ensure(ctx context.Context, rnd *model.Round) bool {
	if rnd.Phase != model.PhaseResults || game.Kind(rnd.Variant) != game.KindRocket {
		return false
	}
	state := decodeState(rnd.StateJSON)

	r.mu.Lock()
	if _, ok := r.flights[rnd.ID]; ok {
		r.mu.Unlock()
		return false
	}
	f := &flying{}
	f.multiplier.Store(state.Multiplier)
	r.flights[rnd.ID] = f
	r.mu.Unlock()

	snapshot := *rnd
	r.wg.Go(func() {
		defer func() {
			r.mu.Lock()
			delete(r.flights, snapshot.ID)
			r.mu.Unlock()
		}()
		r.fly(ctx, &snapshot, state, f)
	})
	logger.Log.Info("flight started", zap.Int64("roundID", rnd.ID), zap.Int64("multiplier", state.Multiplier))
	return true
}

func (r *Runner) Running(roundID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.flights[roundID]
	return ok
}

// Current is the in-memory multiplier of a flying round.
func (r *Runner) Current(roundID int64) (int64, bool) {
	r.mu.Lock()
	f, ok := r.flights[roundID]
	r.mu.Unlock()
	if !ok {
		return 0, false
	}
	return f.multiplier.Load(), true
}

// Wait blocks until every flight has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) fly(ctx context.Context, rnd *model.Round, state game.FlightState, f *flying) {
	var outcome game.RocketOutcome
	if err := json.Unmarshal(rnd.OutcomeJSON, &outcome); err != nil {
		logger.Log.Error("flight has no crash point", zap.Int64("roundID", rnd.ID), zap.Error(err))
		return
	}

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	crashed := state.Multiplier >= outcome.CrashPoint
	for {
		select {
		case <-ctx.Done():
			r.persist(rnd.ID, state)
			return
		case <-ticker.C:
		}

		var done bool
		var pc panics.Catcher
		pc.Try(func() {
			if !crashed {
				crashed = r.step(ctx, rnd, outcome, &state, f)
			}
			if crashed {
				done = r.crash(ctx, rnd, outcome)
			}
		})
		if rec := pc.Recovered(); rec != nil {
			logger.Log.Error("flight tick panicked", zap.Int64("roundID", rnd.ID), zap.Error(rec.AsError()))
		}
		if done {
			return
		}
	}
}

// step advances one hundredth, pays targets equal to the new multiplier and
// reports whether the crash point has been reached.
func (r *Runner) step(ctx context.Context, rnd *model.Round, outcome game.RocketOutcome, state *game.FlightState, f *flying) bool {
	state.Multiplier++
	state.Position = math.Min(state.Position+positionStep, positionMax)
	state.Ticks++
	f.multiplier.Store(state.Multiplier)

	r.pub.Publish(hub.TableTopic(rnd.TableID), hub.KindFlightTick, TickData{
		RoundID:    rnd.ID,
		Multiplier: game.FormatMultiplier(state.Multiplier),
		Position:   math.Round(state.Position*100) / 100,
	})

	bets, err := r.openBets(ctx, rnd.ID)
	if err != nil {
		logger.Log.Warn("flight failed to load bets", zap.Int64("roundID", rnd.ID), zap.Error(err))
	}
	for _, b := range bets {
		if settle.EffectiveTarget(b) != state.Multiplier {
			continue
		}
		res, fresh, err := r.engine.SettleCashout(ctx, rnd.ID, b.ID, state.Multiplier)
		if err != nil {
			logger.Log.Warn("cashout failed", zap.Int64("roundID", rnd.ID), zap.Int64("betID", b.ID), zap.Error(err))
			continue
		}
		if fresh && res != nil {
			r.pub.Publish(hub.TableTopic(rnd.TableID), hub.KindCashout, CashoutData{
				RoundID:    rnd.ID,
				PlayerID:   res.PlayerID,
				Multiplier: game.FormatMultiplier(state.Multiplier),
				Returned:   res.Returned,
			})
		}
	}

	if state.Ticks%r.persistEvery == 0 {
		r.persist(rnd.ID, *state)
	}
	return state.Multiplier >= outcome.CrashPoint
}

// crash settles the remaining bets as losses and completes the round. It
// reports false when it must be retried on the next tick.
func (r *Runner) crash(ctx context.Context, rnd *model.Round, outcome game.RocketOutcome) bool {
	st, err := r.engine.SettleRound(ctx, rnd.ID)
	if err != nil {
		logger.Log.Warn("crash settlement failed", zap.Int64("roundID", rnd.ID), zap.Error(err))
		return false
	}

	unlock := r.machine.Lock(rnd.TableID)
	_, err = r.machine.Complete(ctx, rnd.ID)
	unlock()
	if err != nil && !errors.Is(err, appErr.ErrPhaseRegression) {
		logger.Log.Warn("crash completion failed", zap.Int64("roundID", rnd.ID), zap.Error(err))
		return false
	}

	r.pub.Publish(hub.TableTopic(rnd.TableID), hub.KindCrash, CrashData{
		RoundID:    rnd.ID,
		CrashPoint: outcome.Display,
		Results:    st.Results,
	})
	logger.Log.Info("rocket crashed", zap.Int64("roundID", rnd.ID), zap.String("crashPoint", outcome.Display))
	return true
}

func (r *Runner) openBets(ctx context.Context, roundID int64) ([]model.Bet, error) {
	var bets []model.Bet
	err := r.db.WithContext(ctx).
		Select("id", "player_id", "target", "revised_target").
		Where("round_id = ? AND settled = ?", roundID, false).
		Find(&bets).Error
	return bets, err
}

func (r *Runner) persist(roundID int64, state game.FlightState) {
	raw, err := json.Marshal(state)
	if err != nil {
		return
	}
	err = r.db.Model(&model.Round{}).
		Where("id = ? AND phase = ?", roundID, model.PhaseResults).
		Update("state_json", datatypes.JSON(raw)).Error
	if err != nil {
		logger.Log.Warn("flight state not persisted", zap.Int64("roundID", roundID), zap.Error(err))
	}
}

// ReviseTarget lowers a cash-out target once. The new target must be below
// the original and, while flying, above the current multiplier.
func (r *Runner) ReviseTarget(ctx context.Context, playerID, roundID, target int64) (*model.Bet, error) {
	var out model.Bet
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rnd model.Round
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rnd, roundID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return appErr.ErrRoundNotFound
			}
			return appErr.Transient(err)
		}
		if game.Kind(rnd.Variant) != game.KindRocket {
			return fmt.Errorf("%w: round %d has no cash-out", appErr.ErrRevisionRejected, rnd.ID)
		}
		if rnd.SettledAt != nil || (rnd.Phase != model.PhaseActive && rnd.Phase != model.PhaseResults) {
			return fmt.Errorf("%w: round %d is %s", appErr.ErrRoundClosed, rnd.ID, rnd.Phase)
		}

		var bet model.Bet
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("round_id = ? AND player_id = ?", roundID, playerID).
			First(&bet).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: no bet in round %d", appErr.ErrRevisionRejected, roundID)
			}
			return appErr.Transient(err)
		}

		switch {
		case bet.Settled:
			return fmt.Errorf("%w: bet already settled", appErr.ErrRevisionRejected)
		case bet.RevisedTarget != nil:
			return fmt.Errorf("%w: target already revised", appErr.ErrRevisionRejected)
		case bet.Target == nil || target >= *bet.Target:
			return fmt.Errorf("%w: new target must be below the original", appErr.ErrRevisionRejected)
		case target < game.MinTarget:
			return fmt.Errorf("%w: target below %s", appErr.ErrRevisionRejected, game.FormatMultiplier(game.MinTarget))
		}
		if rnd.Phase == model.PhaseResults {
			current := decodeState(rnd.StateJSON).Multiplier
			if live, ok := r.Current(roundID); ok && live > current {
				current = live
			}
			if target <= current {
				return fmt.Errorf("%w: multiplier already at %s", appErr.ErrRevisionRejected, game.FormatMultiplier(current))
			}
		}

		if err := tx.Model(&bet).Update("revised_target", target).Error; err != nil {
			return appErr.Transient(err)
		}
		bet.RevisedTarget = &target
		out = bet
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func decodeState(raw datatypes.JSON) game.FlightState {
	state := game.FlightState{Multiplier: 1}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &state)
	}
	if state.Multiplier < 1 {
		state.Multiplier = 1
	}
	return state
}
