package round

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"arcade-service/internal/config"
	"arcade-service/internal/model"
	"arcade-service/internal/service/game"
	"arcade-service/internal/service/ledger"
	appErr "arcade-service/pkg/errors"
	"arcade-service/pkg/logger"
	"arcade-service/pkg/utils/random"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Machine owns round creation and phase transitions. Callers serialize work
// on one table through Lock.
type Machine struct {
	db      *gorm.DB
	timings map[game.Kind]config.TableTiming
	src     random.Source
	now     func() time.Time

	locks sync.Map // tableID -> *sync.Mutex
}

type Option func(*Machine)

func WithSource(src random.Source) Option {
	return func(m *Machine) { m.src = src }
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func NewMachine(db *gorm.DB, tables map[string]config.TableTiming, opts ...Option) *Machine {
	timings := make(map[game.Kind]config.TableTiming, len(tables))
	for name, t := range tables {
		if kind, err := game.ParseKind(name); err == nil {
			timings[kind] = t
		}
	}
	m := &Machine{
		db:      db,
		timings: timings,
		src:     random.Secure(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) Now() time.Time {
	return m.now()
}

func (m *Machine) Timing(kind game.Kind) config.TableTiming {
	t, ok := m.timings[kind]
	if !ok {
		t = config.Default().Game.Tables[string(kind)]
	}
	if t.Tick <= 0 {
		t.Tick = time.Second
	}
	return t
}

// Lock enters the table's critical section and returns the unlock func.
// It must not be called while a transaction is open.
func (m *Machine) Lock(tableID int64) func() {
	v, _ := m.locks.LoadOrStore(tableID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (m *Machine) EnsureTable(ctx context.Context, kind game.Kind) (*model.Table, error) {
	if kind.Mode() != game.ModeRound {
		return nil, fmt.Errorf("%w: %q has no table", appErr.ErrUnknownVariant, kind)
	}
	var table model.Table
	err := m.db.WithContext(ctx).
		Where(model.Table{Variant: string(kind)}).
		Attrs(model.Table{Name: kind.Title(), TotalsJSON: datatypes.JSON("{}")}).
		FirstOrCreate(&table).Error
	if err != nil {
		// Lost a create race; the winner's row is there now.
		if err2 := m.db.WithContext(ctx).Where("variant = ?", string(kind)).First(&table).Error; err2 != nil {
			return nil, appErr.Transient(err)
		}
	}
	return &table, nil
}

// EnsureActiveRound returns the table's non-terminal round, creating and
// activating one if there is none. created reports whether this call made it.
func (m *Machine) EnsureActiveRound(ctx context.Context, tableID int64) (round *model.Round, created bool, err error) {
	unlock := m.Lock(tableID)
	defer unlock()
	return m.ensureActiveRoundLocked(ctx, tableID)
}

// EnsureActiveRoundLocked is EnsureActiveRound for callers already holding Lock.
func (m *Machine) EnsureActiveRoundLocked(ctx context.Context, tableID int64) (*model.Round, bool, error) {
	return m.ensureActiveRoundLocked(ctx, tableID)
}

func (m *Machine) ensureActiveRoundLocked(ctx context.Context, tableID int64) (*model.Round, bool, error) {
	var out model.Round
	created := false
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var table model.Table
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&table, tableID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return appErr.ErrTableNotFound
			}
			return appErr.Transient(err)
		}

		var live model.Round
		err := tx.Where("table_id = ? AND phase <> ?", tableID, model.PhaseCompleted).
			Order("id DESC").
			First(&live).Error
		if err == nil {
			if table.ActiveRoundID == nil || *table.ActiveRoundID != live.ID {
				if err := tx.Model(&table).Update("active_round_id", live.ID).Error; err != nil {
					return appErr.Transient(err)
				}
			}
			out = live
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.Transient(err)
		}

		kind := game.Kind(table.Variant)
		rnd := model.Round{
			PublicID: uuid.NewString(),
			TableID:  table.ID,
			Variant:  table.Variant,
			Phase:    model.PhaseWaiting,
		}
		if err := tx.Create(&rnd).Error; err != nil {
			return appErr.Transient(err)
		}

		now := m.now()
		closeAt := now.Add(m.Timing(kind).Betting)
		rnd.Phase = model.PhaseActive
		rnd.StartTime = &now
		rnd.BetsCloseAt = &closeAt
		err = tx.Model(&rnd).Updates(map[string]interface{}{
			"phase":         rnd.Phase,
			"start_time":    now,
			"bets_close_at": closeAt,
		}).Error
		if err != nil {
			return appErr.Transient(err)
		}

		err = tx.Model(&table).Updates(map[string]interface{}{
			"active_round_id": rnd.ID,
			"totals_json":     datatypes.JSON("{}"),
		}).Error
		if err != nil {
			return appErr.Transient(err)
		}

		out = rnd
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		logger.Log.Info("round created",
			zap.Int64("tableID", tableID),
			zap.Int64("roundID", out.ID),
			zap.String("variant", out.Variant))
	}
	return &out, created, nil
}

// Advance moves a round forward to phase to. mutate, when set, runs on the
// locked row before it is saved.
func (m *Machine) Advance(ctx context.Context, roundID int64, to model.Phase, mutate func(*model.Round) error) (*model.Round, error) {
	var out model.Round
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rnd model.Round
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rnd, roundID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return appErr.ErrRoundNotFound
			}
			return appErr.Transient(err)
		}
		if rnd.Phase.Terminal() || to.Rank() <= rnd.Phase.Rank() {
			return fmt.Errorf("%w: round %d %s -> %s", appErr.ErrPhaseRegression, rnd.ID, rnd.Phase, to)
		}
		if mutate != nil {
			if err := mutate(&rnd); err != nil {
				return err
			}
		}
		rnd.Phase = to
		if err := tx.Save(&rnd).Error; err != nil {
			return appErr.Transient(err)
		}
		out = rnd
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// CloseBetting moves an ACTIVE round to RESULTS and draws its outcome.
func (m *Machine) CloseBetting(ctx context.Context, roundID int64) (*model.Round, error) {
	return m.Advance(ctx, roundID, model.PhaseResults, func(r *model.Round) error {
		kind := game.Kind(r.Variant)
		raw, err := game.DrawOutcome(kind, m.src)
		if err != nil {
			return err
		}
		now := m.now()
		revealAt := now.Add(m.Timing(kind).Reveal)
		r.OutcomeJSON = datatypes.JSON(raw)
		r.ResultTime = &revealAt
		if kind == game.KindRocket {
			state, _ := json.Marshal(game.FlightState{Multiplier: 1})
			r.StateJSON = datatypes.JSON(state)
			r.ResultTime = &now
		}
		return nil
	})
}

// Complete moves a round to COMPLETED and stamps its end time.
func (m *Machine) Complete(ctx context.Context, roundID int64) (*model.Round, error) {
	return m.Advance(ctx, roundID, model.PhaseCompleted, func(r *model.Round) error {
		now := m.now()
		r.EndTime = &now
		return nil
	})
}

func (m *Machine) Round(ctx context.Context, roundID int64) (*model.Round, error) {
	var rnd model.Round
	if err := m.db.WithContext(ctx).First(&rnd, roundID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrRoundNotFound
		}
		return nil, appErr.Transient(err)
	}
	return &rnd, nil
}

// Current returns the table and its latest round, terminal or not.
func (m *Machine) Current(ctx context.Context, tableID int64) (*model.Table, *model.Round, error) {
	var table model.Table
	if err := m.db.WithContext(ctx).First(&table, tableID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, appErr.ErrTableNotFound
		}
		return nil, nil, appErr.Transient(err)
	}
	if table.ActiveRoundID == nil {
		return &table, nil, nil
	}
	rnd, err := m.Round(ctx, *table.ActiveRoundID)
	if err != nil {
		return &table, nil, err
	}
	return &table, rnd, nil
}

func (m *Machine) Tables(ctx context.Context) ([]model.Table, error) {
	var tables []model.Table
	if err := m.db.WithContext(ctx).Order("id").Find(&tables).Error; err != nil {
		return nil, appErr.Transient(err)
	}
	return tables, nil
}

// Unfinished lists tables holding a non-terminal round.
func (m *Machine) Unfinished(ctx context.Context) ([]model.Table, error) {
	var tables []model.Table
	err := m.db.WithContext(ctx).
		Where("id IN (?)", m.db.Model(&model.Round{}).Select("table_id").Where("phase <> ?", model.PhaseCompleted)).
		Find(&tables).Error
	if err != nil {
		return nil, appErr.Transient(err)
	}
	return tables, nil
}

// Bets lists every bet of a round in placement order.
func (m *Machine) Bets(ctx context.Context, roundID int64) ([]model.Bet, error) {
	var bets []model.Bet
	if err := m.db.WithContext(ctx).Where("round_id = ?", roundID).Order("id").Find(&bets).Error; err != nil {
		return nil, appErr.Transient(err)
	}
	return bets, nil
}

// Remaining is the wall-clock time left in the round's current phase.
func Remaining(r *model.Round, now time.Time) time.Duration {
	var deadline *time.Time
	switch r.Phase {
	case model.PhaseActive:
		deadline = r.BetsCloseAt
	case model.PhaseResults:
		deadline = r.ResultTime
	}
	if deadline == nil {
		return 0
	}
	if d := deadline.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Totals decodes the live wager totals held on the table row.
func Totals(t *model.Table) map[string]int64 {
	return ledger.DecodeTotals(t.TotalsJSON)
}
