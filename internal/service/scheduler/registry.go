package scheduler

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"arcade-service/internal/model"
	"arcade-service/internal/service/flight"
	"arcade-service/internal/service/game"
	"arcade-service/internal/service/hub"
	"arcade-service/internal/service/round"
	"arcade-service/internal/service/settle"
	"arcade-service/pkg/logger"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

type PhaseTick struct {
	RoundID   int64       `json:"roundId"`
	Phase     model.Phase `json:"phase"`
	Remaining int64       `json:"remaining"`
}

type RoundStarted struct {
	RoundID     int64     `json:"roundId"`
	PublicID    string    `json:"publicId"`
	BetsCloseAt time.Time `json:"betsCloseAt"`
}

type RoundResult struct {
	RoundID int64           `json:"roundId"`
	Outcome json.RawMessage `json:"outcome"`
	Payouts []model.Result  `json:"payouts"`
}

// Registry runs one loop per table for the life of the process. Loops are
// started lazily and only stop when the registry is stopped.
type Registry struct {
	machine *round.Machine
	engine  *settle.Engine
	flights *flight.Runner
	pub     hub.Publisher

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	loops map[int64]game.Kind
	wg    conc.WaitGroup
}

func NewRegistry(parent context.Context, machine *round.Machine, engine *settle.Engine, flights *flight.Runner, pub hub.Publisher) *Registry {
	ctx, cancel := context.WithCancel(parent)
	return &Registry{
		machine: machine,
		engine:  engine,
		flights: flights,
		pub:     pub,
		ctx:     ctx,
		cancel:  cancel,
		loops:   make(map[int64]game.Kind),
	}
}

// Ensure starts the table's loop unless it is already running. It reports
// whether this call started it.
func (r *Registry) Ensure(tableID int64, kind game.Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return false
	}
	if _, ok := r.loops[tableID]; ok {
		return false
	}
	r.loops[tableID] = kind
	r.wg.Go(func() { r.run(tableID, kind) })
	logger.Log.Info("scheduler loop started", zap.Int64("tableID", tableID), zap.String("variant", string(kind)))
	return true
}

func (r *Registry) Running(tableID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loops[tableID]
	return ok
}

// Active lists the tables with a running loop.
func (r *Registry) Active() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.loops))
	for id := range r.loops {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// WarmStart resumes loops for tables left with an unfinished round.
func (r *Registry) WarmStart(ctx context.Context) error {
	tables, err := r.machine.Unfinished(ctx)
	if err != nil {
		return err
	}
	for _, t := range tables {
		r.Ensure(t.ID, game.Kind(t.Variant))
	}
	return nil
}

// Stop cancels every loop and flight and waits for them to return.
func (r *Registry) Stop() {
	r.cancel()
	r.wg.Wait()
	if r.flights != nil {
		r.flights.Wait()
	}
	logger.Log.Info("scheduler stopped")
}

func (r *Registry) run(tableID int64, kind game.Kind) {
	ticker := time.NewTicker(r.machine.Timing(kind).Tick)
	defer ticker.Stop()

	for {
		r.safeTick(tableID)
		select {
		case <-r.ctx.Done():
			logger.Log.Info("scheduler loop stopped", zap.Int64("tableID", tableID))
			return
		case <-ticker.C:
		}
	}
}

func (r *Registry) safeTick(tableID int64) {
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = r.Tick(r.ctx, tableID) })
	if rec := pc.Recovered(); rec != nil {
		logger.Log.Error("scheduler tick panicked", zap.Int64("tableID", tableID), zap.Error(rec.AsError()))
		return
	}
	if err != nil && r.ctx.Err() == nil {
		logger.Log.Warn("scheduler tick failed", zap.Int64("tableID", tableID), zap.Error(err))
	}
}

// Tick reloads the table and reacts to wall-clock deadlines. All work for
// the table happens inside its critical section.
func (r *Registry) Tick(ctx context.Context, tableID int64) error {
	unlock := r.machine.Lock(tableID)
	defer unlock()

	table, rnd, err := r.machine.Current(ctx, tableID)
	if err != nil {
		return err
	}
	kind := game.Kind(table.Variant)
	topic := hub.TableTopic(tableID)
	now := r.machine.Now()

	if rnd == nil || rnd.Phase.Terminal() {
		if rnd != nil && kind == game.KindRocket && rnd.EndTime != nil {
			resumeAt := rnd.EndTime.Add(r.machine.Timing(kind).Reveal)
			if now.Before(resumeAt) {
				r.pub.Publish(topic, hub.KindPhaseTick, PhaseTick{
					RoundID:   rnd.ID,
					Phase:     rnd.Phase,
					Remaining: ceilSeconds(resumeAt.Sub(now)),
				})
				return nil
			}
		}
		if rnd, err = r.startRound(ctx, tableID); err != nil {
			return err
		}
	}

	switch rnd.Phase {
	case model.PhaseActive:
		if rnd.BetsCloseAt != nil && !now.Before(*rnd.BetsCloseAt) {
			if rnd, err = r.machine.CloseBetting(ctx, rnd.ID); err != nil {
				return err
			}
			if err := r.reveal(ctx, rnd); err != nil {
				return err
			}
		}
	case model.PhaseResults:
		if err := r.reveal(ctx, rnd); err != nil {
			return err
		}
		if kind != game.KindRocket && rnd.SettledAt != nil && rnd.ResultTime != nil && !now.Before(*rnd.ResultTime) {
			if _, err := r.machine.Complete(ctx, rnd.ID); err != nil {
				return err
			}
			if rnd, err = r.startRound(ctx, tableID); err != nil {
				return err
			}
		}
	}

	r.pub.Publish(topic, hub.KindPhaseTick, PhaseTick{
		RoundID:   rnd.ID,
		Phase:     rnd.Phase,
		Remaining: ceilSeconds(round.Remaining(rnd, now)),
	})
	return nil
}

// reveal runs the RESULTS work: the flight for rocket, one settlement for
// the others. Settlement is idempotent so a retried tick is harmless.
func (r *Registry) reveal(ctx context.Context, rnd *model.Round) error {
	if game.Kind(rnd.Variant) == game.KindRocket {
		if r.flights != nil {
			r.flights.Ensure(r.ctx, rnd)
		}
		return nil
	}
	if rnd.SettledAt != nil {
		return nil
	}
	st, err := r.engine.SettleRound(ctx, rnd.ID)
	if err != nil {
		return err
	}
	settledAt := r.machine.Now()
	rnd.SettledAt = &settledAt
	if st.Fresh {
		r.pub.Publish(hub.TableTopic(rnd.TableID), hub.KindRoundResult, RoundResult{
			RoundID: rnd.ID,
			Outcome: json.RawMessage(rnd.OutcomeJSON),
			Payouts: st.Results,
		})
	}
	return nil
}

func (r *Registry) startRound(ctx context.Context, tableID int64) (*model.Round, error) {
	rnd, created, err := r.machine.EnsureActiveRoundLocked(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if created && rnd.BetsCloseAt != nil {
		r.pub.Publish(hub.TableTopic(tableID), hub.KindRoundStarted, RoundStarted{
			RoundID:     rnd.ID,
			PublicID:    rnd.PublicID,
			BetsCloseAt: *rnd.BetsCloseAt,
		})
	}
	return rnd, nil
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}
