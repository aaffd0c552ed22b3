package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"arcade-service/internal/config"
	"arcade-service/internal/model"
	"arcade-service/internal/service/game"
	"arcade-service/internal/service/hub"
	"arcade-service/internal/service/round"
	"arcade-service/internal/service/scheduler"
	"arcade-service/internal/service/settle"
	"arcade-service/internal/testutil"
	appErr "arcade-service/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTickDrivesCardRound(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	pub := hub.NewMockPublisher(ctrl)

	db := testutil.NewDB(t)
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	machine := round.NewMachine(db, config.Default().Game.Tables, round.WithClock(clk.Now))
	reg := scheduler.NewRegistry(ctx, machine, settle.NewEngine(db), nil, pub)
	defer reg.Stop()

	table, err := machine.EnsureTable(ctx, game.KindCard)
	require.NoError(t, err)
	topic := hub.TableTopic(table.ID)

	var ticks []scheduler.PhaseTick
	record := func(_ string, _ hub.Kind, data interface{}) {
		ticks = append(ticks, data.(scheduler.PhaseTick))
	}

	gomock.InOrder(
		pub.EXPECT().Publish(topic, hub.KindRoundStarted, gomock.Any()),
		pub.EXPECT().Publish(topic, hub.KindPhaseTick, gomock.Any()).Do(record),
		pub.EXPECT().Publish(topic, hub.KindRoundResult, gomock.Any()),
		pub.EXPECT().Publish(topic, hub.KindPhaseTick, gomock.Any()).Do(record),
		pub.EXPECT().Publish(topic, hub.KindRoundStarted, gomock.Any()),
		pub.EXPECT().Publish(topic, hub.KindPhaseTick, gomock.Any()).Do(record),
	)

	require.NoError(t, reg.Tick(ctx, table.ID))
	require.Len(t, ticks, 1)
	first := ticks[0].RoundID
	assert.Equal(t, model.PhaseActive, ticks[0].Phase)
	assert.Equal(t, int64(30), ticks[0].Remaining)

	clk.Advance(30 * time.Second)
	require.NoError(t, reg.Tick(ctx, table.ID))
	require.Len(t, ticks, 2)
	assert.Equal(t, first, ticks[1].RoundID)
	assert.Equal(t, model.PhaseResults, ticks[1].Phase)
	assert.Equal(t, int64(3), ticks[1].Remaining)

	clk.Advance(3 * time.Second)
	require.NoError(t, reg.Tick(ctx, table.ID))
	require.Len(t, ticks, 3)
	assert.NotEqual(t, first, ticks[2].RoundID)
	assert.Equal(t, model.PhaseActive, ticks[2].Phase)

	done, err := machine.Round(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCompleted, done.Phase)
	assert.NotNil(t, done.SettledAt)
}

func TestTickSettlesBetsOnce(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	pub := hub.NewMockPublisher(ctrl)
	pub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

	db := testutil.NewDB(t)
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	machine := round.NewMachine(db, config.Default().Game.Tables, round.WithClock(clk.Now))
	reg := scheduler.NewRegistry(ctx, machine, settle.NewEngine(db), nil, pub)
	defer reg.Stop()

	table, err := machine.EnsureTable(ctx, game.KindCard)
	require.NoError(t, err)
	require.NoError(t, reg.Tick(ctx, table.ID))

	_, rnd, err := machine.Current(ctx, table.ID)
	require.NoError(t, err)
	p := testutil.SeedPlayer(t, db, "lone", 1000)
	raw := `{"side":"NUM","amount":100}`
	require.NoError(t, db.Create(&model.Bet{RoundID: rnd.ID, PlayerID: p.ID, Amount: 100, SelectionJSON: []byte(raw)}).Error)
	require.NoError(t, db.Model(p).Update("coins", 900).Error)

	clk.Advance(31 * time.Second)
	require.NoError(t, reg.Tick(ctx, table.ID))
	require.NoError(t, reg.Tick(ctx, table.ID))

	var results []model.Result
	require.NoError(t, db.Where("round_id = ?", rnd.ID).Find(&results).Error)
	require.Len(t, results, 1)
	// a lone winner gets the whole prize
	if results[0].Outcome == model.OutcomeWin {
		assert.Equal(t, int64(990), testutil.Balance(t, db, p.ID))
	} else {
		assert.Equal(t, int64(900), testutil.Balance(t, db, p.ID))
	}
}

func TestTickUnknownTable(t *testing.T) {
	ctrl := gomock.NewController(t)
	db := testutil.NewDB(t)
	machine := round.NewMachine(db, nil)
	reg := scheduler.NewRegistry(context.Background(), machine, settle.NewEngine(db), nil, hub.NewMockPublisher(ctrl))
	defer reg.Stop()

	assert.ErrorIs(t, reg.Tick(context.Background(), 42), appErr.ErrTableNotFound)
}

func TestEnsureStartsOneLoopPerTable(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	machine := round.NewMachine(db, config.Default().Game.Tables)
	reg := scheduler.NewRegistry(ctx, machine, settle.NewEngine(db), nil, hub.New())

	card, err := machine.EnsureTable(ctx, game.KindCard)
	require.NoError(t, err)
	dice, err := machine.EnsureTable(ctx, game.KindDice)
	require.NoError(t, err)

	assert.True(t, reg.Ensure(card.ID, game.KindCard))
	assert.False(t, reg.Ensure(card.ID, game.KindCard))
	assert.True(t, reg.Ensure(dice.ID, game.KindDice))
	assert.True(t, reg.Running(card.ID))
	assert.Equal(t, []int64{card.ID, dice.ID}, reg.Active())

	// the first tick runs immediately
	require.Eventually(t, func() bool {
		_, rnd, err := machine.Current(ctx, card.ID)
		return err == nil && rnd != nil
	}, 2*time.Second, 10*time.Millisecond)

	reg.Stop()
	assert.False(t, reg.Ensure(card.ID+dice.ID, game.KindColor))
}

// flakyPublisher panics on its first call and records the rest.
type flakyPublisher struct {
	mu     sync.Mutex
	calls  int
	kinds  []hub.Kind
	rounds []int64
}

func (p *flakyPublisher) Publish(_ string, kind hub.Kind, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls == 1 {
		panic("publisher down")
	}
	p.kinds = append(p.kinds, kind)
	if tick, ok := data.(scheduler.PhaseTick); ok {
		p.rounds = append(p.rounds, tick.RoundID)
	}
}

func (p *flakyPublisher) Send(string, string, hub.Kind, interface{}) bool { return false }

func (p *flakyPublisher) seen(kind hub.Kind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range p.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (p *flakyPublisher) firstRound() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rounds) == 0 {
		return 0
	}
	return p.rounds[0]
}

func TestLoopSurvivesFailingTick(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	timings := map[string]config.TableTiming{
		"card": {Betting: 40 * time.Millisecond, Reveal: 20 * time.Millisecond, Tick: 5 * time.Millisecond},
	}
	machine := round.NewMachine(db, timings)
	pub := &flakyPublisher{}
	reg := scheduler.NewRegistry(ctx, machine, settle.NewEngine(db), nil, pub)

	table, err := machine.EnsureTable(ctx, game.KindCard)
	require.NoError(t, err)
	require.True(t, reg.Ensure(table.ID, game.KindCard))

	// the first tick panics mid-way; later ticks settle and roll the round
	require.Eventually(t, func() bool {
		return pub.seen(hub.KindRoundResult) && pub.seen(hub.KindRoundStarted)
	}, 5*time.Second, 5*time.Millisecond)
	assert.True(t, reg.Running(table.ID))
	reg.Stop()

	first := pub.firstRound()
	require.NotZero(t, first)
	done, err := machine.Round(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCompleted, done.Phase)
	assert.NotNil(t, done.SettledAt)
}

func TestWarmStartResumesUnfinishedTables(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	machine := round.NewMachine(db, config.Default().Game.Tables)

	color, err := machine.EnsureTable(ctx, game.KindColor)
	require.NoError(t, err)
	_, _, err = machine.EnsureActiveRound(ctx, color.ID)
	require.NoError(t, err)
	idle, err := machine.EnsureTable(ctx, game.KindDice)
	require.NoError(t, err)

	reg := scheduler.NewRegistry(ctx, machine, settle.NewEngine(db), nil, hub.New())
	defer reg.Stop()
	require.NoError(t, reg.WarmStart(ctx))

	assert.True(t, reg.Running(color.ID))
	assert.False(t, reg.Running(idle.ID))
}
