package round_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"arcade-service/internal/config"
	"arcade-service/internal/model"
	"arcade-service/internal/service/game"
	"arcade-service/internal/service/round"
	"arcade-service/internal/testutil"
	appErr "arcade-service/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

type fixed struct{ n int }

func (f fixed) Intn(n int) int   { return f.n % n }
func (f fixed) Float64() float64 { return 0.5 }

func TestEnsureActiveRoundCreatesOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	db := testutil.NewDB(t)
	m := round.NewMachine(db, config.Default().Game.Tables, round.WithClock(func() time.Time { return now }))

	table, err := m.EnsureTable(ctx, game.KindCard)
	require.NoError(t, err)
	again, err := m.EnsureTable(ctx, game.KindCard)
	require.NoError(t, err)
	assert.Equal(t, table.ID, again.ID)

	var created atomic.Int64
	ids := make([]int64, 8)
	var g errgroup.Group
	for i := range ids {
		g.Go(func() error {
			rnd, ok, err := m.EnsureActiveRound(ctx, table.ID)
			if err != nil {
				return err
			}
			if ok {
				created.Add(1)
			}
			ids[i] = rnd.ID
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(1), created.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	var live int64
	require.NoError(t, db.Model(&model.Round{}).Where("table_id = ? AND phase <> ?", table.ID, model.PhaseCompleted).Count(&live).Error)
	assert.Equal(t, int64(1), live)

	rnd, err := m.Round(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.PhaseActive, rnd.Phase)
	require.NotNil(t, rnd.BetsCloseAt)
	assert.True(t, rnd.BetsCloseAt.Equal(now.Add(30*time.Second)))
	assert.NotEmpty(t, rnd.PublicID)
}

func TestEnsureTableRejectsNonRoundVariant(t *testing.T) {
	m := round.NewMachine(testutil.NewDB(t), nil)
	_, err := m.EnsureTable(context.Background(), game.KindFootball)
	assert.ErrorIs(t, err, appErr.ErrUnknownVariant)

	_, _, err = m.EnsureActiveRound(context.Background(), 404)
	assert.ErrorIs(t, err, appErr.ErrTableNotFound)
}

func TestAdvanceNeverRegresses(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	db := testutil.NewDB(t)
	m := round.NewMachine(db, config.Default().Game.Tables,
		round.WithClock(func() time.Time { return now }),
		round.WithSource(fixed{n: 5}))

	table, err := m.EnsureTable(ctx, game.KindCard)
	require.NoError(t, err)
	rnd, _, err := m.EnsureActiveRound(ctx, table.ID)
	require.NoError(t, err)

	_, err = m.Advance(ctx, rnd.ID, model.PhaseWaiting, nil)
	assert.ErrorIs(t, err, appErr.ErrPhaseRegression)
	_, err = m.Advance(ctx, rnd.ID, model.PhaseActive, nil)
	assert.ErrorIs(t, err, appErr.ErrPhaseRegression)

	closed, err := m.CloseBetting(ctx, rnd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseResults, closed.Phase)
	require.NotNil(t, closed.ResultTime)
	assert.True(t, closed.ResultTime.Equal(now.Add(3*time.Second)))

	var out game.CardOutcome
	require.NoError(t, json.Unmarshal(closed.OutcomeJSON, &out))
	assert.NotEmpty(t, out.Card)

	_, err = m.CloseBetting(ctx, rnd.ID)
	assert.ErrorIs(t, err, appErr.ErrPhaseRegression)

	done, err := m.Complete(ctx, rnd.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseCompleted, done.Phase)
	require.NotNil(t, done.EndTime)

	// terminal rounds accept nothing
	_, err = m.Complete(ctx, rnd.ID)
	assert.ErrorIs(t, err, appErr.ErrPhaseRegression)

	_, err = m.Advance(ctx, rnd.ID+10, model.PhaseCompleted, nil)
	assert.ErrorIs(t, err, appErr.ErrRoundNotFound)

	// a completed round makes room for the next one
	next, created, err := m.EnsureActiveRound(ctx, table.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, rnd.ID, next.ID)
}

func TestCloseBettingRocketStartsFlight(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	m := round.NewMachine(db, config.Default().Game.Tables, round.WithSource(fixed{n: 100}))

	table, err := m.EnsureTable(ctx, game.KindRocket)
	require.NoError(t, err)
	rnd, _, err := m.EnsureActiveRound(ctx, table.ID)
	require.NoError(t, err)

	closed, err := m.CloseBetting(ctx, rnd.ID)
	require.NoError(t, err)

	var state game.FlightState
	require.NoError(t, json.Unmarshal(closed.StateJSON, &state))
	assert.Equal(t, int64(1), state.Multiplier)

	var out game.RocketOutcome
	require.NoError(t, json.Unmarshal(closed.OutcomeJSON, &out))
	assert.Greater(t, out.CrashPoint, int64(0))
}

func TestSnapshotHidesOutcomeWhileBetting(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	db := testutil.NewDB(t)
	m := round.NewMachine(db, config.Default().Game.Tables,
		round.WithClock(func() time.Time { return now }),
		round.WithSource(fixed{n: 5}))

	table, err := m.EnsureTable(ctx, game.KindCard)
	require.NoError(t, err)

	snap, err := m.Snapshot(ctx, table.ID)
	require.NoError(t, err)
	assert.Zero(t, snap.RoundID)
	assert.Empty(t, snap.Participants)

	rnd, _, err := m.EnsureActiveRound(ctx, table.ID)
	require.NoError(t, err)

	p := testutil.SeedPlayer(t, db, "hank", 500)
	require.NoError(t, db.Model(p).Update("nickname", "Hank").Error)
	sel, _ := json.Marshal(game.CardSelection{Side: game.SideNumber, Amount: 40})
	require.NoError(t, db.Create(&model.Bet{RoundID: rnd.ID, PlayerID: p.ID, Amount: 40, SelectionJSON: datatypes.JSON(sel)}).Error)
	require.NoError(t, db.Model(&model.Table{}).Where("id = ?", table.ID).Update("totals_json", datatypes.JSON(`{"NUM":40}`)).Error)

	snap, err = m.Snapshot(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, rnd.ID, snap.RoundID)
	assert.Equal(t, model.PhaseActive, snap.Phase)
	assert.Equal(t, int64(30), snap.Remaining)
	assert.Equal(t, map[string]int64{"NUM": 40}, snap.Totals)
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, round.Participant{PlayerID: p.ID, Nickname: "Hank", Amount: 40}, snap.Participants[0])
	assert.Empty(t, snap.Outcome)

	_, err = m.CloseBetting(ctx, rnd.ID)
	require.NoError(t, err)
	snap, err = m.Snapshot(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseResults, snap.Phase)
	assert.NotEmpty(t, snap.Outcome)

	_, err = m.Snapshot(ctx, table.ID+1)
	assert.ErrorIs(t, err, appErr.ErrTableNotFound)
}

func TestRecentListsCompletedNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	m := round.NewMachine(db, config.Default().Game.Tables, round.WithSource(fixed{n: 3}))

	table, err := m.EnsureTable(ctx, game.KindColor)
	require.NoError(t, err)

	var ids []int64
	for i := 0; i < 3; i++ {
		rnd, _, err := m.EnsureActiveRound(ctx, table.ID)
		require.NoError(t, err)
		_, err = m.CloseBetting(ctx, rnd.ID)
		require.NoError(t, err)
		_, err = m.Complete(ctx, rnd.ID)
		require.NoError(t, err)
		ids = append(ids, rnd.ID)
	}
	// a live round is not history
	_, _, err = m.EnsureActiveRound(ctx, table.ID)
	require.NoError(t, err)

	recent, err := m.Recent(ctx, table.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[2], recent[0].RoundID)
	assert.Equal(t, ids[1], recent[1].RoundID)
	assert.NotNil(t, recent[0].EndedAt)

	unfinished, err := m.Unfinished(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, table.ID, unfinished[0].ID)
}

func TestRemaining(t *testing.T) {
	now := time.Now()
	closeAt := now.Add(1500 * time.Millisecond)
	r := &model.Round{Phase: model.PhaseActive, BetsCloseAt: &closeAt}
	assert.Equal(t, 1500*time.Millisecond, round.Remaining(r, now))

	r.Phase = model.PhaseResults
	assert.Zero(t, round.Remaining(r, now))

	r.ResultTime = &closeAt
	assert.Equal(t, 1500*time.Millisecond, round.Remaining(r, now))
	assert.Zero(t, round.Remaining(r, closeAt.Add(time.Second)))
}
