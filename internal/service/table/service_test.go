package table_test

import (
	"context"
	"strconv"
	"testing"

	"arcade-service/internal/config"
	"arcade-service/internal/service/flight"
	"arcade-service/internal/service/game"
	"arcade-service/internal/service/hub"
	"arcade-service/internal/service/ledger"
	"arcade-service/internal/service/round"
	"arcade-service/internal/service/scheduler"
	"arcade-service/internal/service/settle"
	"arcade-service/internal/service/table"
	"arcade-service/internal/testutil"
	appErr "arcade-service/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type stack struct {
	db  *gorm.DB
	mr  *miniredis.Miniredis
	hub *hub.Hub
	svc *table.Service
	reg *scheduler.Registry
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func newStack(t *testing.T) *stack {
	t.Helper()
	db := testutil.NewDB(t)
	mr, rdb := testutil.NewRedis(t)
	cfg := config.Default().Game
	h := hub.New()

	machine := round.NewMachine(db, cfg.Tables)
	engine := settle.NewEngine(db)
	flights := flight.NewRunner(db, machine, engine, h, cfg.Flight)
	reg := scheduler.NewRegistry(context.Background(), machine, engine, flights, h)
	t.Cleanup(reg.Stop)

	svc := table.NewService(machine, ledger.NewService(db), engine, reg, flights, h, rdb)
	return &stack{db: db, mr: mr, hub: h, svc: svc, reg: reg}
}

func TestConcurrentJoinsShareOneRound(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	snaps := make([]*round.Snapshot, 6)
	var g errgroup.Group
	for i := range snaps {
		g.Go(func() error {
			snap, err := s.svc.Join(ctx, game.KindDice)
			snaps[i] = snap
			return err
		})
	}
	require.NoError(t, g.Wait())

	for _, snap := range snaps {
		assert.Equal(t, snaps[0].RoundID, snap.RoundID)
		assert.NotZero(t, snap.RoundID)
	}
	assert.True(t, s.reg.Running(snaps[0].TableID))
	assert.Len(t, s.reg.Active(), 1)

	_, err := s.svc.Join(ctx, game.KindGuess)
	assert.ErrorIs(t, err, appErr.ErrUnknownVariant)
}

func TestJoinOutlivesCallerCancel(t *testing.T) {
	s := newStack(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := s.svc.Join(ctx, game.KindColor)
	require.NoError(t, err)
	assert.NotZero(t, snap.RoundID)
}

func TestPlaceBetBroadcastsAndCachesTotals(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	p := testutil.SeedPlayer(t, s.db, "ivy", 1000)

	snap, err := s.svc.Join(ctx, game.KindCard)
	require.NoError(t, err)
	sub := s.hub.Subscribe(hub.TableTopic(snap.TableID), "test")

	receipt, err := s.svc.PlaceBet(ctx, p.ID, game.KindCard, []byte(`{"side":"PIC","amount":120}`))
	require.NoError(t, err)
	assert.Equal(t, int64(880), receipt.Balance)

	var placed *table.BetPlaced
	for placed == nil {
		msg := <-sub.C
		if msg.Type == hub.KindBetPlaced {
			v := msg.Data.(table.BetPlaced)
			placed = &v
		}
	}
	assert.Equal(t, p.ID, placed.PlayerID)
	assert.Equal(t, map[string]int64{"PIC": 120}, placed.Totals)
	require.Len(t, placed.Participants, 1)

	key := "round:" + itoa(snap.RoundID) + ":totals"
	assert.Equal(t, "120", s.mr.HGet(key, "PIC"))
	assert.Positive(t, s.mr.TTL(key))

	// the cached hash wins over the table row
	s.mr.HSet(key, "PIC", "999")
	again, err := s.svc.Snapshot(ctx, game.KindCard)
	require.NoError(t, err)
	assert.Equal(t, int64(999), again.Totals["PIC"])

	_, err = s.svc.PlaceBet(ctx, p.ID, game.KindCard, []byte(`{"side":"PIC"`))
	assert.ErrorIs(t, err, appErr.ErrInvalidSelection)
	_, err = s.svc.PlaceBet(ctx, p.ID, game.KindFootball, []byte(`{}`))
	assert.ErrorIs(t, err, appErr.ErrUnknownVariant)
}

func TestReviseCashoutOnRocket(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)
	p := testutil.SeedPlayer(t, s.db, "jet", 1000)

	_, err := s.svc.Join(ctx, game.KindRocket)
	require.NoError(t, err)
	_, err = s.svc.PlaceBet(ctx, p.ID, game.KindRocket, []byte(`{"amount":100,"target":"3.00"}`))
	require.NoError(t, err)

	bet, err := s.svc.ReviseCashout(ctx, p.ID, decimal.RequireFromString("2.00"))
	require.NoError(t, err)
	assert.Equal(t, int64(200), *bet.RevisedTarget)

	_, err = s.svc.ReviseCashout(ctx, p.ID, decimal.RequireFromString("1.505"))
	assert.ErrorIs(t, err, appErr.ErrRevisionRejected)
}

func TestTablesAndResults(t *testing.T) {
	ctx := context.Background()
	s := newStack(t)

	infos, err := s.svc.Tables(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 4)
	assert.Equal(t, "card", infos[0].Variant)
	assert.False(t, infos[0].Running)

	_, err = s.svc.Results(ctx, 12345)
	assert.ErrorIs(t, err, appErr.ErrRoundNotFound)

	history, err := s.svc.History(ctx, game.KindColor, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}
