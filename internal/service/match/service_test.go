package match_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"arcade-service/internal/model"
	"arcade-service/internal/service/game"
	"arcade-service/internal/service/hub"
	"arcade-service/internal/service/match"
	"arcade-service/internal/service/settle"
	"arcade-service/internal/testutil"
	appErr "arcade-service/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type harness struct {
	db  *gorm.DB
	mr  *miniredis.Miniredis
	hub *hub.Hub
	svc *match.Service
	now time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{db: testutil.NewDB(t), hub: hub.New(), now: time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)}
	mr, client := testutil.NewRedis(t)
	h.mr = mr
	cfg := match.Config{
		Tolerance:     50,
		Expiry:        time.Hour,
		SweepInterval: time.Second,
		LockTTL:       time.Second,
		Durations:     map[game.Kind]time.Duration{game.KindFootball: 90 * time.Second},
	}
	h.svc = match.NewService(h.db, client, settle.NewEngine(h.db), h.hub, cfg,
		match.WithClock(func() time.Time { return h.now }))
	t.Cleanup(h.svc.Wait)
	return h
}

func (h *harness) request(variant game.Kind, playerID, amount int64) (*match.RequestResult, error) {
	return h.svc.RequestMatch(context.Background(), match.RequestMatchRequest{PlayerID: playerID, Variant: variant, Amount: amount})
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func next(t *testing.T, sub *hub.Subscription) hub.Message {
	t.Helper()
	select {
	case msg := <-sub.C:
		return msg
	default:
		t.Fatalf("no message on %s", sub.Topic)
		return hub.Message{}
	}
}

func TestUnpairedRequestExpiresWithRefund(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := testutil.SeedPlayer(t, h.db, "waiter", 1000)
	sub := h.hub.Subscribe(hub.PlayerTopic(p.ID), "test")

	res, err := h.request(game.KindFootball, p.ID, 500)
	require.NoError(t, err)
	assert.False(t, res.Paired)
	assert.Equal(t, model.MatchWaiting, res.Match.Status)
	assert.Equal(t, "A", res.Match.Seat)
	assert.Equal(t, int64(500), testutil.Balance(t, h.db, p.ID))
	assert.Equal(t, hub.KindMatchWaiting, next(t, sub).Type)

	done, err := h.svc.ExpiryCheck(ctx, res.Match.ID)
	require.NoError(t, err)
	assert.False(t, done, "not yet expired")

	h.now = h.now.Add(time.Hour)
	done, err = h.svc.ExpiryCheck(ctx, res.Match.ID)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, int64(1000), testutil.Balance(t, h.db, p.ID))

	msg := next(t, sub)
	assert.Equal(t, hub.KindMatchExpired, msg.Type)
	assert.Equal(t, match.ExpiredPayload{MatchID: res.Match.ID, Refunded: 500}, msg.Data)

	var n int64
	require.NoError(t, h.db.Model(&model.Match{}).Where("id = ?", res.Match.ID).Count(&n).Error)
	assert.Zero(t, n)

	// a second check finds nothing to do
	done, err = h.svc.ExpiryCheck(ctx, res.Match.ID)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, int64(1000), testutil.Balance(t, h.db, p.ID))
}

func TestRequestPairsWithinTolerance(t *testing.T) {
	h := newHarness(t)
	a := testutil.SeedPlayer(t, h.db, "alpha", 1000)
	b := testutil.SeedPlayer(t, h.db, "bravo", 1000)
	c := testutil.SeedPlayer(t, h.db, "charlie", 1000)
	d := testutil.SeedPlayer(t, h.db, "delta", 1000)

	first, err := h.request(game.KindFootball, a.ID, 500)
	require.NoError(t, err)

	// too far from 500
	far, err := h.request(game.KindFootball, c.ID, 600)
	require.NoError(t, err)
	assert.False(t, far.Paired)

	// other game
	other, err := h.request(game.KindConnectDots, d.ID, 500)
	require.NoError(t, err)
	assert.False(t, other.Paired)

	subA := h.hub.Subscribe(hub.PlayerTopic(a.ID), "test")
	res, err := h.request(game.KindFootball, b.ID, 540)
	require.NoError(t, err)
	assert.True(t, res.Paired)
	assert.Equal(t, first.Match.ID, res.Match.ID)
	assert.Equal(t, "B", res.Match.Seat)
	assert.Equal(t, int64(540), res.Match.Stake)
	assert.Equal(t, int64(500), res.Match.OpponentStake)
	assert.Equal(t, model.MatchActive, res.Match.Status)
	require.NotNil(t, res.Match.EndsAt)
	assert.True(t, res.Match.EndsAt.Equal(h.now.Add(90*time.Second)))
	assert.Equal(t, int64(460), testutil.Balance(t, h.db, b.ID))

	msg := next(t, subA)
	assert.Equal(t, hub.KindMatchFound, msg.Type)
	view := msg.Data.(match.View)
	assert.Equal(t, "A", view.Seat)
	require.NotNil(t, view.OpponentID)
	assert.Equal(t, b.ID, *view.OpponentID)
}

func TestRequestRejections(t *testing.T) {
	h := newHarness(t)
	p := testutil.SeedPlayer(t, h.db, "eager", 300)

	_, err := h.request(game.KindCard, p.ID, 100)
	assert.ErrorIs(t, err, appErr.ErrUnknownVariant)
	_, err = h.request(game.KindFootball, p.ID, 0)
	assert.ErrorIs(t, err, appErr.ErrInvalidSelection)
	_, err = h.request(game.KindFootball, p.ID, 5000)
	assert.ErrorIs(t, err, appErr.ErrInsufficientFunds)

	var n int64
	require.NoError(t, h.db.Model(&model.Match{}).Count(&n).Error)
	assert.Zero(t, n, "failed escrow leaves no request")

	_, err = h.request(game.KindFootball, p.ID, 100)
	require.NoError(t, err)
	_, err = h.request(game.KindConnectDots, p.ID, 100)
	assert.ErrorIs(t, err, appErr.ErrMatchPending)
	assert.Equal(t, int64(200), testutil.Balance(t, h.db, p.ID))
}

func TestRequestHonorsPlayerLock(t *testing.T) {
	h := newHarness(t)
	p := testutil.SeedPlayer(t, h.db, "double", 1000)
	require.NoError(t, h.mr.Set("match:lock:"+itoa(p.ID), "1"))

	_, err := h.request(game.KindFootball, p.ID, 100)
	assert.ErrorIs(t, err, appErr.ErrMatchPending)

	h.mr.Del("match:lock:" + itoa(p.ID))
	_, err = h.request(game.KindFootball, p.ID, 100)
	require.NoError(t, err)
	assert.False(t, h.mr.Exists("match:lock:"+itoa(p.ID)), "lock released")
}

func TestScoreAndFinish(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := testutil.SeedPlayer(t, h.db, "striker", 1000)
	b := testutil.SeedPlayer(t, h.db, "keeper", 1000)

	_, err := h.request(game.KindFootball, a.ID, 500)
	require.NoError(t, err)
	res, err := h.request(game.KindFootball, b.ID, 500)
	require.NoError(t, err)
	id := res.Match.ID

	_, err = h.svc.Score(ctx, id, a.ID, 11)
	assert.ErrorIs(t, err, appErr.ErrInvalidSelection)
	_, err = h.svc.Score(ctx, id, a.ID+b.ID, 1)
	assert.ErrorIs(t, err, appErr.ErrMatchNotFound)

	_, err = h.svc.Score(ctx, id, a.ID, 2)
	require.NoError(t, err)
	v, err := h.svc.Score(ctx, id, a.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Score)
	v, err = h.svc.Score(ctx, id, b.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Score)
	assert.Equal(t, 3, v.OpponentScore)

	resumed, err := h.svc.Resume(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, id, resumed.ID)

	st, err := h.svc.Finish(ctx, id)
	require.NoError(t, err)
	assert.True(t, st.Fresh)
	assert.Equal(t, model.OutcomeWin, st.Outcome)
	assert.Equal(t, int64(500+950), testutil.Balance(t, h.db, a.ID))
	assert.Equal(t, int64(500), testutil.Balance(t, h.db, b.ID))

	_, err = h.svc.Score(ctx, id, a.ID, 1)
	assert.ErrorIs(t, err, appErr.ErrMatchNotActive)
	_, err = h.svc.Resume(ctx, a.ID)
	assert.ErrorIs(t, err, appErr.ErrMatchNotFound)
}

func TestSweepFinishesOverdueMatches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := testutil.SeedPlayer(t, h.db, "home", 1000)
	b := testutil.SeedPlayer(t, h.db, "away", 1000)
	lonely := testutil.SeedPlayer(t, h.db, "lonely", 1000)

	_, err := h.request(game.KindFootball, a.ID, 200)
	require.NoError(t, err)
	res, err := h.request(game.KindFootball, b.ID, 200)
	require.NoError(t, err)
	_, err = h.request(game.KindConnectDots, lonely.ID, 100)
	require.NoError(t, err)

	h.now = h.now.Add(2 * time.Minute)
	_, err = h.svc.Score(ctx, res.Match.ID, a.ID, 1)
	assert.ErrorIs(t, err, appErr.ErrMatchNotActive, "time is up")

	h.now = h.now.Add(time.Hour)
	require.NoError(t, h.svc.Sweep(ctx))

	var m model.Match
	require.NoError(t, h.db.First(&m, res.Match.ID).Error)
	assert.Equal(t, model.MatchCompleted, m.Status)
	assert.Equal(t, model.OutcomeDraw, m.Outcome)
	assert.Equal(t, int64(1000), testutil.Balance(t, h.db, a.ID))
	assert.Equal(t, int64(1000), testutil.Balance(t, h.db, lonely.ID))
}

func TestCancelRefundsWaitingRequest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := testutil.SeedPlayer(t, h.db, "quitter", 1000)

	assert.ErrorIs(t, h.svc.Cancel(ctx, p.ID), appErr.ErrMatchNotFound)

	_, err := h.request(game.KindConnectDots, p.ID, 250)
	require.NoError(t, err)
	require.NoError(t, h.svc.Cancel(ctx, p.ID))
	assert.Equal(t, int64(1000), testutil.Balance(t, h.db, p.ID))

	_, err = h.svc.Resume(ctx, p.ID)
	assert.ErrorIs(t, err, appErr.ErrMatchNotFound)
}
