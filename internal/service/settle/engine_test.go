package settle_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"arcade-service/internal/model"
	"arcade-service/internal/service/game"
	"arcade-service/internal/service/ledger"
	"arcade-service/internal/service/settle"
	"arcade-service/internal/testutil"
	appErr "arcade-service/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	ledger *ledger.Service
	engine *settle.Engine
}

func newFixture(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	return &fixture{db: db, ledger: ledger.NewService(db), engine: settle.NewEngine(db)}
}

func (f *fixture) openRound(t *testing.T, kind game.Kind) *model.Round {
	t.Helper()
	table := &model.Table{Variant: string(kind), Name: kind.Title(), TotalsJSON: datatypes.JSON("{}")}
	require.NoError(t, f.db.Create(table).Error)
	now := time.Now()
	closeAt := now.Add(time.Minute)
	rnd := &model.Round{
		PublicID:    uuid.NewString(),
		TableID:     table.ID,
		Variant:     string(kind),
		Phase:       model.PhaseActive,
		StartTime:   &now,
		BetsCloseAt: &closeAt,
	}
	require.NoError(t, f.db.Create(rnd).Error)
	require.NoError(t, f.db.Model(table).Update("active_round_id", rnd.ID).Error)
	return rnd
}

func (f *fixture) bet(t *testing.T, playerID, roundID int64, sel ledger.Selection) *model.Bet {
	t.Helper()
	receipt, err := f.ledger.PlaceBet(context.Background(), ledger.PlaceBetRequest{PlayerID: playerID, RoundID: roundID, Selection: sel})
	require.NoError(t, err)
	return &receipt.Bet
}

// reveal closes betting with a chosen outcome.
func (f *fixture) reveal(t *testing.T, roundID int64, outcome interface{}) {
	t.Helper()
	raw, err := json.Marshal(outcome)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&model.Round{}).Where("id = ?", roundID).Updates(map[string]interface{}{
		"phase":        model.PhaseResults,
		"outcome_json": datatypes.JSON(raw),
	}).Error)
}

func TestSettleCardPoolSharesWinners(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rnd := f.openRound(t, game.KindCard)

	players := make([]*model.Player, 5)
	for i, name := range []string{"a", "b", "c", "d", "e"} {
		players[i] = testutil.SeedPlayer(t, f.db, name, 1000)
	}
	for i, p := range players {
		side := game.SideNumber
		if i < 2 {
			side = game.SidePicture
		}
		f.bet(t, p.ID, rnd.ID, game.CardSelection{Side: side, Amount: 100})
	}
	f.reveal(t, rnd.ID, game.CardOutcome{Card: "king_of_spades", Side: game.SidePicture})

	s, err := f.engine.SettleRound(ctx, rnd.ID)
	require.NoError(t, err)
	assert.True(t, s.Fresh)
	require.Len(t, s.Results, 5)

	assert.Equal(t, int64(1095), testutil.Balance(t, f.db, players[0].ID))
	assert.Equal(t, int64(1095), testutil.Balance(t, f.db, players[1].ID))
	for _, p := range players[2:] {
		assert.Equal(t, int64(900), testutil.Balance(t, f.db, p.ID))
	}

	byPlayer := make(map[int64]model.Result)
	for _, r := range s.Results {
		byPlayer[r.PlayerID] = r
	}
	assert.Equal(t, model.OutcomeWin, byPlayer[players[0].ID].Outcome)
	assert.Equal(t, int64(195), byPlayer[players[0].ID].Returned)
	assert.Equal(t, model.OutcomeLoss, byPlayer[players[4].ID].Outcome)
	assert.Zero(t, byPlayer[players[4].ID].Returned)

	var open int64
	require.NoError(t, f.db.Model(&model.Bet{}).Where("round_id = ? AND settled = ?", rnd.ID, false).Count(&open).Error)
	assert.Zero(t, open)
}

func TestSettlePoolNeverExceedsPrize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rnd := f.openRound(t, game.KindCard)

	small := testutil.SeedPlayer(t, f.db, "small", 1000)
	big := testutil.SeedPlayer(t, f.db, "big", 2000)
	f.bet(t, small.ID, rnd.ID, game.CardSelection{Side: game.SideNumber, Amount: 100})
	f.bet(t, big.ID, rnd.ID, game.CardSelection{Side: game.SideNumber, Amount: 1000})
	f.reveal(t, rnd.ID, game.CardOutcome{Card: "7", Side: game.SideNumber})

	s, err := f.engine.SettleRound(ctx, rnd.ID)
	require.NoError(t, err)

	_, prize := game.SplitPool(1100)
	var paid int64
	for _, r := range s.Results {
		assert.LessOrEqual(t, r.Returned, game.PoolDesired(r.Staked))
		paid += r.Returned
	}
	assert.LessOrEqual(t, paid, prize)

	total := testutil.Balance(t, f.db, small.ID) + testutil.Balance(t, f.db, big.ID)
	assert.Equal(t, int64(3000-1100)+paid, total)
}

func TestSettleRoundOnlyOnceUnderRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rnd := f.openRound(t, game.KindDice)

	p := testutil.SeedPlayer(t, f.db, "racer", 1000)
	f.bet(t, p.ID, rnd.ID, game.DiceSelection{Side: game.DiceUp, SideAmount: 100})
	f.reveal(t, rnd.ID, game.DiceOutcome{Dice: [2]int{4, 5}, Total: 9, Side: game.DiceUp})

	var fresh atomic.Int64
	var g errgroup.Group
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			s, err := f.engine.SettleRound(ctx, rnd.ID)
			if err != nil {
				return err
			}
			if s.Fresh {
				fresh.Add(1)
			}
			if len(s.Results) != 1 {
				t.Errorf("expected one result, got %d", len(s.Results))
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(1), fresh.Load())
	assert.Equal(t, int64(900+190), testutil.Balance(t, f.db, p.ID))

	var payouts int64
	require.NoError(t, f.db.Model(&model.BillingLog{}).Where("player_id = ? AND type = ?", p.ID, model.BillingPayout).Count(&payouts).Error)
	assert.Equal(t, int64(1), payouts)
}

func TestSettleRoundRequiresResults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rnd := f.openRound(t, game.KindColor)

	_, err := f.engine.SettleRound(ctx, rnd.ID)
	assert.ErrorIs(t, err, appErr.ErrRoundClosed)

	_, err = f.engine.SettleRound(ctx, rnd.ID+1)
	assert.ErrorIs(t, err, appErr.ErrRoundNotFound)
}

func TestSettleEmptyRound(t *testing.T) {
	f := newFixture(t)
	rnd := f.openRound(t, game.KindColor)
	f.reveal(t, rnd.ID, game.ColorOutcome{Number: 0, Color: game.ColorViolet, Size: game.SizeSmall})

	s, err := f.engine.SettleRound(context.Background(), rnd.ID)
	require.NoError(t, err)
	assert.True(t, s.Fresh)
	assert.Empty(t, s.Results)

	var stored model.Round
	require.NoError(t, f.db.First(&stored, rnd.ID).Error)
	assert.NotNil(t, stored.SettledAt)
}

func TestSettleCashoutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rnd := f.openRound(t, game.KindRocket)

	early := testutil.SeedPlayer(t, f.db, "early", 1000)
	greedy := testutil.SeedPlayer(t, f.db, "greedy", 1000)
	bet := f.bet(t, early.ID, rnd.ID, game.RocketSelection{Amount: 50, Target: 150})
	f.bet(t, greedy.ID, rnd.ID, game.RocketSelection{Amount: 50, Target: 300})
	f.reveal(t, rnd.ID, game.RocketOutcome{CrashPoint: 200, Display: "2.00"})

	_, _, err := f.engine.SettleCashout(ctx, rnd.ID, bet.ID, 140)
	assert.ErrorIs(t, err, appErr.ErrInvalidSelection)

	res, fresh, err := f.engine.SettleCashout(ctx, rnd.ID, bet.ID, 150)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, int64(117), res.Returned)

	res, fresh, err = f.engine.SettleCashout(ctx, rnd.ID, bet.ID, 150)
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, int64(117), res.Returned)
	assert.Equal(t, int64(950+117), testutil.Balance(t, f.db, early.ID))

	// the crash settles whatever is left
	s, err := f.engine.SettleRound(ctx, rnd.ID)
	require.NoError(t, err)
	require.Len(t, s.Results, 2)
	assert.Equal(t, int64(950+117), testutil.Balance(t, f.db, early.ID))
	assert.Equal(t, int64(950), testutil.Balance(t, f.db, greedy.ID))
}

func TestRevisedTargetWinsAtCrash(t *testing.T) {
	f := newFixture(t)
	rnd := f.openRound(t, game.KindRocket)

	p := testutil.SeedPlayer(t, f.db, "reviser", 1000)
	bet := f.bet(t, p.ID, rnd.ID, game.RocketSelection{Amount: 100, Target: 500})
	revised := int64(100)
	require.NoError(t, f.db.Model(bet).Update("revised_target", revised).Error)
	f.reveal(t, rnd.ID, game.RocketOutcome{CrashPoint: 120, Display: "1.20"})

	_, err := f.engine.SettleRound(context.Background(), rnd.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(900+190), testutil.Balance(t, f.db, p.ID))
}

func TestSettleMatchSplitsByScore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// stakes are already escrowed
	a := testutil.SeedPlayer(t, f.db, "home", 500)
	b := testutil.SeedPlayer(t, f.db, "away", 600)
	now := time.Now()
	m := &model.Match{
		PublicID:  uuid.NewString(),
		Variant:   string(game.KindFootball),
		PlayerAID: a.ID,
		PlayerBID: &b.ID,
		AmountA:   500,
		AmountB:   400,
		Status:    model.MatchActive,
		ScoreA:    3,
		ScoreB:    1,
		ExpiresAt: now.Add(time.Minute),
		StartedAt: &now,
	}
	require.NoError(t, f.db.Create(m).Error)

	s, err := f.engine.SettleMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, s.Fresh)
	assert.Equal(t, model.OutcomeWin, s.Outcome)
	require.Len(t, s.Results, 2)
	assert.Equal(t, int64(500+860), testutil.Balance(t, f.db, a.ID))
	assert.Equal(t, int64(600), testutil.Balance(t, f.db, b.ID))

	again, err := f.engine.SettleMatch(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, again.Fresh)
	assert.Equal(t, model.OutcomeWin, again.Outcome)
	assert.Equal(t, int64(500+860), testutil.Balance(t, f.db, a.ID))

	var stored model.Match
	require.NoError(t, f.db.First(&stored, m.ID).Error)
	assert.Equal(t, model.MatchCompleted, stored.Status)
	assert.NotNil(t, stored.EndedAt)
}

func TestSettleMatchRejectsWaiting(t *testing.T) {
	f := newFixture(t)
	a := testutil.SeedPlayer(t, f.db, "lonely", 500)
	m := &model.Match{
		PublicID:  uuid.NewString(),
		Variant:   string(game.KindConnectDots),
		PlayerAID: a.ID,
		AmountA:   100,
		Status:    model.MatchWaiting,
		ExpiresAt: time.Now().Add(time.Minute),
	}
	require.NoError(t, f.db.Create(m).Error)

	_, err := f.engine.SettleMatch(context.Background(), m.ID)
	assert.ErrorIs(t, err, appErr.ErrMatchNotActive)

	_, err = f.engine.SettleMatch(context.Background(), m.ID+1)
	assert.ErrorIs(t, err, appErr.ErrMatchNotFound)
}
