package table

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"arcade-service/internal/model"
	"arcade-service/internal/service/flight"
	"arcade-service/internal/service/game"
	"arcade-service/internal/service/hub"
	"arcade-service/internal/service/ledger"
	"arcade-service/internal/service/round"
	"arcade-service/internal/service/scheduler"
	"arcade-service/internal/service/settle"
	appErr "arcade-service/pkg/errors"
	"arcade-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	totalsTTL   = 10 * time.Minute
	totalsStamp = "_sum"
	joinTimeout = 10 * time.Second
)

// storeTotals keeps the newest snapshot only. Round totals only grow, so
// their sum orders snapshots written by racing bets.
var storeTotals = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[2]) or '-1')
local sum = tonumber(ARGV[1])
local fresh = 0
if sum > cur then
	for i = 4, #ARGV, 2 do
		redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
	end
	redis.call('HSET', KEYS[1], ARGV[2], ARGV[1])
	fresh = 1
end
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return fresh
`)

type BetPlaced struct {
	RoundID      int64               `json:"roundId"`
	PlayerID     int64               `json:"playerId"`
	Totals       map[string]int64    `json:"totals"`
	Participants []round.Participant `json:"participants"`
}

type Info struct {
	TableID int64  `json:"tableId"`
	Variant string `json:"variant"`
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// Service is what transports talk to for round-based games.
type Service struct {
	machine  *round.Machine
	ledger   *ledger.Service
	engine   *settle.Engine
	registry *scheduler.Registry
	flights  *flight.Runner
	pub      hub.Publisher
	rdb      *redis.Client

	joins singleflight.Group
}

func NewService(machine *round.Machine, ledgerSvc *ledger.Service, engine *settle.Engine, registry *scheduler.Registry, flights *flight.Runner, pub hub.Publisher, rdb *redis.Client) *Service {
	return &Service{
		machine:  machine,
		ledger:   ledgerSvc,
		engine:   engine,
		registry: registry,
		flights:  flights,
		pub:      pub,
		rdb:      rdb,
	}
}

// Join makes sure the table, its active round and its loop exist, then
// returns a snapshot. Concurrent joins of one variant share a single call.
func (s *Service) Join(ctx context.Context, kind game.Kind) (*round.Snapshot, error) {
	shared := context.WithoutCancel(ctx)
	v, err, _ := s.joins.Do("join:"+string(kind), func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(shared, joinTimeout)
		defer cancel()
		table, err := s.machine.EnsureTable(ctx, kind)
		if err != nil {
			return nil, err
		}
		rnd, created, err := s.machine.EnsureActiveRound(ctx, table.ID)
		if err != nil {
			return nil, err
		}
		if created && rnd.BetsCloseAt != nil {
			s.pub.Publish(hub.TableTopic(table.ID), hub.KindRoundStarted, scheduler.RoundStarted{
				RoundID:     rnd.ID,
				PublicID:    rnd.PublicID,
				BetsCloseAt: *rnd.BetsCloseAt,
			})
		}
		s.registry.Ensure(table.ID, kind)
		return s.snapshot(ctx, table.ID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*round.Snapshot), nil
}

func (s *Service) Snapshot(ctx context.Context, kind game.Kind) (*round.Snapshot, error) {
	table, err := s.machine.EnsureTable(ctx, kind)
	if err != nil {
		return nil, err
	}
	return s.snapshot(ctx, table.ID)
}

func (s *Service) snapshot(ctx context.Context, tableID int64) (*round.Snapshot, error) {
	snap, err := s.machine.Snapshot(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if snap.RoundID != 0 {
		if cached, ok := s.cachedTotals(ctx, snap.RoundID); ok {
			snap.Totals = cached
		}
	}
	return snap, nil
}

// PlaceBet decodes the variant selection and wagers it on the active round.
func (s *Service) PlaceBet(ctx context.Context, playerID int64, kind game.Kind, raw []byte) (*ledger.Receipt, error) {
	variant, err := game.Lookup(kind)
	if err != nil {
		return nil, err
	}
	sel, err := variant.DecodeSelection(raw)
	if err != nil {
		return nil, err
	}
	table, rnd, err := s.current(ctx, kind)
	if err != nil {
		return nil, err
	}

	receipt, err := s.ledger.PlaceBet(ctx, ledger.PlaceBetRequest{
		PlayerID:  playerID,
		RoundID:   rnd.ID,
		Selection: sel,
	})
	if err != nil {
		return nil, err
	}

	s.cacheTotals(ctx, rnd.ID, receipt.Totals)
	participants, err := s.machine.Participants(ctx, rnd.ID)
	if err != nil {
		logger.Log.Warn("participants unavailable", zap.Int64("roundID", rnd.ID), zap.Error(err))
	}
	s.pub.Publish(hub.TableTopic(table.ID), hub.KindBetPlaced, BetPlaced{
		RoundID:      rnd.ID,
		PlayerID:     playerID,
		Totals:       receipt.Totals,
		Participants: participants,
	})
	return receipt, nil
}

// ReviseCashout lowers the player's rocket target for the current round.
func (s *Service) ReviseCashout(ctx context.Context, playerID int64, target decimal.Decimal) (*model.Bet, error) {
	hundredths, err := game.ParseMultiplier(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrRevisionRejected, err)
	}
	_, rnd, err := s.current(ctx, game.KindRocket)
	if err != nil {
		return nil, err
	}
	return s.flights.ReviseTarget(ctx, playerID, rnd.ID, hundredths)
}

func (s *Service) History(ctx context.Context, kind game.Kind, n int) ([]round.Summary, error) {
	table, err := s.machine.EnsureTable(ctx, kind)
	if err != nil {
		return nil, err
	}
	return s.machine.Recent(ctx, table.ID, n)
}

func (s *Service) Results(ctx context.Context, roundID int64) ([]model.Result, error) {
	if _, err := s.machine.Round(ctx, roundID); err != nil {
		return nil, err
	}
	return s.engine.RoundResults(ctx, roundID)
}

func (s *Service) Tables(ctx context.Context) ([]Info, error) {
	out := make([]Info, 0, len(game.RoundKinds()))
	for _, kind := range game.RoundKinds() {
		t, err := s.machine.EnsureTable(ctx, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, Info{
			TableID: t.ID,
			Variant: t.Variant,
			Name:    t.Name,
			Running: s.registry.Running(t.ID),
		})
	}
	return out, nil
}

func (s *Service) current(ctx context.Context, kind game.Kind) (*model.Table, *model.Round, error) {
	table, err := s.machine.EnsureTable(ctx, kind)
	if err != nil {
		return nil, nil, err
	}
	_, rnd, err := s.machine.Current(ctx, table.ID)
	if err != nil {
		return nil, nil, err
	}
	if rnd == nil {
		return nil, nil, fmt.Errorf("%w: no round on %s", appErr.ErrRoundClosed, kind)
	}
	return table, rnd, nil
}

func totalsKey(roundID int64) string {
	return "round:" + strconv.FormatInt(roundID, 10) + ":totals"
}

func (s *Service) cacheTotals(ctx context.Context, roundID int64, totals map[string]int64) {
	if s.rdb == nil || len(totals) == 0 {
		return
	}
	var sum int64
	args := []interface{}{0, totalsStamp, totalsTTL.Milliseconds()}
	for k, v := range totals {
		sum += v
		args = append(args, k, v)
	}
	args[0] = sum
	if err := storeTotals.Run(ctx, s.rdb, []string{totalsKey(roundID)}, args...).Err(); err != nil {
		logger.Log.Warn("totals cache write failed", zap.Int64("roundID", roundID), zap.Error(err))
	}
}

func (s *Service) cachedTotals(ctx context.Context, roundID int64) (map[string]int64, bool) {
	if s.rdb == nil {
		return nil, false
	}
	raw, err := s.rdb.HGetAll(ctx, totalsKey(roundID)).Result()
	if err != nil || len(raw) == 0 {
		return nil, false
	}
	totals := make(map[string]int64, len(raw))
	for k, v := range raw {
		if k == totalsStamp {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, false
		}
		totals[k] = n
	}
	return totals, true
}
