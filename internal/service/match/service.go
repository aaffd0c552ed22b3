package match

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"arcade-service/internal/config"
	"arcade-service/internal/model"
	"arcade-service/internal/service/game"
	"arcade-service/internal/service/hub"
	"arcade-service/internal/service/ledger"
	"arcade-service/internal/service/settle"
	appErr "arcade-service/pkg/errors"
	"arcade-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxPointsPerScore = 10

type Config struct {
	Tolerance     int64
	Expiry        time.Duration
	SweepInterval time.Duration
	LockTTL       time.Duration
	Durations     map[game.Kind]time.Duration
}

func ConfigFrom(c config.MatchConfig) Config {
	cfg := Config{
		Tolerance:     c.Tolerance,
		Expiry:        c.Expiry,
		SweepInterval: c.SweepInterval,
		LockTTL:       10 * time.Second,
		Durations:     make(map[game.Kind]time.Duration),
	}
	for name, d := range c.Durations {
		if kind, err := game.ParseKind(name); err == nil {
			cfg.Durations[kind] = d
		}
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 3 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	return cfg
}

func (c Config) duration(kind game.Kind) time.Duration {
	if d, ok := c.Durations[kind]; ok && d > 0 {
		return d
	}
	return 90 * time.Second
}

type Service struct {
	db     *gorm.DB
	rdb    *redis.Client
	engine *settle.Engine
	pub    hub.Publisher
	cfg    Config
	now    func() time.Time

	mu     sync.Mutex
	timers map[int64]*time.Timer

	startOnce sync.Once
	wg        conc.WaitGroup
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(db *gorm.DB, rdb *redis.Client, engine *settle.Engine, pub hub.Publisher, cfg Config, opts ...Option) *Service {
	s := &Service{
		db:     db,
		rdb:    rdb,
		engine: engine,
		pub:    pub,
		cfg:    cfg,
		now:    time.Now,
		timers: make(map[int64]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestMatch pairs the player with the oldest compatible waiting request,
// or files a new one. Either way the stake is escrowed immediately.
func (s *Service) RequestMatch(ctx context.Context, req RequestMatchRequest) (*RequestResult, error) {
	if req.Variant.Mode() != game.ModeMatch {
		return nil, fmt.Errorf("%w: %q is not a head-to-head game", appErr.ErrUnknownVariant, req.Variant)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: stake must be positive", appErr.ErrInvalidSelection)
	}

	got, err := s.rdb.SetNX(ctx, lockKey(req.PlayerID), 1, s.cfg.LockTTL).Result()
	if err != nil {
		return nil, appErr.Transient(err)
	}
	if !got {
		return nil, fmt.Errorf("%w: request in progress", appErr.ErrMatchPending)
	}
	defer s.rdb.Del(context.WithoutCancel(ctx), lockKey(req.PlayerID))

	now := s.now()
	var m model.Match
	paired := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		err := tx.Model(&model.Match{}).
			Where("(player_a_id = ? OR player_b_id = ?) AND status IN ?", req.PlayerID, req.PlayerID,
				[]model.MatchStatus{model.MatchWaiting, model.MatchActive}).
			Count(&open).Error
		if err != nil {
			return appErr.Transient(err)
		}
		if open > 0 {
			return appErr.ErrMatchPending
		}

		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("variant = ? AND status = ? AND player_a_id <> ? AND expires_at > ?",
				string(req.Variant), model.MatchWaiting, req.PlayerID, now).
			Where("amount_a BETWEEN ? AND ?", req.Amount-s.cfg.Tolerance, req.Amount+s.cfg.Tolerance).
			Order("id").
			First(&m).Error
		found := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.Transient(err)
		}

		if found {
			endsAt := now.Add(s.cfg.duration(req.Variant))
			m.PlayerBID = &req.PlayerID
			m.AmountB = req.Amount
			m.Status = model.MatchActive
			m.StartedAt = &now
			m.EndsAt = &endsAt
			err = tx.Model(&m).Updates(map[string]interface{}{
				"player_b_id": req.PlayerID,
				"amount_b":    req.Amount,
				"status":      model.MatchActive,
				"started_at":  now,
				"ends_at":     endsAt,
			}).Error
			if err != nil {
				return appErr.Transient(err)
			}
			paired = true
		} else {
			m = model.Match{
				PublicID:  uuid.NewString(),
				Variant:   string(req.Variant),
				PlayerAID: req.PlayerID,
				AmountA:   req.Amount,
				Status:    model.MatchWaiting,
				ExpiresAt: now.Add(s.cfg.Expiry),
			}
			if err := tx.Create(&m).Error; err != nil {
				return appErr.Transient(err)
			}
		}

		book := ledger.NewBook(tx, now)
		if _, err := book.Debit(req.PlayerID, req.Amount, ledger.Entry{
			Type:    model.BillingEscrow,
			MatchID: &m.ID,
			Meta:    map[string]interface{}{"variant": m.Variant},
		}); err != nil {
			return err
		}
		return book.Flush()
	})
	if err != nil {
		return nil, err
	}

	if paired {
		s.stopTimer(m.ID)
		for _, pid := range []int64{m.PlayerAID, *m.PlayerBID} {
			s.pub.Publish(hub.PlayerTopic(pid), hub.KindMatchFound, viewFor(&m, pid))
		}
		logger.Log.Info("match paired",
			zap.Int64("matchID", m.ID),
			zap.Int64("playerA", m.PlayerAID),
			zap.Int64("playerB", req.PlayerID))
	} else {
		s.scheduleExpiry(m.ID, m.ExpiresAt.Sub(now))
		s.pub.Publish(hub.PlayerTopic(req.PlayerID), hub.KindMatchWaiting, viewFor(&m, req.PlayerID))
		logger.Log.Info("match request filed", zap.Int64("matchID", m.ID), zap.Int64("playerID", req.PlayerID))
	}
	return &RequestResult{Match: viewFor(&m, req.PlayerID), Paired: paired}, nil
}

// ExpiryCheck refunds and deletes a request that is still unpaired past its
// expiry. It reports whether it did so.
func (s *Service) ExpiryCheck(ctx context.Context, matchID int64) (bool, error) {
	return s.withdraw(ctx, matchID, false)
}

// Cancel withdraws the player's own waiting request and refunds the stake.
func (s *Service) Cancel(ctx context.Context, playerID int64) error {
	var m model.Match
	err := s.db.WithContext(ctx).
		Where("player_a_id = ? AND status = ?", playerID, model.MatchWaiting).
		Order("id DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.ErrMatchNotFound
		}
		return appErr.Transient(err)
	}
	ok, err := s.withdraw(ctx, m.ID, true)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: match %d already paired", appErr.ErrMatchNotActive, m.ID)
	}
	return nil
}

func (s *Service) withdraw(ctx context.Context, matchID int64, force bool) (bool, error) {
	var m model.Match
	done := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, matchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return appErr.Transient(err)
		}
		if m.Status != model.MatchWaiting {
			return nil
		}
		now := s.now()
		if !force && now.Before(m.ExpiresAt) {
			return nil
		}

		book := ledger.NewBook(tx, now)
		if _, err := book.Credit(m.PlayerAID, m.AmountA, ledger.Entry{
			Type:    model.BillingRefund,
			MatchID: &m.ID,
			Meta:    map[string]interface{}{"variant": m.Variant, "cancelled": force},
		}); err != nil {
			return err
		}
		if err := book.Flush(); err != nil {
			return err
		}
		if err := tx.Delete(&model.Match{}, m.ID).Error; err != nil {
			return appErr.Transient(err)
		}
		done = true
		return nil
	})
	if err != nil {
		return false, err
	}
	s.stopTimer(matchID)
	if done {
		s.pub.Publish(hub.PlayerTopic(m.PlayerAID), hub.KindMatchExpired, ExpiredPayload{MatchID: m.ID, Refunded: m.AmountA})
		logger.Log.Info("match request withdrawn",
			zap.Int64("matchID", m.ID),
			zap.Int64("playerID", m.PlayerAID),
			zap.Bool("cancelled", force))
	}
	return done, nil
}

// Resume finds the player's waiting or active match by identity.
func (s *Service) Resume(ctx context.Context, playerID int64) (*View, error) {
	var m model.Match
	err := s.db.WithContext(ctx).
		Where("(player_a_id = ? OR player_b_id = ?) AND status IN ?", playerID, playerID,
			[]model.MatchStatus{model.MatchWaiting, model.MatchActive}).
		Order("id DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrMatchNotFound
		}
		return nil, appErr.Transient(err)
	}
	if m.Status == model.MatchWaiting && !s.now().Before(m.ExpiresAt) {
		if _, err := s.ExpiryCheck(ctx, m.ID); err != nil {
			return nil, err
		}
		return nil, appErr.ErrMatchExpired
	}
	v := viewFor(&m, playerID)
	return &v, nil
}

// Score adds points for the player in an active match.
func (s *Service) Score(ctx context.Context, matchID, playerID int64, points int) (*View, error) {
	if points <= 0 || points > maxPointsPerScore {
		return nil, fmt.Errorf("%w: points must be within 1..%d", appErr.ErrInvalidSelection, maxPointsPerScore)
	}
	var m model.Match
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, matchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return appErr.ErrMatchNotFound
			}
			return appErr.Transient(err)
		}
		if m.Status != model.MatchActive || (m.EndsAt != nil && !s.now().Before(*m.EndsAt)) {
			return fmt.Errorf("%w: match %d is over", appErr.ErrMatchNotActive, m.ID)
		}

		column := ""
		switch {
		case m.PlayerAID == playerID:
			m.ScoreA += points
			column = "score_a"
		case m.PlayerBID != nil && *m.PlayerBID == playerID:
			m.ScoreB += points
			column = "score_b"
		default:
			return appErr.ErrMatchNotFound
		}
		if err := tx.Model(&model.Match{}).Where("id = ?", m.ID).
			Update(column, gorm.Expr(column+" + ?", points)).Error; err != nil {
			return appErr.Transient(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, pid := range []int64{m.PlayerAID, *m.PlayerBID} {
		s.pub.Publish(hub.PlayerTopic(pid), hub.KindMatchUpdate, viewFor(&m, pid))
	}
	v := viewFor(&m, playerID)
	return &v, nil
}

// Finish settles an active match and tells both players.
func (s *Service) Finish(ctx context.Context, matchID int64) (*settle.MatchSettlement, error) {
	st, err := s.engine.SettleMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !st.Fresh {
		return st, nil
	}
	var m model.Match
	if err := s.db.WithContext(ctx).First(&m, matchID).Error; err != nil {
		return nil, appErr.Transient(err)
	}
	for _, r := range st.Results {
		payload := ResultPayload{MatchID: m.ID, Returned: r.Returned, Outcome: r.Outcome}
		if r.PlayerID == m.PlayerAID {
			payload.Score, payload.Opponent = m.ScoreA, m.ScoreB
		} else {
			payload.Score, payload.Opponent = m.ScoreB, m.ScoreA
		}
		s.pub.Publish(hub.PlayerTopic(r.PlayerID), hub.KindMatchResult, payload)
	}
	return st, nil
}

func (s *Service) scheduleExpiry(matchID int64, after time.Duration) {
	if after < 0 {
		after = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[matchID]; ok {
		old.Stop()
	}
	s.timers[matchID] = time.AfterFunc(after, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.ExpiryCheck(ctx, matchID); err != nil {
			logger.Log.Warn("match expiry check failed", zap.Int64("matchID", matchID), zap.Error(err))
		}
	})
}

func (s *Service) stopTimer(matchID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[matchID]; ok {
		t.Stop()
		delete(s.timers, matchID)
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
