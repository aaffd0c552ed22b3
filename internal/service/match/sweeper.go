package match

import (
	"context"
	"time"

	"arcade-service/internal/model"
	"arcade-service/pkg/logger"

	"go.uber.org/zap"
)

// Start launches the sweeper once. It expires requests whose timers were
// lost to a restart and finishes active matches past their end time.
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Go(func() { s.runSweeper(ctx) })
	})
}

// Wait blocks until the sweeper has stopped.
func (s *Service) Wait() {
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Service) runSweeper(ctx context.Context) {
	logger.Log.Info("match sweeper started", zap.Duration("interval", s.cfg.SweepInterval))

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("match sweeper stopped")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				logger.Log.Warn("match sweep error", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass over overdue matches.
func (s *Service) Sweep(ctx context.Context) error {
	now := s.now()

	var expired []int64
	err := s.db.WithContext(ctx).Model(&model.Match{}).
		Where("status = ? AND expires_at <= ?", model.MatchWaiting, now).
		Pluck("id", &expired).Error
	if err != nil {
		return err
	}
	for _, id := range expired {
		if _, err := s.ExpiryCheck(ctx, id); err != nil {
			logger.Log.Warn("match expiry failed", zap.Int64("matchID", id), zap.Error(err))
		}
	}

	var finished []int64
	err = s.db.WithContext(ctx).Model(&model.Match{}).
		Where("status = ? AND ends_at <= ?", model.MatchActive, now).
		Pluck("id", &finished).Error
	if err != nil {
		return err
	}
	for _, id := range finished {
		if _, err := s.Finish(ctx, id); err != nil {
			logger.Log.Warn("match finish failed", zap.Int64("matchID", id), zap.Error(err))
		}
	}
	return nil
}
