package settle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"arcade-service/internal/model"
	"arcade-service/internal/service/game"
	"arcade-service/internal/service/ledger"
	appErr "arcade-service/pkg/errors"
	"arcade-service/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Engine struct {
	db         *gorm.DB
	strategies map[game.Kind]Strategy
	duel       HeadToHeadStrategy
	now        func() time.Time
}

// Settlement is the full result set of a round. Fresh is false when the round
// had already been settled and nothing was written.
type Settlement struct {
	RoundID int64          `json:"roundId"`
	Results []model.Result `json:"results"`
	Fresh   bool           `json:"-"`
}

type MatchSettlement struct {
	MatchID int64          `json:"matchId"`
	Outcome model.Outcome  `json:"outcome"`
	Results []model.Result `json:"results"`
	Fresh   bool           `json:"-"`
}

func NewEngine(db *gorm.DB) *Engine {
	return &Engine{
		db:         db,
		strategies: DefaultStrategies(),
		now:        time.Now,
	}
}

// SettleRound pays out every open bet of a round once. A second call, or a
// call racing the first, returns the stored results and moves no coins.
func (e *Engine) SettleRound(ctx context.Context, roundID int64) (*Settlement, error) {
	fresh := false
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rnd model.Round
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rnd, roundID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return appErr.ErrRoundNotFound
			}
			return appErr.Transient(err)
		}
		if rnd.SettledAt != nil {
			return appErr.ErrDuplicateSettlement
		}
		if rnd.Phase.Rank() < model.PhaseResults.Rank() {
			return fmt.Errorf("%w: round %d is still %s", appErr.ErrRoundClosed, rnd.ID, rnd.Phase)
		}
		strategy, ok := e.strategies[game.Kind(rnd.Variant)]
		if !ok {
			return fmt.Errorf("%w: no settlement for %q", appErr.ErrUnknownVariant, rnd.Variant)
		}

		var bets []model.Bet
		if err := tx.Where("round_id = ? AND settled = ?", rnd.ID, false).Order("id").Find(&bets).Error; err != nil {
			return appErr.Transient(err)
		}
		payouts, err := strategy.Compute(&rnd, bets)
		if err != nil {
			return err
		}

		now := e.now()
		if err := e.record(tx, now, payouts, ledger.Entry{Type: model.BillingPayout, RoundID: &rnd.ID}, func(r *model.Result) {
			r.RoundID = &rnd.ID
		}); err != nil {
			return err
		}
		if len(bets) > 0 {
			ids := make([]int64, len(bets))
			for i, b := range bets {
				ids[i] = b.ID
			}
			if err := tx.Model(&model.Bet{}).Where("id IN ?", ids).Update("settled", true).Error; err != nil {
				return appErr.Transient(err)
			}
		}
		if err := tx.Model(&rnd).Update("settled_at", now).Error; err != nil {
			return appErr.Transient(err)
		}
		fresh = true
		return nil
	})
	if err != nil && !errors.Is(err, appErr.ErrDuplicateSettlement) {
		return nil, err
	}

	results, err := e.RoundResults(ctx, roundID)
	if err != nil {
		return nil, err
	}
	if fresh {
		logger.Log.Info("round settled", zap.Int64("roundID", roundID), zap.Int("results", len(results)))
	}
	return &Settlement{RoundID: roundID, Results: results, Fresh: fresh}, nil
}

// SettleCashout pays one rocket bet whose target the flight just reached.
// It is a no-op returning the stored result when the bet is already settled.
func (e *Engine) SettleCashout(ctx context.Context, roundID, betID, multiplier int64) (*model.Result, bool, error) {
	var result model.Result
	fresh := false
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rnd model.Round
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rnd, roundID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return appErr.ErrRoundNotFound
			}
			return appErr.Transient(err)
		}

		var bet model.Bet
		if err := tx.Where("id = ? AND round_id = ?", betID, roundID).First(&bet).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: bet %d", appErr.ErrInvalidSelection, betID)
			}
			return appErr.Transient(err)
		}
		if bet.Settled || rnd.SettledAt != nil {
			return appErr.ErrDuplicateSettlement
		}
		if rnd.Phase != model.PhaseResults {
			return fmt.Errorf("%w: round %d is %s", appErr.ErrRoundClosed, rnd.ID, rnd.Phase)
		}

		var out game.RocketOutcome
		if err := json.Unmarshal(rnd.OutcomeJSON, &out); err != nil {
			return fmt.Errorf("round %d: bad rocket outcome: %w", rnd.ID, err)
		}
		target := EffectiveTarget(bet)
		if target != multiplier || multiplier > out.CrashPoint {
			return fmt.Errorf("%w: target %s not reached at %s", appErr.ErrInvalidSelection,
				game.FormatMultiplier(target), game.FormatMultiplier(multiplier))
		}

		payout := game.Payout{
			PlayerID: bet.PlayerID,
			BetID:    bet.ID,
			Staked:   bet.Amount,
			Returned: game.CashoutReturn(bet.Amount, multiplier),
			Outcome:  model.OutcomeWin,
			Detail:   map[string]interface{}{"target": game.FormatMultiplier(multiplier)},
		}
		now := e.now()
		if err := e.record(tx, now, []game.Payout{payout}, ledger.Entry{Type: model.BillingPayout, RoundID: &rnd.ID}, func(r *model.Result) {
			r.RoundID = &rnd.ID
		}); err != nil {
			return err
		}
		if err := tx.Model(&bet).Update("settled", true).Error; err != nil {
			return appErr.Transient(err)
		}
		fresh = true
		return nil
	})
	if err != nil && !errors.Is(err, appErr.ErrDuplicateSettlement) {
		return nil, false, err
	}

	var bet model.Bet
	if err := e.db.WithContext(ctx).Select("player_id").First(&bet, betID).Error; err != nil {
		return nil, false, appErr.Transient(err)
	}
	if err := e.db.WithContext(ctx).Where("round_id = ? AND player_id = ?", roundID, bet.PlayerID).First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, appErr.Transient(err)
	}
	return &result, fresh, nil
}

// SettleMatch splits the escrowed stakes of an active match by score.
func (e *Engine) SettleMatch(ctx context.Context, matchID int64) (*MatchSettlement, error) {
	fresh := false
	var outcome model.Outcome
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.Match
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, matchID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return appErr.ErrMatchNotFound
			}
			return appErr.Transient(err)
		}
		if m.Status == model.MatchCompleted {
			outcome = m.Outcome
			return appErr.ErrDuplicateSettlement
		}
		if m.Status != model.MatchActive || m.PlayerBID == nil {
			return fmt.Errorf("%w: match %d is %s", appErr.ErrMatchNotActive, m.ID, m.Status)
		}

		payouts := e.duel.Duel(&m)
		now := e.now()
		entry := ledger.Entry{Type: model.BillingPayout, MatchID: &m.ID}
		if err := e.record(tx, now, payouts, entry, func(r *model.Result) {
			r.MatchID = &m.ID
		}); err != nil {
			return err
		}

		outcome = payouts[0].Outcome
		err := tx.Model(&m).Updates(map[string]interface{}{
			"status":   model.MatchCompleted,
			"outcome":  outcome,
			"ended_at": now,
		}).Error
		if err != nil {
			return appErr.Transient(err)
		}
		fresh = true
		return nil
	})
	if err != nil && !errors.Is(err, appErr.ErrDuplicateSettlement) {
		return nil, err
	}

	var results []model.Result
	if err := e.db.WithContext(ctx).Where("match_id = ?", matchID).Order("id").Find(&results).Error; err != nil {
		return nil, appErr.Transient(err)
	}
	if fresh {
		logger.Log.Info("match settled", zap.Int64("matchID", matchID), zap.String("outcome", string(outcome)))
	}
	return &MatchSettlement{MatchID: matchID, Outcome: outcome, Results: results, Fresh: fresh}, nil
}

func (e *Engine) RoundResults(ctx context.Context, roundID int64) ([]model.Result, error) {
	results := make([]model.Result, 0)
	if err := e.db.WithContext(ctx).Where("round_id = ?", roundID).Order("id").Find(&results).Error; err != nil {
		return nil, appErr.Transient(err)
	}
	return results, nil
}

// record writes one Result per payout and credits the returns. A unique
// index hit means someone else settled first.
func (e *Engine) record(tx *gorm.DB, now time.Time, payouts []game.Payout, entry ledger.Entry, link func(*model.Result)) error {
	if len(payouts) == 0 {
		return nil
	}
	book := ledger.NewBook(tx, now)
	results := make([]model.Result, 0, len(payouts))
	for _, p := range payouts {
		detail, err := json.Marshal(p.Detail)
		if err != nil {
			detail = []byte("{}")
		}
		r := model.Result{
			PlayerID:   p.PlayerID,
			Staked:     p.Staked,
			Returned:   p.Returned,
			Outcome:    p.Outcome,
			DetailJSON: datatypes.JSON(detail),
			CreatedAt:  now,
		}
		link(&r)
		results = append(results, r)

		credit := entry
		credit.Meta = map[string]interface{}{"outcome": p.Outcome, "staked": p.Staked}
		if _, err := book.Credit(p.PlayerID, p.Returned, credit); err != nil {
			return err
		}
	}
	if err := tx.Create(&results).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return appErr.ErrDuplicateSettlement
		}
		return appErr.Transient(err)
	}
	return book.Flush()
}
