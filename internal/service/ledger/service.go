package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"arcade-service/internal/model"
	appErr "arcade-service/pkg/errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Selection is a variant specific wager payload.
type Selection interface {
	// Validate returns ErrInvalidSelection for malformed or disallowed input.
	Validate() error
	// Stake is the amount this request adds to the bet.
	Stake() int64
	// Totals is this request's contribution to the table's live totals.
	Totals() map[string]int64
	// Amend folds this request into the selection already stored for the
	// player in the same round.
	Amend(prev []byte) (Selection, error)
}

// Targeted selections carry a cash-out target in hundredths.
type Targeted interface {
	CashoutTarget() int64
}

type Service struct {
	db *gorm.DB
}

type PlaceBetRequest struct {
	PlayerID  int64
	RoundID   int64
	Selection Selection
}

type Receipt struct {
	Bet     model.Bet        `json:"bet"`
	Balance int64            `json:"balance"`
	Totals  map[string]int64 `json:"totals"`
	Amended bool             `json:"amended"`
}

type HistoryResult struct {
	Items []model.BillingLog `json:"items"`
	Total int64              `json:"total"`
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) GetBalance(ctx context.Context, playerID int64) (int64, error) {
	var player model.Player
	err := s.db.WithContext(ctx).Select("id", "coins").First(&player, playerID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, appErr.ErrPlayerNotFound
		}
		return 0, appErr.Transient(err)
	}
	return player.Coins, nil
}

// Credit adds amount to the player's balance in its own transaction.
func (s *Service) Credit(ctx context.Context, playerID, amount int64, entry Entry) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		book := NewBook(tx, time.Now())
		var err error
		if balance, err = book.Credit(playerID, amount, entry); err != nil {
			return err
		}
		return book.Flush()
	})
	return balance, err
}

// Debit removes amount, failing with ErrInsufficientFunds before any change.
func (s *Service) Debit(ctx context.Context, playerID, amount int64, entry Entry) (int64, error) {
	var balance int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		book := NewBook(tx, time.Now())
		var err error
		if balance, err = book.Debit(playerID, amount, entry); err != nil {
			return err
		}
		return book.Flush()
	})
	return balance, err
}

func (s *Service) PlaceBet(ctx context.Context, req PlaceBetRequest) (*Receipt, error) {
	if req.Selection == nil || req.PlayerID == 0 {
		return nil, appErr.ErrInvalidSelection
	}

	now := time.Now()
	var receipt Receipt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var round model.Round
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&round, req.RoundID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return appErr.ErrRoundNotFound
			}
			return appErr.Transient(err)
		}
		if !BettingOpen(round, now) {
			return fmt.Errorf("%w: round %d is %s", appErr.ErrRoundClosed, round.ID, round.Phase)
		}

		if err := req.Selection.Validate(); err != nil {
			return err
		}
		stake := req.Selection.Stake()
		if stake <= 0 {
			return fmt.Errorf("%w: stake must be positive", appErr.ErrInvalidSelection)
		}

		book := NewBook(tx, now)
		if _, err := book.Ensure(req.PlayerID); err != nil {
			return err
		}

		var bet model.Bet
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("round_id = ? AND player_id = ?", round.ID, req.PlayerID).
			First(&bet).Error
		found := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.Transient(err)
		}

		merged := req.Selection
		if found {
			if merged, err = req.Selection.Amend(bet.SelectionJSON); err != nil {
				return err
			}
			if err := merged.Validate(); err != nil {
				return err
			}
		}

		balance, err := book.Debit(req.PlayerID, stake, Entry{
			Type:    model.BillingBet,
			RoundID: &round.ID,
			Meta:    map[string]interface{}{"variant": round.Variant, "stake": stake},
		})
		if err != nil {
			return err
		}

		raw, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("%w: %v", appErr.ErrInvalidSelection, err)
		}
		if !found {
			bet = model.Bet{RoundID: round.ID, PlayerID: req.PlayerID}
		}
		bet.SelectionJSON = datatypes.JSON(raw)
		bet.Amount += stake
		if t, ok := merged.(Targeted); ok {
			target := t.CashoutTarget()
			bet.Target = &target
		}
		if err := tx.Save(&bet).Error; err != nil {
			return appErr.Transient(err)
		}

		totals, err := addTableTotals(tx, round.TableID, req.Selection.Totals())
		if err != nil {
			return err
		}
		if err := book.Flush(); err != nil {
			return err
		}

		receipt = Receipt{Bet: bet, Balance: balance, Totals: totals, Amended: found}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (s *Service) History(ctx context.Context, playerID int64, page, size int) (*HistoryResult, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	query := s.db.WithContext(ctx).Model(&model.BillingLog{}).Where("player_id = ?", playerID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, appErr.Transient(err)
	}

	result := &HistoryResult{Items: make([]model.BillingLog, 0), Total: total}
	if total > 0 {
		if err := query.Order("id DESC").Limit(size).Offset((page - 1) * size).Find(&result.Items).Error; err != nil {
			return nil, appErr.Transient(err)
		}
	}
	return result, nil
}

// BettingOpen reports whether wagers are accepted on round at now.
func BettingOpen(round model.Round, now time.Time) bool {
	if round.Phase != model.PhaseActive || round.BetsCloseAt == nil {
		return false
	}
	return now.Before(*round.BetsCloseAt)
}

func addTableTotals(tx *gorm.DB, tableID int64, delta map[string]int64) (map[string]int64, error) {
	var table model.Table
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&table, tableID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrTableNotFound
		}
		return nil, appErr.Transient(err)
	}

	totals := DecodeTotals(table.TotalsJSON)
	for k, v := range delta {
		totals[k] += v
	}
	raw, err := json.Marshal(totals)
	if err != nil {
		return nil, err
	}
	if err := tx.Model(&model.Table{}).Where("id = ?", tableID).Update("totals_json", datatypes.JSON(raw)).Error; err != nil {
		return nil, appErr.Transient(err)
	}
	return totals, nil
}

// DecodeTotals reads a table's live totals column; malformed data reads as empty.
func DecodeTotals(raw datatypes.JSON) map[string]int64 {
	totals := make(map[string]int64)
	if len(raw) == 0 {
		return totals
	}
	_ = json.Unmarshal(raw, &totals)
	return totals
}
