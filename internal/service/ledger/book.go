package ledger

import (
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

// Entry describes why a balance moved. It becomes one BillingLog row.
type Entry struct {
	Type      string
	RoundID   *int64
	MatchID   *int64
	SessionID *int64
	Meta      map[string]interface{}
}

// Book batches balance mutations inside one transaction. The first touch of
// a player locks its row until the transaction ends.
type Book struct {
	tx      *gorm.DB
	now     time.Time
	entries map[int64]*bookEntry
	logs    []model.BillingLog
}

type bookEntry struct {
	player *model.Player
	dirty  bool
}

func NewBook(tx *gorm.DB, now time.Time) *Book {
	return &Book{
		tx:      tx,
		now:     now,
		entries: make(map[int64]*bookEntry),
	}
}

func (b *Book) Ensure(playerID int64) (*model.Player, error) {
	if entry, ok := b.entries[playerID]; ok {
		return entry.player, nil
	}

	player := &model.Player{}
	err := b.tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", playerID).
		First(player).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrPlayerNotFound
		}
		return nil, appErr.Transient(err)
	}

	b.entries[playerID] = &bookEntry{player: player}
	return player, nil
}

// Balance returns the balance as seen by this book, pending changes included.
func (b *Book) Balance(playerID int64) (int64, error) {
	player, err := b.Ensure(playerID)
	if err != nil {
		return 0, err
	}
	return player.Coins, nil
}

// Debit removes amount. The funds check happens before anything changes.
func (b *Book) Debit(playerID, amount int64, entry Entry) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", appErr.ErrInvalidSelection)
	}
	player, err := b.Ensure(playerID)
	if err != nil {
		return 0, err
	}
	if player.Coins < amount {
		return player.Coins, appErr.ErrInsufficientFunds
	}

	player.Coins -= amount
	if entry.Type == model.BillingBet || entry.Type == model.BillingEscrow || entry.Type == model.BillingStake {
		player.TotalWagered += amount
	}
	b.touch(playerID)
	b.journal(player, -amount, entry)
	return player.Coins, nil
}

func (b *Book) Credit(playerID, amount int64, entry Entry) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("negative credit %d for player %d", amount, playerID)
	}
	player, err := b.Ensure(playerID)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return player.Coins, nil
	}

	player.Coins += amount
	if entry.Type == model.BillingPayout {
		player.TotalReturned += amount
	}
	b.touch(playerID)
	b.journal(player, amount, entry)
	return player.Coins, nil
}

// Flush writes every touched player row and the journal.
func (b *Book) Flush() error {
	for id, entry := range b.entries {
		if !entry.dirty {
			continue
		}
		err := b.tx.Model(&model.Player{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"coins":          entry.player.Coins,
				"total_wagered":  entry.player.TotalWagered,
				"total_returned": entry.player.TotalReturned,
				"updated_at":     b.now,
			}).Error
		if err != nil {
			return appErr.Transient(err)
		}
		entry.dirty = false
	}

	if len(b.logs) > 0 {
		if err := b.tx.Create(&b.logs).Error; err != nil {
			return appErr.Transient(err)
		}
		b.logs = nil
	}
	return nil
}

func (b *Book) touch(playerID int64) {
	b.entries[playerID].dirty = true
}

func (b *Book) journal(player *model.Player, delta int64, entry Entry) {
	b.logs = append(b.logs, model.BillingLog{
		PlayerID:     player.ID,
		Type:         entry.Type,
		Delta:        delta,
		BalanceAfter: player.Coins,
		RoundID:      entry.RoundID,
		MatchID:      entry.MatchID,
		SessionID:    entry.SessionID,
		MetaJSON:     mustJSON(entry.Meta),
		CreatedAt:    b.now,
	})
}

func mustJSON(v map[string]interface{}) datatypes.JSON {
	if len(v) == 0 {
		return datatypes.JSON("{}")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}
