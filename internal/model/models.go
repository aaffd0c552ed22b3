package model

import (
	"time"

	"gorm.io/datatypes"
)

// Players

type Player struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	Username      string `gorm:"size:64;uniqueIndex;not null"`
	PasswordHash  string `gorm:"not null"`
	Nickname      string `gorm:"size:64"`
	Coins         int64  `gorm:"not null;default:0"`
	TotalWagered  int64  `gorm:"not null;default:0"`
	TotalReturned int64  `gorm:"not null;default:0"`
	Status        string `gorm:"size:16;default:normal;not null"` // normal/banned
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BillingLog is the journal of every balance mutation.
type BillingLog struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	PlayerID     int64  `gorm:"index;not null"`
	Type         string `gorm:"size:16"` // bet/payout/escrow/refund/stake/adjust
	Delta        int64
	BalanceAfter int64
	RoundID      *int64
	MatchID      *int64
	SessionID    *int64
	MetaJSON     datatypes.JSON
	CreatedAt    time.Time
}

// Tables, rounds, bets

type Table struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	Variant       string `gorm:"size:32;uniqueIndex;not null"`
	Name          string `gorm:"size:64"`
	ActiveRoundID *int64
	TotalsJSON    datatypes.JSON // live wager totals by selection category
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Round struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	PublicID    string `gorm:"size:36;uniqueIndex;not null"`
	TableID     int64  `gorm:"index;not null"`
	Variant     string `gorm:"size:32;not null"`
	Phase       Phase  `gorm:"size:16;index;not null"`
	StartTime   *time.Time
	BetsCloseAt *time.Time
	ResultTime  *time.Time
	EndTime     *time.Time
	OutcomeJSON datatypes.JSON
	StateJSON   datatypes.JSON // continuous state (flight multiplier/position)
	SettledAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Bet struct {
	ID            int64 `gorm:"primaryKey;autoIncrement"`
	RoundID       int64 `gorm:"uniqueIndex:idx_bet_round_player;not null"`
	PlayerID      int64 `gorm:"uniqueIndex:idx_bet_round_player;not null"`
	SelectionJSON datatypes.JSON
	Amount        int64 `gorm:"not null"`
	Target        *int64 // cash-out target in hundredths
	RevisedTarget *int64
	Settled       bool `gorm:"not null;default:false"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Result is written once per (player, round) or (player, match).
type Result struct {
	ID         int64   `gorm:"primaryKey;autoIncrement"`
	RoundID    *int64  `gorm:"uniqueIndex:idx_result_round_player"`
	MatchID    *int64  `gorm:"uniqueIndex:idx_result_match_player"`
	PlayerID   int64   `gorm:"uniqueIndex:idx_result_round_player;uniqueIndex:idx_result_match_player;not null"`
	Staked     int64
	Returned   int64
	Outcome    Outcome `gorm:"size:16"`
	DetailJSON datatypes.JSON
	CreatedAt  time.Time
}

// Two-player matches

type Match struct {
	ID        int64       `gorm:"primaryKey;autoIncrement"`
	PublicID  string      `gorm:"size:36;uniqueIndex;not null"`
	Variant   string      `gorm:"size:32;index;not null"`
	PlayerAID int64       `gorm:"index;not null"`
	PlayerBID *int64      `gorm:"index"`
	AmountA   int64
	AmountB   int64
	Status    MatchStatus `gorm:"size:16;index;not null"`
	ScoreA    int
	ScoreB    int
	ExpiresAt time.Time
	StartedAt *time.Time
	EndsAt    *time.Time
	EndedAt   *time.Time
	Outcome   Outcome `gorm:"size:16"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Single-player sessions (guess number, spin wheel)

type SoloSession struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	PublicID  string `gorm:"size:36;uniqueIndex;not null"`
	PlayerID  int64  `gorm:"index;not null"`
	Variant   string `gorm:"size:32;not null"`
	Status    string `gorm:"size:16;not null"` // active/won/lost
	Stake     int64
	Payout    int64
	StateJSON datatypes.JSON
	EndsAt    *time.Time
	EndedAt   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Player{},
		&BillingLog{},
		&Table{},
		&Round{},
		&Bet{},
		&Result{},
		&Match{},
		&SoloSession{},
	}
}
