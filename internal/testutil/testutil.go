// Package testutil holds fixtures shared by the service tests.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"arcade-service/internal/config"
	"arcade-service/internal/model"
	"arcade-service/internal/repo"
	"arcade-service/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// NewDB opens a migrated in-memory sqlite database private to t.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	logger.Nop()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_busy_timeout=5000", name, dbSeq.Add(1))
	db, err := repo.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := repo.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// NewRedis starts a miniredis server bound to t.
func NewRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := repo.OpenRedis(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("failed to connect to miniredis: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

// SeedPlayer inserts a player holding coins.
func SeedPlayer(t *testing.T, db *gorm.DB, username string, coins int64) *model.Player {
	t.Helper()
	p := &model.Player{Username: username, PasswordHash: "x", Coins: coins, Status: "normal"}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("failed to seed player %s: %v", username, err)
	}
	return p
}

// Balance reads the stored coin balance of a player.
func Balance(t *testing.T, db *gorm.DB, playerID int64) int64 {
	t.Helper()
	var p model.Player
	if err := db.First(&p, playerID).Error; err != nil {
		t.Fatalf("failed to load player %d: %v", playerID, err)
	}
	return p.Coins
}
