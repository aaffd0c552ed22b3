package repo

import (
	"context"
	"time"

	"arcade-service/internal/config"
	"arcade-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var RDB *redis.Client

// OpenRedis connects and pings. The client backs match locks, bet rate
// limits and cached round totals, none of which need more than a short
// timeout.
func OpenRedis(ctx context.Context, conf config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         conf.Addr,
		Password:     conf.Password,
		DB:           conf.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func InitRedis() {
	conf := config.GlobalConfig.Redis
	client, err := OpenRedis(context.Background(), conf)
	if err != nil {
		logger.Log.Fatal("Failed to connect to Redis", zap.String("addr", conf.Addr), zap.Error(err))
	}
	RDB = client
}
