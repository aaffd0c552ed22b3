package service

import (
	"context"

	"arcade-service/internal/config"
	"arcade-service/internal/service/flight"
	"arcade-service/internal/service/hub"
	"arcade-service/internal/service/ledger"
	"arcade-service/internal/service/match"
	"arcade-service/internal/service/player"
	"arcade-service/internal/service/round"
	"arcade-service/internal/service/scheduler"
	"arcade-service/internal/service/settle"
	"arcade-service/internal/service/solo"
	"arcade-service/internal/service/table"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	Hub      *hub.Hub
	Machine  *round.Machine
	Engine   *settle.Engine
	Flights  *flight.Runner
	Registry *scheduler.Registry
	Ledger   *ledger.Service
	Table    *table.Service
	Match    *match.Service
	Player   *player.Service
	Solo     *solo.Service

	cfg config.GameConfig
}

// NewContainer wires every service. Background work is bound to ctx and
// does not start until Start.
func NewContainer(ctx context.Context, db *gorm.DB, rdb *redis.Client, cfg config.GameConfig) *Container {
	h := hub.New()
	machine := round.NewMachine(db, cfg.Tables)
	engine := settle.NewEngine(db)
	flights := flight.NewRunner(db, machine, engine, h, cfg.Flight)
	registry := scheduler.NewRegistry(ctx, machine, engine, flights, h)
	ledgerSvc := ledger.NewService(db)

	return &Container{
		Hub:      h,
		Machine:  machine,
		Engine:   engine,
		Flights:  flights,
		Registry: registry,
		Ledger:   ledgerSvc,
		Table:    table.NewService(machine, ledgerSvc, engine, registry, flights, h, rdb),
		Match:    match.NewService(db, rdb, engine, h, match.ConfigFrom(cfg.Match)),
		Player:   player.NewService(db),
		Solo:     solo.NewService(db, cfg.Solo),
		cfg:      cfg,
	}
}

func (c *Container) Start(ctx context.Context) error {
	if c.cfg.WarmStart {
		if err := c.Registry.WarmStart(ctx); err != nil {
			return err
		}
	}
	c.Match.Start(ctx)
	return nil
}

// Stop waits for table loops, flights and match timers to finish. The
// context passed to NewContainer must already be cancelled.
func (c *Container) Stop() {
	c.Registry.Stop()
	c.Match.Wait()
}
