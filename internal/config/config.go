package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Game      GameConfig      `mapstructure:"game"`
	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release

	// LogLevel overrides the level implied by Mode.
	LogLevel string `mapstructure:"logLevel"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres, mysql, sqlite
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Expire int    `mapstructure:"expire"` // hours
}

type GameConfig struct {
	// WarmStart resumes scheduler loops for tables that still hold an
	// unfinished round when the process boots.
	WarmStart bool                   `mapstructure:"warmStart"`
	Tables    map[string]TableTiming `mapstructure:"tables"`
	Flight    FlightConfig           `mapstructure:"flight"`
	Match     MatchConfig            `mapstructure:"match"`
	Solo      SoloConfig             `mapstructure:"solo"`
}

type TableTiming struct {
	Betting time.Duration `mapstructure:"betting"`
	Reveal  time.Duration `mapstructure:"reveal"`
	Tick    time.Duration `mapstructure:"tick"`
}

type FlightConfig struct {
	Tick         time.Duration `mapstructure:"tick"`
	PersistEvery int           `mapstructure:"persistEvery"`
}

type MatchConfig struct {
	Tolerance     int64                    `mapstructure:"tolerance"`
	Expiry        time.Duration            `mapstructure:"expiry"`
	SweepInterval time.Duration            `mapstructure:"sweepInterval"`
	Durations     map[string]time.Duration `mapstructure:"durations"`
}

type SoloConfig struct {
	GuessDuration time.Duration `mapstructure:"guessDuration"`
	GuessAttempts int           `mapstructure:"guessAttempts"`
	SpinCost      int64         `mapstructure:"spinCost"`
}

type RateLimitConfig struct {
	Bets   int64         `mapstructure:"bets"`
	Window time.Duration `mapstructure:"window"`
}

var GlobalConfig *Config

// Default returns the built-in configuration. Every value can be overridden
// from the config file or ARCADE_* environment variables.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080", Mode: "debug"},
		Database: DatabaseConfig{Driver: "postgres"},
		Redis:    RedisConfig{Addr: "127.0.0.1:6379"},
		JWT:      JWTConfig{Secret: "change-me", Expire: 72},
		Game: GameConfig{
			WarmStart: true,
			Tables: map[string]TableTiming{
				"card":   {Betting: 30 * time.Second, Reveal: 3 * time.Second, Tick: time.Second},
				"dice":   {Betting: 20 * time.Second, Reveal: 8 * time.Second, Tick: time.Second},
				"color":  {Betting: 50 * time.Second, Reveal: 10 * time.Second, Tick: time.Second},
				"rocket": {Betting: 25 * time.Second, Reveal: 5 * time.Second, Tick: 200 * time.Millisecond},
			},
			Flight: FlightConfig{Tick: 100 * time.Millisecond, PersistEvery: 10},
			Match: MatchConfig{
				Tolerance:     300,
				Expiry:        3 * time.Minute,
				SweepInterval: time.Second,
				Durations: map[string]time.Duration{
					"football":    90 * time.Second,
					"connectdots": 120 * time.Second,
				},
			},
			Solo: SoloConfig{GuessDuration: 100 * time.Second, GuessAttempts: 10, SpinCost: 100},
		},
		RateLimit: RateLimitConfig{Bets: 10, Window: time.Second},
	}
}

func LoadConfig(path string) {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("Error reading config file, %s", err)
	}
	GlobalConfig = cfg
}

// Load reads .env (if present), the YAML file at path and the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix("ARCADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.logLevel", d.Server.LogLevel)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("jwt.secret", d.JWT.Secret)
	v.SetDefault("jwt.expire", d.JWT.Expire)
	v.SetDefault("game.warmStart", d.Game.WarmStart)
	for name, t := range d.Game.Tables {
		v.SetDefault("game.tables."+name+".betting", t.Betting)
		v.SetDefault("game.tables."+name+".reveal", t.Reveal)
		v.SetDefault("game.tables."+name+".tick", t.Tick)
	}
	v.SetDefault("game.flight.tick", d.Game.Flight.Tick)
	v.SetDefault("game.flight.persistEvery", d.Game.Flight.PersistEvery)
	v.SetDefault("game.match.tolerance", d.Game.Match.Tolerance)
	v.SetDefault("game.match.expiry", d.Game.Match.Expiry)
	v.SetDefault("game.match.sweepInterval", d.Game.Match.SweepInterval)
	for name, dur := range d.Game.Match.Durations {
		v.SetDefault("game.match.durations."+name, dur)
	}
	v.SetDefault("game.solo.guessDuration", d.Game.Solo.GuessDuration)
	v.SetDefault("game.solo.guessAttempts", d.Game.Solo.GuessAttempts)
	v.SetDefault("game.solo.spinCost", d.Game.Solo.SpinCost)
	v.SetDefault("rateLimit.bets", d.RateLimit.Bets)
	v.SetDefault("rateLimit.window", d.RateLimit.Window)
}
