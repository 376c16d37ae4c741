package config

import "time"

type Config struct {
	Service  *ServiceConfig
	Store    *StoreConfig
	Postgres *PostgresConfig
	Redis    *RedisConfig
	Geo      *GeoConfig
	Logger   *LoggerConfig
	Tracer   *TracerConfig
}

type ServiceConfig struct {
	Name string
	Env  string
	Addr string
}

// StoreConfig selects the location store backend: "postgres" or "redis".
type StoreConfig struct {
	Backend string
}

type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

type RedisConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	PingTimeout  time.Duration
}

// GeoConfig carries the proximity knobs: query defaults, the boundary
// epsilon on radius comparisons, and the trace lifecycle policy.
type GeoConfig struct {
	DefaultRadiusKm           float64
	RadiusEpsilonKm           float64
	DefaultTraceThresholdKm   float64
	TraceDropOnRequesterClose bool
}

type LoggerConfig struct {
	Level  string
	Format string
}

type TracerConfig struct {
	Enabled bool
	Address string
}
