package convstore

import (
	"fmt"
	"time"
)

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config selects and parameterizes a store driver.
type Config struct {
	// Driver is one of memory, file, sqlite or redis. Empty means memory.
	Driver string
	// Path is the data directory (file driver) or database file (sqlite).
	Path string
	// RedisAddr is the host:port of the Redis server.
	RedisAddr string
	// RedisPassword is optional.
	RedisPassword string
	// RedisDB selects the logical database.
	RedisDB int
	// RedisTTL expires idle conversations; zero keeps them forever.
	RedisTTL time.Duration
}

// Open builds the store named by cfg.Driver.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverFile:
		return NewFile(cfg.Path)
	case DriverSQLite:
		return NewSQLite(cfg.Path)
	case DriverRedis:
		return NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, cfg.Driver)
	}
}
