package ouroboros

import (
	"time"

	"github.com/i5heu/ouroboros-graph/internal/config"
	"github.com/i5heu/ouroboros-graph/pkg/anchor"
	"github.com/i5heu/ouroboros-graph/pkg/datastore"
	"github.com/sirupsen/logrus"
)

// Config configures the database instance. Only Paths[0] is used at the
// moment; future versions may use multiple paths for sharding or tiering.
type Config struct {
	// Paths contains data directories. Currently only Paths[0] is used.
	Paths []string
	// MinimumFreeGB is a free-space threshold checked when the store opens.
	MinimumFreeGB int
	// InMemory runs badger without touching disk. Paths is ignored.
	InMemory bool
	// Compress lzma compresses stored documents.
	Compress bool

	// Retry bounds the bulk write retry loops. Nil selects one retry of each
	// kind; zero values disable that retry.
	Retry *anchor.RetryConfig

	// Workers bounds concurrent walkers in SpawnAll. Zero selects NumCPU*3.
	Workers int
	// QueueSize bounds walkers queued at once; SpawnAll submits larger job
	// lists in batches of this size. Zero selects 10000.
	QueueSize int
	// GarbageCollectionInterval runs badger value log GC periodically. Zero
	// disables it.
	GarbageCollectionInterval time.Duration

	// Store replaces the badger store, mainly for tests. It is not closed by
	// the database.
	Store datastore.Store
	// Logger is an optional logger. If nil, logrus.New() is used.
	Logger *logrus.Logger
}

// FromFile maps a loaded configuration file onto Config.
func FromFile(c config.Config, logger *logrus.Logger) Config {
	return Config{
		Paths:         c.Store.Paths,
		MinimumFreeGB: c.Store.MinimumFreeGB,
		InMemory:      c.Store.InMemory,
		Compress:      c.Store.Compress,
		Retry:         retryFromFile(c.Session),
		Workers:       c.Workers,
		Logger:        logger,
	}
}

func retryFromFile(s config.SessionConfig) *anchor.RetryConfig {
	r := anchor.DefaultRetry()
	if s.TransactionMaxRetry != nil {
		r.TransactionMaxRetry = *s.TransactionMaxRetry
	}
	if s.CommitMaxRetry != nil {
		r.CommitMaxRetry = *s.CommitMaxRetry
	}
	return &r
}

func (c Config) retry() anchor.RetryConfig {
	if c.Retry == nil {
		return anchor.DefaultRetry()
	}
	return *c.Retry
}
