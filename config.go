package uvfile

import (
	"io"

	"github.com/rs/zerolog"
)

// Config holds engine-wide tunables, set via functional options passed to
// New.
type Config struct {
	workerCount int
	workerQueue int
	logger      zerolog.Logger
}

// Option configures a Config.
type Option func(*Config)

// WithWorkerCount sets the number of goroutines in the worker pool backing
// the slow path. Default is 2.
func WithWorkerCount(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.workerCount = n
		}
	}
}

// WithWorkerQueueSize sets the worker pool's job queue capacity. Default
// is 64.
func WithWorkerQueueSize(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.workerQueue = n
		}
	}
}

// WithLogOutput directs structured log output to w instead of os.Stderr.
func WithLogOutput(w io.Writer) Option {
	return func(c *Config) {
		c.logger = newLogger(w)
	}
}

func newConfig(opts ...Option) Config {
	c := Config{
		workerCount: 2,
		workerQueue: 64,
		logger:      newLogger(nil),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
