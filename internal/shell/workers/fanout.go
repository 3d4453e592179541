// Package workers runs deployment units concurrently.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// ErrUnitPanicked is wrapped into the result of a unit that panicked.
var ErrUnitPanicked = errors.New("unit panicked")

// FanOutConfig configures the fan-out coordinator.
type FanOutConfig struct {
	// Workers is the number of concurrent workers.
	// Default: 16.
	Workers int

	// JitterMin and JitterMax bound the random delay every worker waits
	// before its first unit, spreading API calls of a large batch.
	// Default: 1s and 15s. Both zero disables the delay.
	JitterMin time.Duration
	JitterMax time.Duration
}

// DefaultFanOutConfig returns the default configuration.
func DefaultFanOutConfig() FanOutConfig {
	return FanOutConfig{
		Workers:   16,
		JitterMin: time.Second,
		JitterMax: 15 * time.Second,
	}
}

// Unit deploys one service. worker is the 1-based id of the worker running it.
type Unit func(ctx context.Context, service string, worker int) error

// Result is the outcome of one unit.
type Result struct {
	Service    string
	Worker     int
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// FanOut distributes units over a bounded pool of workers.
type FanOut struct {
	config FanOutConfig
	clock  clock.Clock
	logger *slog.Logger
}

// NewFanOut creates a coordinator. A zero config uses the defaults.
func NewFanOut(config FanOutConfig, clk clock.Clock, logger *slog.Logger) *FanOut {
	if config.Workers <= 0 {
		config.Workers = DefaultFanOutConfig().Workers
	}
	if config.JitterMax < config.JitterMin {
		config.JitterMax = config.JitterMin
	}
	if clk == nil {
		clk = clock.NewClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FanOut{
		config: config,
		clock:  clk,
		logger: logger.With("component", "fanout"),
	}
}

type job struct {
	index   int
	service string
}

// Run executes fn once per entry of services and returns the results in
// input order. A failing or panicking unit does not stop its worker, and
// nothing is retried. Run returns after every unit has finished and every
// worker has exited.
func (f *FanOut) Run(ctx context.Context, services []string, fn Unit) []Result {
	results := make([]Result, len(services))
	if len(services) == 0 {
		return results
	}

	workers := min(f.config.Workers, len(services))
	jobs := make(chan job, workers)

	var (
		pending sync.WaitGroup
		running sync.WaitGroup
	)

	f.logger.Info("starting fan-out", "units", len(services), "workers", workers)

	for w := 1; w <= workers; w++ {
		running.Add(1)
		go func(id int) {
			defer running.Done()
			f.work(ctx, id, jobs, results, fn, &pending)
		}(w)
	}

	for i, s := range services {
		pending.Add(1)
		jobs <- job{index: i, service: s}
	}

	// Every unit has been handed out and finished before the workers are
	// told to stop.
	pending.Wait()
	close(jobs)
	running.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	f.logger.Info("fan-out finished", "units", len(services), "failed", failed)
	return results
}

func (f *FanOut) work(ctx context.Context, id int, jobs <-chan job, results []Result, fn Unit, pending *sync.WaitGroup) {
	logger := f.logger.With("worker", id)

	if d := f.jitter(); d > 0 {
		logger.Debug("worker waiting before first unit", "delay", d)
		select {
		case <-ctx.Done():
		case <-f.clock.After(d):
		}
	}

	for j := range jobs {
		results[j.index] = f.run(ctx, id, j, fn, logger)
		pending.Done()
	}
	logger.Debug("worker stopped")
}

func (f *FanOut) run(ctx context.Context, id int, j job, fn Unit, logger *slog.Logger) (res Result) {
	res = Result{Service: j.service, Worker: id, StartedAt: f.clock.Now()}
	logger = logger.With("service", j.service)

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("%w: %v", ErrUnitPanicked, r)
			logger.Error("unit panicked", "panic", r, "stack", string(debug.Stack()))
		}
		res.FinishedAt = f.clock.Now()
	}()

	if err := ctx.Err(); err != nil {
		res.Err = err
		logger.Warn("unit skipped", "error", err)
		return res
	}

	logger.Info("starting unit")
	if err := fn(ctx, j.service, id); err != nil {
		res.Err = err
		logger.Error("unit failed", "error", err)
		return res
	}
	logger.Info("unit finished")
	return res
}

// jitter returns a random delay in [JitterMin, JitterMax].
func (f *FanOut) jitter() time.Duration {
	lo, hi := f.config.JitterMin, f.config.JitterMax
	if hi <= 0 {
		return 0
	}
	if hi == lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// ParseServices splits a comma separated service list. Entries are trimmed
// and blanks dropped; duplicates are kept.
func ParseServices(list string) []string {
	var out []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
