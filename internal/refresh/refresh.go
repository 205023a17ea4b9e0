// Package refresh implements the refresh loop (component C): it wakes on a fixed interval, re-runs
// the bootstrap resolver, and atomically swaps the pinned address list for the DoH host. Failures
// are logged and the existing pin is kept - this loop is fire-and-forget relative to the
// forwarding pipeline.
package refresh

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/halvorsen/dohproxy/internal/bootstrap"
	"github.com/halvorsen/dohproxy/internal/pin"
)

// Config configures one refresh loop instance.
type Config struct {
	Host          string
	StubResolvers []string
	Policy        bootstrap.IPPolicy
	Interval      time.Duration // default 120s per SPEC_FULL.md §4.C
}

// DefaultInterval is used when Config.Interval is zero.
const DefaultInterval = 120 * time.Second

// Loop re-runs bootstrap.Resolve on a ticker and writes successful results into pinMap. Run blocks
// until ctx is cancelled; a value sent on refreshNow (e.g. in response to SIGHUP) triggers an
// out-of-cycle refresh.
type Loop struct {
	cfg    Config
	pinMap *pin.Map

	successes atomic.Int64
	failures  atomic.Int64
}

// New constructs a Loop. cfg.Interval defaults to DefaultInterval if zero.
func New(cfg Config, pinMap *pin.Map) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Loop{cfg: cfg, pinMap: pinMap}
}

// Run ticks forever until ctx is done, re-resolving and re-pinning on every tick and whenever a
// value arrives on refreshNow. It never exits early on a resolution failure - that is logged and
// tolerated, per SPEC_FULL.md §4.C.
func (l *Loop) Run(ctx context.Context, refreshNow <-chan struct{}) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick()
		case <-refreshNow:
			l.tick()
		}
	}
}

func (l *Loop) tick() {
	addrs, err := bootstrap.Resolve(l.cfg.Host, l.cfg.StubResolvers, l.cfg.Policy)
	if err != nil {
		l.failures.Add(1)
		log.Printf("refresh: bootstrap of %s failed, keeping existing pin: %v", l.cfg.Host, err)
		return
	}
	l.successes.Add(1)
	l.pinMap.Set(l.cfg.Host, addrs)
}

// Name satisfies reporter.Reporter.
func (l *Loop) Name() string { return "Refresh" }

// Report satisfies reporter.Reporter.
func (l *Loop) Report(resetCounters bool) string {
	return fmt.Sprintf("host=%s ok=%d failed=%d", l.cfg.Host, l.successes.Load(), l.failures.Load())
}
