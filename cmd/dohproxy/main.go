// dohproxy listens for inbound DNS queries over UDP and TCP and forwards them to a DNS-over-HTTPS
// resolver, caching answers locally. See SPEC_FULL.md for the full component design.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/gops/agent"

	"github.com/halvorsen/dohproxy/internal/constants"
	"github.com/halvorsen/dohproxy/internal/osutil"
	"github.com/halvorsen/dohproxy/internal/reporter"
)

var (
	consts = constants.Get()

	stdout io.Writer
	stderr io.Writer

	startTime = time.Now()

	mainStarted, mainStopped bool // state transitions, inspected by tests
	stopChannel              chan os.Signal
)

func fatal(args ...interface{}) int {
	fmt.Fprint(stderr, "Fatal: ", consts.ProgramName, ": ")
	fmt.Fprintln(stderr, args...)
	return 1
}

func stopMain() {
	stopChannel <- syscall.SIGINT
}

// mainInit resets program-wide state so mainExecute can be called multiple times within one
// process, which is how main_test.go exercises it. stopChannel is buffered since a writer (a
// signal, or stopMain) must never block if nothing is reading it yet.
func mainInit(out, err io.Writer) {
	stdout = out
	stderr = err
	mainStarted = false
	mainStopped = false
	stopChannel = make(chan os.Signal, 4)
	signal.Notify(stopChannel, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
}

func main() {
	mainInit(os.Stdout, os.Stderr)
	os.Exit(mainExecute(os.Args))
}

func mainExecute(args []string) int {
	cfg, err := newConfig(args[0], args)
	if err != nil {
		return 1 // flag parse errors are printed by the flag package; validation errors are not printed
	}
	if cfg.help {
		usage(stdout)
		return 0
	}
	if cfg.version {
		fmt.Fprintln(stdout, consts.ProgramName, "Version:", consts.Version)
		return 0
	}

	if cfg.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fatal("gops:", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := newProxy(ctx, cfg)
	if err != nil {
		return fatal(err)
	}

	refreshNow := make(chan struct{})
	p.Start(ctx, refreshNow)

	if err := osutil.Constrain(cfg.setuidName, cfg.setgidName, cfg.chrootDir); err != nil {
		p.Stop()
		return fatal(err)
	}
	if cfg.verbose {
		fmt.Fprintf(stdout, "Constraints: %s\n", osutil.ConstraintReport())
		fmt.Fprintln(stdout, consts.ProgramName, consts.Version, "Starting:", cfg.resolverURL,
			"listen:", strings.Join(cfg.listenAddresses.Args(), ", "))
	}

	mainStarted = true
	nextStatusIn := nextInterval(time.Now(), cfg.statusInterval)

Running:
	for {
		select {
		case s := <-stopChannel:
			if s == syscall.SIGUSR1 {
				statusReport("User1", false, p.Reporters())
				continue
			}
			if s == syscall.SIGHUP {
				select {
				case refreshNow <- struct{}{}:
				default:
				}
				continue
			}
			if cfg.verbose {
				fmt.Fprintln(stdout, "\nSignal", s)
			}
			break Running

		case <-time.After(nextStatusIn):
			if cfg.verbose {
				statusReport("Status", true, p.Reporters())
			}
			nextStatusIn = nextInterval(time.Now(), cfg.statusInterval)
		}
	}

	p.Stop()
	mainStopped = true

	if cfg.verbose {
		statusReport("Status", true, p.Reporters())
		fmt.Fprintln(stdout, consts.ProgramName, consts.Version, "Exiting after", uptime())
	}

	return 0
}

// nextInterval returns the duration until the next modulo boundary of interval, e.g. if now is
// 00:01:17 and interval is 30s, the next boundary is 00:01:30, 13s away.
func nextInterval(now time.Time, interval time.Duration) time.Duration {
	return now.Truncate(interval).Add(interval).Sub(now)
}

func uptime() string {
	return time.Since(startTime).Truncate(time.Second).String()
}

func statusReport(what string, resetCounters bool, reporters []reporter.Reporter) {
	fmt.Fprintln(stdout, "Status Up:", consts.ProgramName, consts.Version, uptime())
	for _, r := range reporters {
		for _, line := range strings.Split(r.Report(resetCounters), "\n") {
			if len(line) > 0 {
				fmt.Fprintf(stdout, "%s %s: %s\n", what, r.Name(), line)
			}
		}
	}
}
