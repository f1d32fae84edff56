package kwatchdog

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

type MonitorConfig struct {
	// The name of the subsystem being monitored, for reporting purposes.
	Name string

	// The watchdog polls the subsystem every Interval + [-Jitter, +Jitter) duration.
	// The jitter range is uniformly distributed.
	Interval, Jitter time.Duration

	// If the subsystem does not both accept the signal
	// and close its Alive response channel within ResponseTimeout,
	// the watchdog terminates the entire system.
	ResponseTimeout time.Duration
}

func (c MonitorConfig) validate() error {
	var err error
	if c.Name == "" {
		err = errors.Join(err, errors.New("MonitorConfig.Name must not be empty"))
	}

	if c.Interval <= 0 {
		err = errors.Join(err, errors.New("MonitorConfig.Interval must be positive"))
	}

	if c.Jitter <= 0 {
		err = errors.Join(err, errors.New("MonitorConfig.Jitter must be positive"))
	}

	if c.Jitter > c.Interval {
		err = errors.Join(err, errors.New("MonitorConfig.Jitter must be less than MonitorConfig.Interval"))
	}

	if c.ResponseTimeout <= 0 {
		err = errors.Join(err, errors.New("MonitorConfig.ResponseTimeout must be positive"))
	}

	return err
}

// monitor runs in its own goroutine,
// polling one subsystem on the interval specified by cfg.
func monitor(
	ctx context.Context,
	log *slog.Logger,
	cfg MonitorConfig,
	wg *sync.WaitGroup,
	sigCh chan<- Signal,
	cancel context.CancelCauseFunc,
) {
	defer wg.Done()

	// Each monitor carries its own RNG, seeded from the global one,
	// so that monitors never contend on a shared rand mutex.
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	for {
		j := rng.Int64N(int64(2*cfg.Jitter)) - int64(cfg.Jitter)

		timer := time.NewTimer(cfg.Interval + time.Duration(j))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if !poll(ctx, log, cfg.Name, cfg.ResponseTimeout, sigCh, cancel) {
				return
			}
		}
	}
}

func poll(
	ctx context.Context,
	log *slog.Logger,
	name string,
	responseTimeout time.Duration,
	sigCh chan<- Signal,
	cancel context.CancelCauseFunc,
) (ok bool) {
	alive := make(chan struct{})
	sig := Signal{
		Alive: alive,
	}
	timer := time.NewTimer(responseTimeout)
	defer timer.Stop()

	// The signal itself must be received within the timeout.
	select {
	case <-ctx.Done():
		return false
	case sigCh <- sig:
		// Keep going.
	case <-timer.C:
		log.Warn("Subsystem did not accept liveness signal within timeout")
		cancel(FailureToRespondError{SubsystemName: name})
		return true
	}

	// Then the response must arrive before the same timer elapses.
	select {
	case <-ctx.Done():
		return false
	case <-alive:
		return true
	case <-timer.C:
		// One final fast check, in case the response landed
		// at the same instant as the timer and the runtime picked the timer case.
		select {
		case <-alive:
			return true
		default:
			log.Warn("Subsystem did not respond to liveness signal within timeout")
			cancel(FailureToRespondError{SubsystemName: name})
			return true
		}
	}
}
