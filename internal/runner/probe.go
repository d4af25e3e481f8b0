package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Startup probe policies.
const (
	PolicyCached        = "cached"
	PolicyPerSubmission = "per_submission"
)

// Probe measures interpreter/VM startup latency by timing a trivial program.
//
// With PolicyCached one measurement is shared by every caller until it is
// older than ttl; concurrent refreshes collapse into a single run. With
// PolicyPerSubmission every call measures anew.
type Probe struct {
	command []string
	policy  string
	ttl     time.Duration
	log     *slog.Logger

	group      singleflight.Group
	mu         sync.Mutex
	value      time.Duration
	measuredAt time.Time

	now     func() time.Time
	measure func(ctx context.Context) (time.Duration, error)
}

// NewProbe creates a probe running command.
func NewProbe(command []string, policy string, ttl time.Duration, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Probe{
		command: command,
		policy:  policy,
		ttl:     ttl,
		log:     logger,
		now:     time.Now,
	}
	p.measure = p.run
	return p
}

// Overhead returns the startup latency to compensate for. Measurement failures
// are logged and yield zero, i.e. no compensation, for that call only.
func (p *Probe) Overhead(ctx context.Context) time.Duration {
	if p == nil || len(p.command) == 0 {
		return 0
	}
	if p.policy == PolicyPerSubmission {
		d, _ := p.measureOrZero(ctx)
		return d
	}

	p.mu.Lock()
	if !p.measuredAt.IsZero() && p.now().Sub(p.measuredAt) < p.ttl {
		v := p.value
		p.mu.Unlock()
		return v
	}
	p.mu.Unlock()

	// Only successful measurements are cached; the next caller retries after a failure.
	v, _, _ := p.group.Do("probe", func() (any, error) {
		d, err := p.measureOrZero(ctx)
		if err != nil {
			return time.Duration(0), nil
		}
		p.mu.Lock()
		p.value = d
		p.measuredAt = p.now()
		p.mu.Unlock()
		return d, nil
	})
	return v.(time.Duration)
}

func (p *Probe) measureOrZero(ctx context.Context) (time.Duration, error) {
	d, err := p.measure(ctx)
	if err != nil {
		p.log.Warn("Startup probe failed, no overhead compensation", "error", err)
		return 0, err
	}
	p.log.Debug("Startup overhead measured", "overhead", d)
	return d, nil
}

func (p *Probe) run(ctx context.Context) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	start := time.Now()
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("probe %s: %w", p.command[0], err)
	}
	return time.Since(start), nil
}
