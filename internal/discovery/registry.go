// Package discovery announces this judge instance in Redis so a front end can
// find instances and pick the least loaded one.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultInterval is the heartbeat period; entries expire after three missed beats.
const DefaultInterval = 5 * time.Second

// Load is the capacity snapshot published with every heartbeat.
type Load struct {
	ActiveJobs    int  `json:"active_jobs"`
	QueueLength   int  `json:"queue_length"`
	MaxConcurrent int  `json:"max_concurrent"`
	PoolAlive     int  `json:"pool_alive"`
	PoolEnabled   bool `json:"pool_enabled"`
}

// InstanceInfo is the value stored under the instance key.
type InstanceInfo struct {
	ID          string   `json:"id"`
	Addr        string   `json:"addr"`
	Languages   []string `json:"languages"`
	Load        Load     `json:"load"`
	LastUpdated int64    `json:"last_updated"`
}

// store is the subset of the Redis client the registry uses.
type store interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Options configures a Registry.
type Options struct {
	RedisAddr   string
	ServiceName string // key prefix, e.g. "judge"
	Addr        string // advertised HTTP address
	InstanceID  string // empty = "<hostname>-<addr>"
	Languages   []string
	Interval    time.Duration
}

// Registry keeps this instance's key alive while running.
type Registry struct {
	store  store
	closer func() error
	opts   Options
	load   func() Load
	log    *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewRegistry creates a registry backed by a new Redis client. load is called
// on every heartbeat and may be nil.
func NewRegistry(opts Options, load func() Load, logger *slog.Logger) *Registry {
	rdb := redis.NewClient(&redis.Options{Addr: opts.RedisAddr})
	r := newRegistry(rdb, opts, load, logger)
	r.closer = rdb.Close
	return r
}

func newRegistry(s store, opts Options, load func() Load, logger *slog.Logger) *Registry {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "judge"
	}
	if opts.InstanceID == "" {
		hostname, _ := os.Hostname()
		opts.InstanceID = fmt.Sprintf("%s-%s", hostname, opts.Addr)
	}
	if load == nil {
		load = func() Load { return Load{} }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  s,
		opts:   opts,
		load:   load,
		log:    logger.With("component", "discovery", "instance", opts.InstanceID),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Key is the Redis key of this instance.
func (r *Registry) Key() string {
	return fmt.Sprintf("%s:instances:%s", r.opts.ServiceName, r.opts.InstanceID)
}

// TTL is the expiry set on every heartbeat.
func (r *Registry) TTL() time.Duration {
	return 3 * r.opts.Interval
}

// Start registers immediately and then on every interval until Stop or ctx ends.
// The first registration error is returned; later ones are only logged.
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return fmt.Errorf("registry already started")
	}
	r.started = true
	r.mu.Unlock()

	err := r.register(ctx)

	r.wg.Add(1)
	go r.heartbeat(ctx)
	return err
}

// Stop ends the heartbeat and removes the key. Safe to call more than once.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()

	err := r.store.Del(ctx, r.Key()).Err()
	if err != nil {
		r.log.Warn("Failed to deregister instance", "error", err)
	} else {
		r.log.Info("Instance deregistered")
	}
	if r.closer != nil {
		if cerr := r.closer(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (r *Registry) heartbeat(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.register(ctx); err != nil {
				r.log.Error("Failed to send heartbeat", "error", err)
			}
		}
	}
}

// Info builds the current instance document.
func (r *Registry) Info() InstanceInfo {
	return InstanceInfo{
		ID:          r.opts.InstanceID,
		Addr:        r.opts.Addr,
		Languages:   r.opts.Languages,
		Load:        r.load(),
		LastUpdated: r.now().Unix(),
	}
}

func (r *Registry) register(ctx context.Context) error {
	data, err := json.Marshal(r.Info())
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, r.Key(), data, r.TTL()).Err(); err != nil {
		return fmt.Errorf("heartbeat %s: %w", r.Key(), err)
	}
	r.log.Debug("Heartbeat sent")
	return nil
}
