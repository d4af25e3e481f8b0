// ============================================================================
// Load Generator
// ============================================================================
//
// Package: internal/loadtest
// File: loadtest.go
// Purpose: Fire N submissions at POST /execute with bounded concurrency
//
// Report:
//   - verdict counts (AC/WA/TLE/RE/CE) and HTTP status counts
//   - transport errors
//   - wall-clock time, throughput, latency min/avg/p50/p90/p99/max
//   - mean serverTime reported by the engine
//
// ============================================================================

package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ChuLiYu/judge-engine/internal/service"
)

// Options configures a run.
type Options struct {
	URL         string // base URL, /execute is appended
	Secret      string
	Requests    int
	Concurrency int
	Request     service.ExecuteRequest
	Timeout     time.Duration // per request
	Client      *http.Client
}

// Report summarizes a run.
type Report struct {
	Requests      int
	Errors        int // transport failures
	Verdicts      map[string]int
	StatusCodes   map[int]int
	Elapsed       time.Duration
	Min, Avg, Max time.Duration
	P50, P90, P99 time.Duration
	AvgServerTime time.Duration
}

// Throughput is completed requests per second.
func (r *Report) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Requests) / r.Elapsed.Seconds()
}

type sample struct {
	latency    time.Duration
	status     int
	verdict    string
	serverTime int64
	err        error
}

// Run executes the load test. It returns an error only for invalid options or
// when ctx ends; per-request failures are counted in the report.
func Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Requests <= 0 {
		return nil, errors.New("requests must be positive")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	body, err := json.Marshal(opts.Request)
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(opts.URL, "/") + "/execute"

	var (
		mu      sync.Mutex
		samples = make([]sample, 0, opts.Requests)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	start := time.Now()
	for i := 0; i < opts.Requests; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s := fire(gctx, client, url, opts.Secret, body, opts.Timeout)
			mu.Lock()
			samples = append(samples, s)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	elapsed := time.Since(start)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return summarize(samples, elapsed), nil
}

func fire(ctx context.Context, client *http.Client, url, secret string, body []byte, timeout time.Duration) sample {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return sample{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Execution-Secret", secret)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return sample{latency: time.Since(start), err: err}
	}
	defer resp.Body.Close()

	var out struct {
		Verdict    string `json:"verdict"`
		ServerTime int64  `json:"serverTime"`
	}
	data, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	if err != nil {
		return sample{latency: latency, status: resp.StatusCode, err: err}
	}
	_ = json.Unmarshal(data, &out)
	return sample{latency: latency, status: resp.StatusCode, verdict: out.Verdict, serverTime: out.ServerTime}
}

func summarize(samples []sample, elapsed time.Duration) *Report {
	r := &Report{
		Requests:    len(samples),
		Verdicts:    make(map[string]int),
		StatusCodes: make(map[int]int),
		Elapsed:     elapsed,
	}
	if len(samples) == 0 {
		return r
	}

	latencies := make([]time.Duration, 0, len(samples))
	var total, serverTotal time.Duration
	var served int
	for _, s := range samples {
		if s.err != nil {
			r.Errors++
			continue
		}
		r.StatusCodes[s.status]++
		if s.verdict != "" {
			r.Verdicts[s.verdict]++
		}
		if s.status == http.StatusOK {
			serverTotal += time.Duration(s.serverTime) * time.Millisecond
			served++
		}
		latencies = append(latencies, s.latency)
		total += s.latency
	}
	if served > 0 {
		r.AvgServerTime = serverTotal / time.Duration(served)
	}
	if len(latencies) == 0 {
		return r
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	r.Min = latencies[0]
	r.Max = latencies[len(latencies)-1]
	r.Avg = total / time.Duration(len(latencies))
	r.P50 = percentile(latencies, 0.50)
	r.P90 = percentile(latencies, 0.90)
	r.P99 = percentile(latencies, 0.99)
	return r
}

// percentile uses the nearest-rank method on sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}

// Print writes a human-readable report.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintln(w, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║              JUDGE LOAD TEST                 ║")
	fmt.Fprintln(w, "╚══════════════════════════════════════════════╝")
	fmt.Fprintf(w, "Requests:          %d (%d transport errors)\n", r.Requests, r.Errors)
	fmt.Fprintf(w, "Wall clock:        %s\n", r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Throughput:        %.2f req/s\n", r.Throughput())
	fmt.Fprintf(w, "Latency:           min %s  avg %s  max %s\n", ms(r.Min), ms(r.Avg), ms(r.Max))
	fmt.Fprintf(w, "Percentiles:       p50 %s  p90 %s  p99 %s\n", ms(r.P50), ms(r.P90), ms(r.P99))
	fmt.Fprintf(w, "Avg serverTime:    %s\n", ms(r.AvgServerTime))

	fmt.Fprintln(w, "Verdicts:")
	for _, k := range sortedKeys(r.Verdicts) {
		fmt.Fprintf(w, "  %-4s %d\n", k, r.Verdicts[k])
	}
	fmt.Fprintln(w, "HTTP status:")
	codes := make([]int, 0, len(r.StatusCodes))
	for c := range r.StatusCodes {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	for _, c := range codes {
		fmt.Fprintf(w, "  %d  %d\n", c, r.StatusCodes[c])
	}
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
