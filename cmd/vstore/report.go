package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"runtime"
	"runtime/metrics"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vango-dev/vstore/internal/config"
)

type runtimeMetricsSnapshot struct {
	cpuTotalSeconds float64
	cpuGCSeconds    float64

	heapAllocsBytes   uint64
	heapAllocsObjects uint64
}

func readRuntimeMetrics() runtimeMetricsSnapshot {
	samples := []metrics.Sample{
		{Name: "/cpu/classes/total:cpu-seconds"},
		{Name: "/cpu/classes/gc/total:cpu-seconds"},
		{Name: "/gc/heap/allocs:bytes"},
		{Name: "/gc/heap/allocs:objects"},
	}
	metrics.Read(samples)

	var out runtimeMetricsSnapshot
	for _, s := range samples {
		if s.Value.Kind() == metrics.KindBad {
			continue
		}
		switch s.Name {
		case "/cpu/classes/total:cpu-seconds":
			out.cpuTotalSeconds = s.Value.Float64()
		case "/cpu/classes/gc/total:cpu-seconds":
			out.cpuGCSeconds = s.Value.Float64()
		case "/gc/heap/allocs:bytes":
			out.heapAllocsBytes = s.Value.Uint64()
		case "/gc/heap/allocs:objects":
			out.heapAllocsObjects = s.Value.Uint64()
		}
	}
	return out
}

func cpuFraction(after, before runtimeMetricsSnapshot) float64 {
	total := after.cpuTotalSeconds - before.cpuTotalSeconds
	if total <= 0 {
		return 0
	}
	gc := after.cpuGCSeconds - before.cpuGCSeconds
	if gc < 0 {
		return 0
	}
	return gc / total
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := int(math.Ceil(float64(len(sorted))*p)) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// counterTotal sums every series of a counter family in reg.
func counterTotal(reg prometheus.Gatherer, name string) float64 {
	families, err := reg.Gather()
	if err != nil {
		return 0
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

type benchReport struct {
	Version    string         `json:"version"`
	Run        runInfo        `json:"run"`
	Workload   workloadInfo   `json:"workload"`
	LatencyMS  latencyInfo    `json:"latency_ms"`
	Throughput throughputInfo `json:"throughput"`
	Delivery   deliveryInfo   `json:"delivery"`
	GC         gcInfo         `json:"gc"`
}

type runInfo struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Go        string `json:"go"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	CPUCount  int    `json:"cpu_count"`
	GitCommit string `json:"git_commit,omitempty"`
}

type workloadInfo struct {
	Profile       string  `json:"profile"`
	Writers       int     `json:"writers"`
	Subscribers   int     `json:"subscribers"`
	Scopes        int     `json:"scopes"`
	DurationMS    int64   `json:"duration_ms"`
	RatePerWriter float64 `json:"rate_per_writer"`
	Recursion     int     `json:"recursion"`
	Strategy      string  `json:"strategy"`
	Redirect      bool    `json:"redirect"`
	MaxProcs      int     `json:"max_procs"`
	MemLimitBytes int64   `json:"mem_limit_bytes"`
}

type latencyInfo struct {
	Min float64 `json:"min"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type throughputInfo struct {
	UpdatesTotal     uint64  `json:"updates_total"`
	CommitsTotal     uint64  `json:"commits_total"`
	CommitsPerSec    float64 `json:"commits_per_sec"`
	UpdatesPerWriter float64 `json:"updates_per_sec_per_writer"`
}

type deliveryInfo struct {
	Rounds          uint64 `json:"rounds"`
	Deliveries      uint64 `json:"deliveries"`
	ScopeChanges    uint64 `json:"scope_changes"`
	NestedCommits   uint64 `json:"nested_commits"`
	OrderViolations uint64 `json:"order_violations"`
}

type gcInfo struct {
	AllocMB       float64 `json:"alloc_mb"`
	HeapLiveMB    float64 `json:"heap_live_mb"`
	NumGC         uint32  `json:"num_gc"`
	PauseTotalMS  float64 `json:"pause_total_ms"`
	GCCPUFraction float64 `json:"gc_cpu_fraction"`
	AllocsObjects uint64  `json:"allocs_objects"`
}

// runResult is what a finished run measured.
type runResult struct {
	id        string
	elapsed   time.Duration
	latencies []time.Duration
	counters  *benchCounters
	reg       prometheus.Gatherer

	before, after               runtime.MemStats
	beforeMetrics, afterMetrics runtimeMetricsSnapshot
}

func buildReport(cfg config.Bench, res runResult) benchReport {
	slices.Sort(res.latencies)
	latency := latencyInfo{}
	if n := len(res.latencies); n > 0 {
		latency = latencyInfo{
			Min: ms(res.latencies[0]),
			P50: ms(percentile(res.latencies, 0.50)),
			P95: ms(percentile(res.latencies, 0.95)),
			P99: ms(percentile(res.latencies, 0.99)),
			Max: ms(res.latencies[n-1]),
		}
	}

	updates := res.counters.updates.Load()
	commits := uint64(counterTotal(res.reg, "vstore_commits_total"))
	elapsed := math.Max(0.001, res.elapsed.Seconds())

	return benchReport{
		Version: "1",
		Run: runInfo{
			ID:        res.id,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Go:        runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			CPUCount:  runtime.NumCPU(),
			GitCommit: gitCommit(),
		},
		Workload: workloadInfo{
			Profile:       cfg.Profile,
			Writers:       cfg.Writers,
			Subscribers:   cfg.Subscribers,
			Scopes:        cfg.Scopes,
			DurationMS:    cfg.Duration.Milliseconds(),
			RatePerWriter: cfg.Rate,
			Recursion:     cfg.Recursion,
			Strategy:      cfg.BoxStrategy().String(),
			Redirect:      cfg.Redirect,
			MaxProcs:      cfg.MaxProcs,
			MemLimitBytes: int64(cfg.MemLimit),
		},
		LatencyMS: latency,
		Throughput: throughputInfo{
			UpdatesTotal:     updates,
			CommitsTotal:     commits,
			CommitsPerSec:    float64(commits) / elapsed,
			UpdatesPerWriter: float64(updates) / elapsed / float64(cfg.Writers),
		},
		Delivery: deliveryInfo{
			Rounds:          uint64(counterTotal(res.reg, "vstore_notify_rounds_total")),
			Deliveries:      res.counters.deliveries.Load(),
			ScopeChanges:    res.counters.scopeChanges.Load(),
			NestedCommits:   uint64(counterTotal(res.reg, "vstore_nested_commits_total")),
			OrderViolations: res.counters.orderViolations.Load(),
		},
		GC: gcInfo{
			AllocMB:       float64(res.after.TotalAlloc-res.before.TotalAlloc) / (1024 * 1024),
			HeapLiveMB:    float64(res.after.HeapAlloc) / (1024 * 1024),
			NumGC:         res.after.NumGC - res.before.NumGC,
			PauseTotalMS:  ms(time.Duration(res.after.PauseTotalNs - res.before.PauseTotalNs)),
			GCCPUFraction: cpuFraction(res.afterMetrics, res.beforeMetrics),
			AllocsObjects: res.afterMetrics.heapAllocsObjects - res.beforeMetrics.heapAllocsObjects,
		},
	}
}

func writeSummary(w io.Writer, report benchReport) {
	fmt.Fprintln(w, "=== vstore benchmark ===")
	fmt.Fprintf(w, "Run: %s\n", report.Run.ID)
	fmt.Fprintf(w, "Profile: %s\n", report.Workload.Profile)
	fmt.Fprintf(w, "Writers: %d  Subscribers: %d  Scopes: %d\n",
		report.Workload.Writers, report.Workload.Subscribers, report.Workload.Scopes)
	fmt.Fprintf(w, "Duration: %s\n", time.Duration(report.Workload.DurationMS)*time.Millisecond)
	fmt.Fprintf(w, "Strategy: %s  Redirect: %t  Recursion: %d\n",
		report.Workload.Strategy, report.Workload.Redirect, report.Workload.Recursion)
	if report.Workload.MaxProcs > 0 {
		fmt.Fprintf(w, "GOMAXPROCS cap: %d\n", report.Workload.MaxProcs)
	}
	if report.Workload.MemLimitBytes > 0 {
		fmt.Fprintf(w, "GOMEMLIMIT cap: %s\n", config.ByteSize(report.Workload.MemLimitBytes))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Updates: %d (%.1f/s per writer)\n", report.Throughput.UpdatesTotal, report.Throughput.UpdatesPerWriter)
	fmt.Fprintf(w, "Commits: %d (%.1f/s)\n", report.Throughput.CommitsTotal, report.Throughput.CommitsPerSec)
	fmt.Fprintf(w, "Rounds: %d  Deliveries: %d  Scope changes: %d\n",
		report.Delivery.Rounds, report.Delivery.Deliveries, report.Delivery.ScopeChanges)
	fmt.Fprintf(w, "Nested commits: %d\n", report.Delivery.NestedCommits)
	fmt.Fprintf(w, "Order violations: %d\n", report.Delivery.OrderViolations)
	fmt.Fprintln(w)

	if report.LatencyMS.Max == 0 {
		fmt.Fprintln(w, "No latency samples recorded.")
	} else {
		fmt.Fprintln(w, "Update latency (gate entry -> synchronous delivery done):")
		fmt.Fprintf(w, "  min: %.3f ms\n", report.LatencyMS.Min)
		fmt.Fprintf(w, "  p50: %.3f ms\n", report.LatencyMS.P50)
		fmt.Fprintf(w, "  p95: %.3f ms\n", report.LatencyMS.P95)
		fmt.Fprintf(w, "  p99: %.3f ms\n", report.LatencyMS.P99)
		fmt.Fprintf(w, "  max: %.3f ms\n", report.LatencyMS.Max)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Go runtime / GC (process-wide):")
	fmt.Fprintf(w, "  alloc:     %.2f MB\n", report.GC.AllocMB)
	fmt.Fprintf(w, "  heap_live: %.2f MB\n", report.GC.HeapLiveMB)
	fmt.Fprintf(w, "  num_gc:    %d\n", report.GC.NumGC)
	fmt.Fprintf(w, "  gc_pause:  %.2f ms (total)\n", report.GC.PauseTotalMS)
	fmt.Fprintf(w, "  gc_cpu:    %.2f%%\n", report.GC.GCCPUFraction*100)
}

func writeJSON(stdout io.Writer, path string, report benchReport) error {
	out := stdout
	if path != "-" {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func gitCommit() string {
	if val := strings.TrimSpace(os.Getenv("VSTORE_GIT_COMMIT")); val != "" {
		return val
	}
	if val := strings.TrimSpace(os.Getenv("GIT_COMMIT")); val != "" {
		return val
	}
	out, err := exec.Command("git", "rev-parse", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
