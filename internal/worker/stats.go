package worker

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Latencies are recorded in microseconds, from 1µs up to a minute.
const (
	minLatency = 1
	maxLatency = int64(time.Minute / time.Microsecond)
	sigFigures = 3
)

// Stats aggregates transaction results. It is safe for concurrent use.
type Stats struct {
	mu       sync.Mutex
	hist     *hdrhistogram.Histogram
	outcomes map[string]int64
	targets  map[string]int64
	statuses map[int]int64
	started  time.Time
}

// NewStats creates empty statistics.
func NewStats() *Stats {
	return &Stats{
		hist:     hdrhistogram.New(minLatency, maxLatency, sigFigures),
		outcomes: make(map[string]int64),
		targets:  make(map[string]int64),
		statuses: make(map[int]int64),
		started:  time.Now(),
	}
}

// Record adds one finished transaction. Latencies beyond the histogram range
// are clamped.
func (s *Stats) Record(target, outcome string, status int, d time.Duration) {
	us := min(max(d.Microseconds(), minLatency), maxLatency)

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.hist.RecordValue(us)
	s.outcomes[outcome]++
	s.targets[target]++
	if status > 0 {
		s.statuses[status]++
	}
}

// Summary is a point-in-time view of Stats.
type Summary struct {
	Total    int64
	Elapsed  time.Duration
	Outcomes map[string]int64
	Targets  map[string]int64
	Statuses map[int]int64

	Min  time.Duration
	Mean time.Duration
	P50  time.Duration
	P90  time.Duration
	P99  time.Duration
	Max  time.Duration
}

// Throughput returns transactions per second over the elapsed time.
func (s Summary) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Total) / s.Elapsed.Seconds()
}

// StatusCodes returns the observed status codes in ascending order.
func (s Summary) StatusCodes() []int {
	codes := make([]int, 0, len(s.Statuses))
	for code := range s.Statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// Snapshot summarizes everything recorded so far.
func (s *Stats) Snapshot() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{
		Total:    s.hist.TotalCount(),
		Elapsed:  time.Since(s.started),
		Outcomes: copyMap(s.outcomes),
		Targets:  copyMap(s.targets),
		Statuses: copyMap(s.statuses),
	}
	if sum.Total == 0 {
		return sum
	}
	sum.Min = micros(s.hist.Min())
	sum.Mean = time.Duration(s.hist.Mean() * float64(time.Microsecond))
	sum.P50 = micros(s.hist.ValueAtQuantile(50))
	sum.P90 = micros(s.hist.ValueAtQuantile(90))
	sum.P99 = micros(s.hist.ValueAtQuantile(99))
	sum.Max = micros(s.hist.Max())
	return sum
}

func micros(v int64) time.Duration { return time.Duration(v) * time.Microsecond }

func copyMap[K comparable](m map[K]int64) map[K]int64 {
	out := make(map[K]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
