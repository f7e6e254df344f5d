package runtime

import (
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"
)

const latencySampleSize = 256

// HandlerStats tracks delivery outcomes for one registered handler.
type HandlerStats struct {
	mu sync.Mutex `json:"-"`

	handlerName  string `json:"-"`
	subject      string `json:"-"`
	consumerName string `json:"-"`

	Processed           uint64    `json:"processed"`
	Failed              uint64    `json:"failed"`
	Duplicates          uint64    `json:"duplicates"`
	DeadLettered        uint64    `json:"dead_lettered"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time `json:"last_processed_at"`
	LastError           string    `json:"last_error,omitempty"`

	Latency LatencyMetrics `json:"latency"`

	latencyWindow *latencyWindow `json:"-"`
}

// HandlerInfo describes a registered event handler.
type HandlerInfo struct {
	Name         string        `json:"name"`
	Subject      string        `json:"subject"`
	ConsumerName string        `json:"consumer_name"`
	Stats        *HandlerStats `json:"stats"`
}

// LatencyMetrics summarises recent handler durations.
type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

func newHandlerStats(name, subject, consumerName string) *HandlerStats {
	return &HandlerStats{
		handlerName:   name,
		subject:       subject,
		consumerName:  consumerName,
		latencyWindow: newLatencyWindow(latencySampleSize),
	}
}

func (h *HandlerStats) recordDuplicate() {
	h.mu.Lock()
	h.Duplicates++
	h.mu.Unlock()
}

func (h *HandlerStats) recordDeadLetter() {
	h.mu.Lock()
	h.DeadLettered++
	h.mu.Unlock()
}

func (h *HandlerStats) recordProcessed(duration time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Processed++
	if err != nil {
		h.Failed++
		h.LastError = err.Error()
	}
	h.TotalProcessingTime += int64(duration)
	h.LastProcessedAt = time.Now().UTC()

	if h.latencyWindow != nil {
		h.latencyWindow.Add(duration)
		snapshot := h.latencyWindow.Snapshot()
		snapshot.LastNs = int64(duration)
		if h.Processed > 0 {
			snapshot.AverageNs = h.TotalProcessingTime / int64(h.Processed)
		}
		h.Latency = snapshot
	}
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type Alias HandlerStats
	return json.Marshal((*Alias)(h))
}

// latencyWindow is a fixed-size ring of recent durations.
type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw == nil || lw.filled == 0 {
		metrics.LastNs = lw.lastOrZero()
		return metrics
	}

	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var sum int64
	for _, v := range samples {
		sum += v
	}

	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	metrics.AverageNs = sum / int64(len(samples))
	metrics.LastNs = lw.last
	return metrics
}

func (lw *latencyWindow) lastOrZero() int64 {
	if lw == nil {
		return 0
	}
	return lw.last
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}
