// Package metrics exposes prometheus collectors for builds, resolutions and installs.
//
// All methods are safe to call on a nil *M, which records nothing: library code
// takes an optional *M and never checks it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "castor"

// Outcome labels
const (
	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// M holds the collectors
type M struct {
	ChunksWritten      prometheus.Counter
	ChunksDeduplicated prometheus.Counter
	BytesRaw           prometheus.Counter
	BytesCompressed    prometheus.Counter
	Builds             prometheus.Counter

	ResolveAttempts *prometheus.CounterVec
	CacheHits       prometheus.Counter

	Installs          *prometheus.CounterVec
	ChunksFetched     prometheus.Counter
	ChunksSkipped     prometheus.Counter
	IntegrityFailures prometheus.Counter
	InstallDuration   prometheus.Histogram
}

// New collectors, registered with reg. A nil registerer leaves them unregistered.
func New(reg prometheus.Registerer) *M {
	m := &M{
		ChunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "build", Name: "chunks_written_total",
			Help: "Chunks written to repositories.",
		}),
		ChunksDeduplicated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "build", Name: "chunks_deduplicated_total",
			Help: "Files whose content was already held by a chunk of the same build.",
		}),
		BytesRaw: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "build", Name: "raw_bytes_total",
			Help: "Uncompressed bytes of chunks written to repositories.",
		}),
		BytesCompressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "build", Name: "compressed_bytes_total",
			Help: "Compressed bytes of chunks written to repositories.",
		}),
		Builds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "build", Name: "artifacts_total",
			Help: "Artifacts built.",
		}),
		ResolveAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "resolve", Name: "attempts_total",
			Help: "Fetch attempts against repository sources, by source and outcome.",
		}, []string{"source", "outcome"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "resolve", Name: "cache_hits_total",
			Help: "Resolutions served from the local cache.",
		}),
		Installs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "install", Name: "artifacts_total",
			Help: "Artifact installs, by outcome.",
		}, []string{"outcome"}),
		ChunksFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "install", Name: "chunks_fetched_total",
			Help: "Chunks fetched, verified and written to the store.",
		}),
		ChunksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "install", Name: "chunks_skipped_total",
			Help: "Chunks already present in the store.",
		}),
		IntegrityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "install", Name: "integrity_failures_total",
			Help: "Chunks whose content did not match their identifier.",
		}),
		InstallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "install", Name: "duration_seconds",
			Help:    "Duration of successful installs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func (m *M) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ChunksWritten, m.ChunksDeduplicated, m.BytesRaw, m.BytesCompressed, m.Builds,
		m.ResolveAttempts, m.CacheHits,
		m.Installs, m.ChunksFetched, m.ChunksSkipped, m.IntegrityFailures, m.InstallDuration,
	}
}

// ChunkWritten records a chunk written by a build
func (m *M) ChunkWritten(raw, compressed int) {
	if m == nil {
		return
	}
	m.ChunksWritten.Inc()
	m.BytesRaw.Add(float64(raw))
	m.BytesCompressed.Add(float64(compressed))
}

// ChunkDeduplicated records a file whose chunk was already written by the same build
func (m *M) ChunkDeduplicated() {
	if m == nil {
		return
	}
	m.ChunksDeduplicated.Inc()
}

// Built records a completed build
func (m *M) Built() {
	if m == nil {
		return
	}
	m.Builds.Inc()
}

// Resolved records the outcome of a fetch attempt against a source
func (m *M) Resolved(source, outcome string) {
	if m == nil {
		return
	}
	m.ResolveAttempts.WithLabelValues(source, outcome).Inc()
}

// CacheHit records a resolution served from the cache
func (m *M) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

// ChunkFetched records a chunk verified and written to a store
func (m *M) ChunkFetched() {
	if m == nil {
		return
	}
	m.ChunksFetched.Inc()
}

// ChunkSkipped records a chunk already present in a store
func (m *M) ChunkSkipped() {
	if m == nil {
		return
	}
	m.ChunksSkipped.Inc()
}

// IntegrityFailure records a chunk which failed verification
func (m *M) IntegrityFailure() {
	if m == nil {
		return
	}
	m.IntegrityFailures.Inc()
}

// Installed records the outcome of an install, and its duration when successful
func (m *M) Installed(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Installs.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		m.InstallDuration.Observe(seconds)
	}
}
