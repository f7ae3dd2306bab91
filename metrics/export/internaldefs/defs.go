package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one goSession counter for exporters.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one goSession histogram for exporters.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goSession.MetricSessionCreated, Name: "gosession_session_created_total", Help: "Created sessions."},
	{ID: goSession.MetricSessionLoaded, Name: "gosession_session_loaded_total", Help: "Lookups that found a live session."},
	{ID: goSession.MetricSessionMiss, Name: "gosession_session_miss_total", Help: "Lookups of well-formed tokens without a live session."},
	{ID: goSession.MetricInvalidToken, Name: "gosession_invalid_token_total", Help: "Lookups of malformed tokens."},
	{ID: goSession.MetricSessionInvalidated, Name: "gosession_session_invalidated_total", Help: "Explicitly invalidated sessions."},
	{ID: goSession.MetricSessionExpired, Name: "gosession_session_expired_total", Help: "Sessions removed by the expiry sweep."},
	{ID: goSession.MetricSessionRotated, Name: "gosession_session_rotated_total", Help: "Session token rotations."},
	{ID: goSession.MetricAttributeSet, Name: "gosession_attribute_set_total", Help: "Stored attribute writes."},
	{ID: goSession.MetricAttributeRemoved, Name: "gosession_attribute_removed_total", Help: "Removed attributes."},
	{ID: goSession.MetricTypeMismatch, Name: "gosession_attribute_type_mismatch_total", Help: "Typed attribute reads that hit another kind."},
	{ID: goSession.MetricIDCollision, Name: "gosession_id_collision_total", Help: "Generated session IDs that were already live."},
	{ID: goSession.MetricSweepRun, Name: "gosession_sweep_runs_total", Help: "Expiry sweep invocations."},
	{ID: goSession.MetricBackendError, Name: "gosession_backend_errors_total", Help: "Backend failures surfaced to callers."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricLookupLatency, Name: "gosession_lookup_latency_seconds", Help: "Session lookup latency histogram."},
}

// AuditDroppedName is the counter of audit events lost to backpressure.
const (
	AuditDroppedName = "gosession_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// HistogramUpperBounds are the finite bucket bounds in seconds; the eighth bucket is +Inf.
var HistogramUpperBounds = []float64{
	0.005,
	0.01,
	0.025,
	0.05,
	0.1,
	0.25,
	0.5,
}

// HistogramBoundSuffix names each bucket for exporters without native histograms.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
