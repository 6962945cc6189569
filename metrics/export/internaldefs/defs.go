package internaldefs

import (
	"github.com/NguyenMinh4869/toystory"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   toystory.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   toystory.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: toystory.MetricLoginSuccess, Name: "toystory_login_success_total", Help: "Logins that reached the authenticated state."},
	{ID: toystory.MetricLoginFailure, Name: "toystory_login_failure_total", Help: "Logins that returned an auth failure."},
	{ID: toystory.MetricLoginRejectedInFlight, Name: "toystory_login_rejected_in_flight_total", Help: "Logins refused because another login was outstanding."},
	{ID: toystory.MetricProfileFetchSuccess, Name: "toystory_profile_fetch_success_total", Help: "Successful current-user fetches."},
	{ID: toystory.MetricProfileFetchFailure, Name: "toystory_profile_fetch_failure_total", Help: "Failed current-user fetches."},
	{ID: toystory.MetricLogout, Name: "toystory_logout_total", Help: "Local logouts."},
	{ID: toystory.MetricRemoteLogoutFailure, Name: "toystory_remote_logout_failure_total", Help: "Background remote logouts that failed."},
	{ID: toystory.MetricRefresh, Name: "toystory_refresh_total", Help: "Session refreshes from storage."},
	{ID: toystory.MetricCrossTabRefresh, Name: "toystory_cross_tab_refresh_total", Help: "Refreshes triggered by another tab."},
	{ID: toystory.MetricStorageUnavailable, Name: "toystory_storage_unavailable_total", Help: "Session storage operations that failed and were degraded."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: toystory.MetricLoginLatency, Name: "toystory_login_latency_seconds", Help: "Login latency, credential exchange through profile fetch."},
}

// HistogramBounds are the upper bounds of the engine's login latency
// buckets, in seconds.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramBoundSuffix spells HistogramBounds as instrument name suffixes.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count. A
// disabled histogram yields all zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into le counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

// SessionGauge reports 1 for an authenticated session, 0 otherwise.
func SessionGauge(s toystory.SessionSnapshot) uint64 {
	if s.IsAuthenticated {
		return 1
	}
	return 0
}
