// Package observability provides OpenTelemetry metrics and tracing for the gallery API.
package observability

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameHTTPRequests          = "gallery_http_requests_total"
	MetricNameHTTPRequestDuration   = "gallery_http_request_duration_seconds"
	MetricNameRequestBodyTooLarge   = "gallery_request_body_too_large_total"
	MetricNameInferenceCalls        = "gallery_inference_calls_total"
	MetricNameInferenceDuration     = "gallery_inference_duration_seconds"
	MetricNameStoreOperations       = "gallery_store_operations_total"
	MetricNameStoreDuration         = "gallery_store_operation_duration_seconds"
	MetricNameCacheLookups          = "gallery_cache_lookups_total"
	MetricNameSessionQueries        = "gallery_session_queries_total"
	MetricNameSessionStaleDiscards  = "gallery_session_stale_discards_total"
	MetricNameSessionsActive        = "gallery_sessions_active"
	MetricNameEmbeddingJobsEnqueued = "gallery_embedding_jobs_enqueued_total"
	MetricNameEmbeddingJobOutcomes  = "gallery_embedding_job_outcomes_total"
	MetricNameEmbeddingJobDuration  = "gallery_embedding_job_duration_seconds"
	MetricNameRiverQueueDepth       = "gallery_river_queue_depth"
)

// Attribute keys.
const (
	AttrProvider  = "provider"
	AttrBackend   = "backend"
	AttrOperation = "operation"
	AttrStatus    = "status"
	AttrMode      = "mode"
	AttrKind      = "kind"
	AttrReason    = "reason"
	AttrCache     = "cache"
	AttrResult    = "result"
)

// AllowedStatuses for inference calls, store operations, and job outcomes.
var AllowedStatuses = map[string]bool{
	"success":      true,
	"unavailable":  true,
	"rejected":     true,
	"invalid":      true,
	"not_found":    true,
	"mismatch":     true,
	"retry":        true,
	"failed_final": true,
}

// AllowedStoreOperations for gallery_store_operations_total.
var AllowedStoreOperations = map[string]bool{
	"insert":            true,
	"insert_batch":      true,
	"get_by_id":         true,
	"list_recent":       true,
	"count":             true,
	"sample_random":     true,
	"nearest_neighbors": true,
	"delete":            true,
	"list_ids":          true,
}

// AllowedCacheNames for gallery_cache_lookups_total.
var AllowedCacheNames = map[string]bool{
	"record_by_id": true,
	"media_probe":  true,
}

// AllowedSessionModes for session counters.
var AllowedSessionModes = map[string]bool{
	"browse": true,
	"search": true,
}

// NormalizeReason returns reason if in allowed, otherwise "other".
func NormalizeReason(reason string, allowed map[string]bool) string {
	if allowed[reason] {
		return reason
	}

	return "other"
}

// NormalizeStatus returns status if in AllowedStatuses, otherwise "other".
func NormalizeStatus(status string) string {
	return NormalizeReason(status, AllowedStatuses)
}

// NormalizeCacheName returns name if in AllowedCacheNames, otherwise "other".
func NormalizeCacheName(name string) string {
	return NormalizeReason(name, AllowedCacheNames)
}
