// Package metrics provides custom Prometheus metrics for potholewatch components.
package metrics

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation label values shared by the Recorder implementations.
const (
	OpInference    = "inference"
	OpHealthCheck  = "health_check"
	OpReportCreate = "report_create"
	OpReportUpdate = "report_update"
	OpTaskAssign   = "task_assign"
	OpTaskComplete = "task_complete"
	OpLeaderboard  = "leaderboard"
)

// Histogram bucket parameters.
const (
	BucketStart1ms = 0.001
	BucketStart64B = 64
	BucketStart1KB = 1024
	BucketFactor2  = 2
	BucketCount10  = 10
	BucketCount12  = 12
	BucketCount14  = 14
)
