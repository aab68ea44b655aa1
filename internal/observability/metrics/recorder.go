package metrics

// Recorder is the minimal metrics surface components depend on, so tests can
// substitute a recording fake for the Prometheus implementation.
type Recorder interface {
	// RecordOperation counts an operation outcome, e.g. ("inference", "success").
	RecordOperation(operation, status string)

	// RecordDuration observes the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError counts an error by operation and category.
	RecordError(operation, errorType string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordOperation(string, string) {}
func (NopRecorder) RecordDuration(string, float64) {}
func (NopRecorder) RecordError(string, string) {}

var _ Recorder = NopRecorder{}
