// Package metrics provides Prometheus metrics for the correlation engine.
package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on it rather than on concrete collectors so tests can
// use TestRecorder.
type Recorder interface {
	// RecordOperation records an operation with its status or label
	// (e.g. OpDocument/"success", OpEntityUpsert/"indicator").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type.
	RecordError(operation, errorType string)

	// RecordCount records a quantity produced by one operation
	// (e.g. OpCandidates, OpRelationship).
	RecordCount(operation string, n float64)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordOperation(string, string) {}
func (NopRecorder) RecordDuration(string, float64) {}
func (NopRecorder) RecordError(string, string)     {}
func (NopRecorder) RecordCount(string, float64)    {}

// OrNop returns r, or a NopRecorder when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return NopRecorder{}
	}
	return r
}
