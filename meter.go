package quotaguard

import "time"

// Meter observes routing events for monitoring/logging.
type Meter interface {
	// OnAdmission is called after each admission decision.
	OnAdmission(event AdmissionEvent)

	// OnResult is called when a backend returns a result.
	OnResult(event ResultEvent)

	// OnSearch is called after the search gate was consulted or charged.
	OnSearch(event SearchEvent)
}

// AdmissionOutcome is the result of one Select call.
type AdmissionOutcome string

const (
	AdmissionAdmitted        AdmissionOutcome = "admitted"
	AdmissionNoneAvailable   AdmissionOutcome = "none_available"
	AdmissionSelectionFailed AdmissionOutcome = "selection_failed"
)

// AdmissionEvent describes an admission decision.
type AdmissionEvent struct {
	RequestID string
	Backend   BackendID // empty unless admitted
	Preferred BackendID
	Outcome   AdmissionOutcome
	Attempt   int
	Projected Usage
}

// ResultEvent describes the outcome of a backend call.
type ResultEvent struct {
	RequestID string
	Backend   BackendID
	Success   bool
	Duration  time.Duration
	Usage     TokenUsage
	Chunks    int
	Error     error
}

// SearchEvent describes a search quota check or charge.
type SearchEvent struct {
	RequestID string
	Available bool
	Recorded  bool
	Used      int64
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (noopMeter) OnAdmission(AdmissionEvent) {}
func (noopMeter) OnResult(ResultEvent)       {}
func (noopMeter) OnSearch(SearchEvent)       {}
