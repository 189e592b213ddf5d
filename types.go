package quotaguard

import (
	"fmt"
	"time"
)

// BackendID identifies one AI backend/model.
type BackendID string

// Metric is one of the quota axes tracked per backend.
type Metric int

const (
	MetricRPM Metric = iota // requests per minute
	MetricTPM               // tokens per minute
	MetricRPD               // requests per day
)

var allMetrics = [...]Metric{MetricRPM, MetricTPM, MetricRPD}

// Metrics returns every metric in a fixed order.
func Metrics() []Metric {
	return allMetrics[:]
}

func (m Metric) String() string {
	switch m {
	case MetricRPM:
		return "rpm"
	case MetricTPM:
		return "tpm"
	case MetricRPD:
		return "rpd"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// Window returns the fixed counting window of the metric.
func (m Metric) Window() time.Duration {
	if m == MetricRPD {
		return 24 * time.Hour
	}
	return time.Minute
}

// StaticLimits are the provider-imposed limits of a backend.
type StaticLimits struct {
	RPM int64 `yaml:"rpm" json:"rpm"`
	TPM int64 `yaml:"tpm" json:"tpm"`
	RPD int64 `yaml:"rpd" json:"rpd"`
}

// Of returns the limit for a metric.
func (l StaticLimits) Of(m Metric) int64 {
	switch m {
	case MetricRPM:
		return l.RPM
	case MetricTPM:
		return l.TPM
	case MetricRPD:
		return l.RPD
	}
	return 0
}

// Usage is the consumption recorded against a backend after a successful call.
type Usage struct {
	Requests int64
	Tokens   int64
}

func (u Usage) of(m Metric) int64 {
	if m == MetricTPM {
		return u.Tokens
	}
	return u.Requests
}

// MetricCapacity is the state of one metric of a backend.
type MetricCapacity struct {
	Limit      int64
	Threshold  float64 // Limit scaled by the safety buffer
	Current    int64
	Remaining  int64
	ResetAt    time.Time
	Admissible bool
}

// CapacitySnapshot describes the capacity of a backend at one point in time.
type CapacitySnapshot struct {
	Backend BackendID
	Limits  StaticLimits
	Metrics map[Metric]MetricCapacity

	// Utilization is the highest current/limit ratio across metrics, in percent.
	Utilization float64
	CanAdmit    bool
	LastUsedAt  time.Time
}

// Current returns the current counter value for a metric.
func (s CapacitySnapshot) Current(m Metric) int64 { return s.Metrics[m].Current }

// Remaining returns max(0, limit-current) for a metric.
func (s CapacitySnapshot) Remaining(m Metric) int64 { return s.Metrics[m].Remaining }

// ResetAt returns when the metric's window ends.
func (s CapacitySnapshot) ResetAt(m Metric) time.Time { return s.Metrics[m].ResetAt }

// SearchStatus describes the search quota of the current month.
type SearchStatus struct {
	Month     string
	Used      int64
	Quota     int64
	Remaining int64
	Available bool
	ResetAt   time.Time
}

// TokenUsage is the token accounting reported by a backend.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Message is one turn of a conversation passed to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
