package meter

import (
	"log/slog"

	"github.com/ineyio/quotaguard"
)

// LogMeter logs routing events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ quotaguard.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnAdmission(e quotaguard.AdmissionEvent) {
	if e.Outcome == quotaguard.AdmissionAdmitted {
		m.Logger.Info("admitted",
			"request_id", e.RequestID,
			"backend", e.Backend,
			"preferred", e.Preferred,
			"attempt", e.Attempt,
			"projected_tokens", e.Projected.Tokens,
		)
		return
	}
	m.Logger.Warn("not_admitted",
		"request_id", e.RequestID,
		"preferred", e.Preferred,
		"outcome", e.Outcome,
		"attempt", e.Attempt,
	)
}

func (m *LogMeter) OnResult(e quotaguard.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"request_id", e.RequestID,
			"backend", e.Backend,
			"duration_ms", e.Duration.Milliseconds(),
			"prompt_tokens", e.Usage.PromptTokens,
			"completion_tokens", e.Usage.CompletionTokens,
			"chunks", e.Chunks,
		)
	} else {
		m.Logger.Warn("result_error",
			"request_id", e.RequestID,
			"backend", e.Backend,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}

func (m *LogMeter) OnSearch(e quotaguard.SearchEvent) {
	m.Logger.Debug("search",
		"request_id", e.RequestID,
		"available", e.Available,
		"recorded", e.Recorded,
		"used", e.Used,
	)
}
