package meter

import "github.com/ineyio/quotaguard"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ quotaguard.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnAdmission(quotaguard.AdmissionEvent) {}
func (m *NoopMeter) OnResult(quotaguard.ResultEvent)       {}
func (m *NoopMeter) OnSearch(quotaguard.SearchEvent)       {}
