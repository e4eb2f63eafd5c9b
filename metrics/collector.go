package metrics

// Collector wraps the package-level vectors and pre-fills the job_id label,
// the way a coordinator only ever reports metrics for the one job it owns.
type Collector struct {
	jobID string
}

// NewCollector creates a new Collector for the given job.
func NewCollector(jobID string) *Collector {
	return &Collector{jobID: jobID}
}

// IncModificationsTriggered increments the triggered counter for an action.
func (c *Collector) IncModificationsTriggered(action string) {
	ModificationsTriggeredTotal.WithLabelValues(c.jobID, action).Inc()
}

// IncAcknowledgements increments the intake counter for a message kind.
func (c *Collector) IncAcknowledgements(kind string) {
	AcknowledgementsTotal.WithLabelValues(c.jobID, kind).Inc()
}

// IncModificationsCompleted increments the completed counter.
func (c *Collector) IncModificationsCompleted() {
	ModificationsCompletedTotal.WithLabelValues(c.jobID).Inc()
}

// IncModificationsFailed increments the failed counter for a terminal state.
func (c *Collector) IncModificationsFailed(terminalState string) {
	ModificationsFailedTotal.WithLabelValues(c.jobID, terminalState).Inc()
}

// IncRestartsCompleted increments the restarts-completed counter.
func (c *Collector) IncRestartsCompleted() {
	RestartsCompletedTotal.WithLabelValues(c.jobID).Inc()
}

// IncLeakedSlots increments the leaked-slots counter.
func (c *Collector) IncLeakedSlots(n int) {
	LeakedSlotsTotal.WithLabelValues(c.jobID).Add(float64(n))
}

// SetPendingModifications sets the pending-map size gauge.
func (c *Collector) SetPendingModifications(count int) {
	PendingModifications.WithLabelValues(c.jobID).Set(float64(count))
}

// ObserveModificationDuration records a trigger-to-terminal duration.
func (c *Collector) ObserveModificationDuration(action string, seconds float64) {
	ModificationDuration.WithLabelValues(c.jobID, action).Observe(seconds)
}

// ObserveRestartLatency records an ack-to-redeploy duration.
func (c *Collector) ObserveRestartLatency(seconds float64) {
	RestartLatency.WithLabelValues(c.jobID).Observe(seconds)
}
