package resilience

// HealthStatus is the JSON view of the breaker guarding the generative-AI service.
type HealthStatus struct {
	// Healthy is false only while the breaker is open.
	Healthy bool `json:"healthy"`
	// Status is the breaker state name, or "disabled" without a breaker.
	Status string `json:"status"`

	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
}

// DisabledHealth describes a client without a breaker. Nothing is ever refused, so
// it always reads healthy.
func DisabledHealth() HealthStatus {
	return HealthStatus{Healthy: true, Status: "disabled"}
}

func healthOf(state CircuitBreakerState, c CircuitBreakerCounts) HealthStatus {
	return HealthStatus{
		Healthy:              state != StateOpen,
		Status:               state.String(),
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveFailures:  c.ConsecutiveFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
	}
}
