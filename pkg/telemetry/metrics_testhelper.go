package telemetry

import "sync"

// ResetMetricsForTest clears cached instruments so tests can bind them to a
// fresh MeterProvider. Test code only.
func ResetMetricsForTest() {
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	hopCounter = nil
	hopFailureCounter = nil
	hopLatency = nil
	jobCounter = nil
	jobTimeoutCounter = nil
}
