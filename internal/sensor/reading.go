package sensor

import (
	"fmt"
	"strings"
)

// Metric identifies one sensor channel on a device.
type Metric uint8

const (
	MetricHR  Metric = 0
	MetricGSR Metric = 1
)

// Metrics lists every channel a device session tracks.
var Metrics = []Metric{MetricHR, MetricGSR}

func (m Metric) String() string {
	switch m {
	case MetricHR:
		return "HR"
	case MetricGSR:
		return "GSR"
	default:
		return fmt.Sprintf("Metric(%d)", uint8(m))
	}
}

func (m Metric) Valid() bool {
	return m == MetricHR || m == MetricGSR
}

func ParseMetric(raw string) (Metric, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "HR":
		return MetricHR, nil
	case "GSR":
		return MetricGSR, nil
	default:
		return 0, fmt.Errorf("sensor: unknown metric %q", raw)
	}
}

// Reading is one sample. The value is opaque to the bridge.
type Reading struct {
	Metric Metric
	Value  int
}

func (r Reading) String() string {
	return fmt.Sprintf("[%s][%d]", r.Metric, r.Value)
}
