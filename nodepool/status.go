package nodepool

import "fmt"

// Status is the health classification of a node after a probe.
type Status int

const (
	Unhealthy Status = iota
	HealthyButLagging
	HealthyAndSynced
)

// statusOrder lists statuses from best to worst. Status comparisons go
// through this table rather than the underlying integer values.
var statusOrder = []Status{HealthyAndSynced, HealthyButLagging, Unhealthy}

func (s Status) rank() int {
	for i, o := range statusOrder {
		if o == s {
			return i
		}
	}
	return len(statusOrder)
}

// Better is true if s is strictly better than other.
func (s Status) Better(other Status) bool {
	return s.rank() < other.rank()
}

func (s Status) String() string {
	switch s {
	case HealthyAndSynced:
		return "synced"
	case HealthyButLagging:
		return "lagging"
	case Unhealthy:
		return "unhealthy"
	}
	return "invalid"
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for _, o := range statusOrder {
		if o.String() == string(text) {
			*s = o
			return nil
		}
	}
	return fmt.Errorf("unknown node status %q", text)
}

// healthValue is reported to the node health gauge.
func (s Status) healthValue() float64 {
	switch s {
	case HealthyAndSynced:
		return 1
	case HealthyButLagging:
		return 0.5
	}
	return 0
}

// Classify derives the status of a probed node. A node ahead of
// topOfLedger has no lag.
func Classify(sample Sample, topOfLedger uint64, maxLag uint64) Status {
	if sample.Err != nil {
		return Unhealthy
	}
	var lag uint64
	if topOfLedger > sample.StateVersion {
		lag = topOfLedger - sample.StateVersion
	}
	if lag <= maxLag {
		return HealthyAndSynced
	}
	return HealthyButLagging
}
