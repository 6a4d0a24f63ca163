// Package drift watches live prediction streams for departures from the
// distribution a model was trained on.
package drift

import (
	"math"
	"sync"

	kiterrors "github.com/YuminosukeSato/churnkit/pkg/errors"
)

// RateMonitor is a binomial control chart around a fixed base rate.
// It tracks the share of positive predictions since the last reset and
// flags the stream when that share leaves the band expected from the
// training data. The chart is two-sided: churn rates collapsing toward
// zero are as suspicious as rates exploding upward.
type RateMonitor struct {
	// Hyperparameters
	baseRate        float64
	minObservations int
	warningLevel    float64
	alarmLevel      float64

	// Statistics
	observations int
	positives    int

	// State
	warningActive bool
	alarmActive   bool

	mu sync.RWMutex
}

// RateStatus reports the monitor state after one observation.
type RateStatus struct {
	Observations int
	PositiveRate float64
	BaseRate     float64
	Sigmas       float64 // deviation from the base rate in binomial standard deviations
	Warning      bool
	Alarm        bool
}

// MonitorOption configures a RateMonitor
type MonitorOption func(*RateMonitor)

// NewRateMonitor creates a monitor around the training positive rate.
func NewRateMonitor(baseRate float64, opts ...MonitorOption) (*RateMonitor, error) {
	if baseRate < 0 || baseRate > 1 {
		return nil, kiterrors.NewValidationError("base_rate", "must be in [0, 1]", baseRate)
	}

	m := &RateMonitor{
		baseRate:        baseRate,
		minObservations: 30,
		warningLevel:    2.0, // base ± 2σ
		alarmLevel:      3.0, // base ± 3σ
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// WithMinObservations sets how many predictions must arrive before the
// monitor starts judging the rate
func WithMinObservations(n int) MonitorOption {
	return func(m *RateMonitor) {
		m.minObservations = n
	}
}

// WithWarningLevel sets the warning band in standard deviations
func WithWarningLevel(level float64) MonitorOption {
	return func(m *RateMonitor) {
		m.warningLevel = level
	}
}

// WithAlarmLevel sets the alarm band in standard deviations
func WithAlarmLevel(level float64) MonitorOption {
	return func(m *RateMonitor) {
		m.alarmLevel = level
	}
}

// Update feeds one prediction into the monitor and returns the resulting
// status. An alarm emits a ModelDriftWarning and resets the counters, so a
// sustained shift re-alarms once per accumulation window.
func (m *RateMonitor) Update(positive bool) *RateStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.observations++
	if positive {
		m.positives++
	}

	if m.observations < m.minObservations {
		return &RateStatus{
			Observations: m.observations,
			BaseRate:     m.baseRate,
		}
	}

	rate := float64(m.positives) / float64(m.observations)
	std := math.Sqrt(m.baseRate * (1 - m.baseRate) / float64(m.observations))

	sigmas := 0.0
	deviation := math.Abs(rate - m.baseRate)
	switch {
	case std > 0:
		sigmas = deviation / std
	case deviation > 0:
		sigmas = math.Inf(1)
	}

	status := &RateStatus{
		Observations: m.observations,
		PositiveRate: rate,
		BaseRate:     m.baseRate,
		Sigmas:       sigmas,
	}

	m.warningActive = sigmas > m.warningLevel
	status.Warning = m.warningActive

	if sigmas > m.alarmLevel {
		m.alarmActive = true
		status.Alarm = true
		kiterrors.Warn(kiterrors.NewModelDriftWarning(
			"positive_rate", sigmas, m.alarmLevel,
			"compare recent inputs with the training distribution and consider retraining"))
		m.resetLocked()
	} else {
		m.alarmActive = false
	}

	return status
}

// Observe is a convenience wrapper taking the predicted label directly.
func (m *RateMonitor) Observe(label int) *RateStatus {
	return m.Update(label == 1)
}

// Stats returns a snapshot of the current monitor state.
func (m *RateMonitor) Stats() RateStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := RateStatus{
		Observations: m.observations,
		BaseRate:     m.baseRate,
		Warning:      m.warningActive,
		Alarm:        m.alarmActive,
	}
	if m.observations > 0 {
		status.PositiveRate = float64(m.positives) / float64(m.observations)
	}
	return status
}

// BaseRate returns the training positive rate the monitor compares against.
func (m *RateMonitor) BaseRate() float64 {
	return m.baseRate
}

// Reset clears the accumulated observations.
func (m *RateMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *RateMonitor) resetLocked() {
	m.observations = 0
	m.positives = 0
	m.warningActive = false
	m.alarmActive = false
}
