package resilience

import (
	"testing"

	"tradecore/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanProceedClosedByDefault(t *testing.T) {
	m := NewManager()
	assert.True(t, m.CanProceed("exchange"))
}

func TestBreakerTripsAfterThresholdErrors(t *testing.T) {
	m := NewManager()
	for i := 0; i < common.DefaultBreakerErrorThreshold; i++ {
		m.RecordError("exchange", common.SeverityWarning)
	}
	assert.Equal(t, StateOpen, m.State("exchange"))
	assert.False(t, m.CanProceed("exchange"))
}

func TestBreakerIndependentPerComponent(t *testing.T) {
	m := NewManager()
	for i := 0; i < common.DefaultBreakerErrorThreshold; i++ {
		m.RecordError("exchange", common.SeverityWarning)
	}
	assert.False(t, m.CanProceed("exchange"))
	assert.True(t, m.CanProceed("model"))
}

func TestRecordSuccessClosesHalfOpenBreaker(t *testing.T) {
	m := NewManager()
	b := m.get("exchange")
	b.state = StateHalfOpen
	m.RecordSuccess("exchange")
	assert.Equal(t, StateClosed, m.State("exchange"))
}

func TestEmergencyStopLatchesAfterThreeCriticalErrors(t *testing.T) {
	m := NewManager()
	for i := 0; i < common.EmergencyStopCriticalCount; i++ {
		m.RecordError("execution", common.SeverityCritical)
	}
	stopped, reason := m.IsEmergencyStopped()
	require.True(t, stopped)
	assert.Contains(t, reason, "execution")
	assert.False(t, m.CanProceed("marketdata"), "emergency stop must block every component")
}

func TestEmergencyStopIsStickyUntilForceRecovery(t *testing.T) {
	m := NewManager()
	for i := 0; i < common.EmergencyStopCriticalCount; i++ {
		m.RecordError("execution", common.SeverityCritical)
	}
	m.RecordSuccess("execution")
	stopped, _ := m.IsEmergencyStopped()
	assert.True(t, stopped, "emergency stop does not clear on a plain success")

	m.ForceRecovery()
	stopped, _ = m.IsEmergencyStopped()
	assert.False(t, stopped)
	assert.True(t, m.CanProceed("execution"))
}

func TestHalfOpenAllowsOnlyOneProbe(t *testing.T) {
	m := NewManager()
	b := m.get("exchange")
	b.state = StateHalfOpen
	assert.True(t, m.CanProceed("exchange"))
	m.MarkHalfOpenAttempt("exchange")
	assert.False(t, m.CanProceed("exchange"), "a second concurrent caller must not also probe")
}
