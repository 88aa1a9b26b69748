package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/parlo-ai/parlo/pkg/config"
)

func breakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		Window:           30 * time.Second,
		FailureThreshold: 3,
		Cooldown:         20 * time.Second,
	}
}

// testBreakers returns a set on an adjustable clock. Mutate *now to advance.
func testBreakers(t *testing.T) (*BreakerSet, *time.Time) {
	t.Helper()
	now := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)
	set := NewBreakerSetAt(breakerConfig(), nil, func() time.Time { return now })
	return set, &now
}

func TestBreakerSet_OpensAtFailureThreshold(t *testing.T) {
	set, _ := testBreakers(t)

	set.RecordFailure("ws-1", "book_appointment")
	set.RecordFailure("ws-1", "book_appointment")
	assert.True(t, set.Admit("ws-1", "book_appointment"), "below threshold stays closed")
	assert.Equal(t, "CLOSED", set.StateName("ws-1", "book_appointment"))

	set.RecordFailure("ws-1", "book_appointment")
	assert.Equal(t, "OPEN", set.StateName("ws-1", "book_appointment"))
	assert.False(t, set.Admit("ws-1", "book_appointment"))
}

func TestBreakerSet_SlidingWindowForgetsOldFailures(t *testing.T) {
	set, now := testBreakers(t)

	set.RecordFailure("ws-1", "book_appointment")
	set.RecordFailure("ws-1", "book_appointment")

	*now = now.Add(31 * time.Second)
	set.RecordFailure("ws-1", "book_appointment")

	assert.Equal(t, "CLOSED", set.StateName("ws-1", "book_appointment"),
		"failures outside the window must not count toward the threshold")
	assert.True(t, set.Admit("ws-1", "book_appointment"))
}

func TestBreakerSet_CooldownAdmitsSingleProbe(t *testing.T) {
	set, now := testBreakers(t)
	for i := 0; i < 3; i++ {
		set.RecordFailure("ws-1", "book_appointment")
	}

	*now = now.Add(19 * time.Second)
	assert.False(t, set.Admit("ws-1", "book_appointment"), "cooldown not yet elapsed")

	*now = now.Add(2 * time.Second)
	assert.True(t, set.Admit("ws-1", "book_appointment"), "first caller after cooldown probes")
	assert.Equal(t, "HALF_OPEN", set.StateName("ws-1", "book_appointment"))
	assert.False(t, set.Admit("ws-1", "book_appointment"), "second caller waits for the probe")
}

func TestBreakerSet_ProbeSuccessCloses(t *testing.T) {
	set, now := testBreakers(t)
	for i := 0; i < 3; i++ {
		set.RecordFailure("ws-1", "book_appointment")
	}
	*now = now.Add(21 * time.Second)
	assert.True(t, set.Admit("ws-1", "book_appointment"))

	set.RecordSuccess("ws-1", "book_appointment")

	assert.Equal(t, "CLOSED", set.StateName("ws-1", "book_appointment"))
	assert.True(t, set.Admit("ws-1", "book_appointment"))
}

func TestBreakerSet_ProbeFailureReopens(t *testing.T) {
	set, now := testBreakers(t)
	for i := 0; i < 3; i++ {
		set.RecordFailure("ws-1", "book_appointment")
	}
	*now = now.Add(21 * time.Second)
	assert.True(t, set.Admit("ws-1", "book_appointment"))

	set.RecordFailure("ws-1", "book_appointment")

	assert.Equal(t, "OPEN", set.StateName("ws-1", "book_appointment"))
	assert.False(t, set.Admit("ws-1", "book_appointment"), "cooldown restarts from the failed probe")

	*now = now.Add(21 * time.Second)
	assert.True(t, set.Admit("ws-1", "book_appointment"), "a fresh probe is admitted after the new cooldown")
}

func TestBreakerSet_ForceHalfOpen(t *testing.T) {
	set, _ := testBreakers(t)
	for i := 0; i < 3; i++ {
		set.RecordFailure("ws-1", "book_appointment")
	}

	prior := set.ForceHalfOpen("ws-1", "book_appointment")

	assert.Equal(t, "OPEN", prior)
	assert.Equal(t, "HALF_OPEN", set.StateName("ws-1", "book_appointment"))
	assert.True(t, set.Admit("ws-1", "book_appointment"), "forced probe skips the cooldown")
	assert.False(t, set.Admit("ws-1", "book_appointment"))
}

func TestBreakerSet_CancelProbeReleasesAdmission(t *testing.T) {
	set, now := testBreakers(t)
	for i := 0; i < 3; i++ {
		set.RecordFailure("ws-1", "book_appointment")
	}
	*now = now.Add(21 * time.Second)
	assert.True(t, set.Admit("ws-1", "book_appointment"))
	assert.False(t, set.Admit("ws-1", "book_appointment"))

	set.CancelProbe("ws-1", "book_appointment")

	assert.True(t, set.Admit("ws-1", "book_appointment"), "cancelled probe frees the slot")
}

func TestBreakerSet_KeysAreIndependent(t *testing.T) {
	set, _ := testBreakers(t)
	for i := 0; i < 3; i++ {
		set.RecordFailure("ws-1", "book_appointment")
	}

	assert.False(t, set.Admit("ws-1", "book_appointment"))
	assert.True(t, set.Admit("ws-2", "book_appointment"), "other workspaces keep their own circuit")
	assert.True(t, set.Admit("ws-1", "get_availability"), "other tools keep their own circuit")
}

func TestBreakerSet_SuccessClearsWindow(t *testing.T) {
	set, _ := testBreakers(t)

	set.RecordFailure("ws-1", "book_appointment")
	set.RecordFailure("ws-1", "book_appointment")
	set.RecordSuccess("ws-1", "book_appointment")
	set.RecordFailure("ws-1", "book_appointment")
	set.RecordFailure("ws-1", "book_appointment")

	assert.Equal(t, "CLOSED", set.StateName("ws-1", "book_appointment"),
		"the count restarts after a success")
}
