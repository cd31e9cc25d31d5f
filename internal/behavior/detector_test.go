package behavior

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ztx/accessd/internal/core"
)

func baselineActivity(i int) Activity {
	return Activity{
		Timestamp:  time.Date(2026, 3, 2+i%5, 10, 0, 0, 0, time.UTC), // hour 10
		Location:   "berlin",
		DeviceID:   "laptop-1",
		ResourceID: "crm",
	}
}

func seed(d *Detector, userID string, n int) {
	for i := 0; i < n; i++ {
		d.Observe(userID, baselineActivity(i))
	}
}

func TestDetect_ColdStartEmitsNothing(t *testing.T) {
	d := NewDetector(10)
	seed(d, "u1", 9)

	// Wildly different activity, but the baseline is too thin to judge.
	anomalies := d.Detect("u1", Activity{
		Timestamp:  time.Date(2026, 3, 9, 3, 0, 0, 0, time.UTC),
		Location:   "pyongyang",
		DeviceID:   "burner-phone",
		ResourceID: "payroll",
	})
	assert.Nil(t, anomalies)
}

func TestDetect_BaselineConformingActivityIsClean(t *testing.T) {
	d := NewDetector(10)
	seed(d, "u1", 15)

	anomalies := d.Detect("u1", baselineActivity(20))
	assert.Empty(t, anomalies)
}

func TestDetect_UnusualTime(t *testing.T) {
	d := NewDetector(10)
	seed(d, "u1", 12)

	act := baselineActivity(0)
	act.Timestamp = time.Date(2026, 3, 9, 3, 0, 0, 0, time.UTC) // 3am, never seen

	anomalies := d.Detect("u1", act)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "unusual_time", anomalies[0].Type)
	assert.Equal(t, core.SeverityMedium, anomalies[0].Severity)
}

func TestDetect_NewLocationAndVelocity(t *testing.T) {
	d := NewDetector(10)
	seed(d, "u1", 12)

	// Same hour as baseline, 10 minutes after the last observation, from a
	// new location: both unusual_location and velocity fire.
	last := baselineActivity(11)
	act := Activity{
		Timestamp:  last.Timestamp.Add(10 * time.Minute),
		Location:   "sydney",
		DeviceID:   "laptop-1",
		ResourceID: "crm",
	}

	anomalies := d.Detect("u1", act)
	types := make([]string, 0, len(anomalies))
	for _, a := range anomalies {
		types = append(types, a.Type)
	}
	assert.Contains(t, types, "unusual_location")
	assert.Contains(t, types, "velocity")

	for _, a := range anomalies {
		if a.Type == "velocity" {
			assert.Equal(t, core.SeverityHigh, a.Severity)
		}
	}
}

func TestDetect_NewLocationWithoutVelocityAfterGap(t *testing.T) {
	d := NewDetector(10)
	seed(d, "u1", 12)

	last := baselineActivity(11)
	act := Activity{
		Timestamp: last.Timestamp.Add(6 * time.Hour),
		Location:  "sydney",
		DeviceID:  "laptop-1",
	}

	anomalies := d.Detect("u1", act)
	for _, a := range anomalies {
		assert.NotEqual(t, "velocity", a.Type)
	}
}

func TestDetect_NewDeviceAndResource(t *testing.T) {
	d := NewDetector(10)
	seed(d, "u1", 12)

	act := baselineActivity(0)
	act.DeviceID = "tablet-9"
	act.ResourceID = "billing"

	anomalies := d.Detect("u1", act)
	require.Len(t, anomalies, 2)
	assert.Equal(t, "new_device", anomalies[0].Type)
	assert.Equal(t, "unusual_resource", anomalies[1].Type)
	assert.Equal(t, core.SeverityLow, anomalies[1].Severity)
}

func TestDetect_DoesNotMutateBaseline(t *testing.T) {
	d := NewDetector(10)
	seed(d, "u1", 12)

	act := baselineActivity(0)
	act.DeviceID = "tablet-9"

	first := d.Detect("u1", act)
	require.NotEmpty(t, first)

	// Without an Observe in between, the same activity is still anomalous.
	second := d.Detect("u1", act)
	assert.Len(t, second, len(first))

	// After observing, the device is part of the baseline.
	d.Observe("u1", act)
	third := d.Detect("u1", act)
	assert.Empty(t, third)
}

func TestBaselinesIsolatedPerUser(t *testing.T) {
	d := NewDetector(10)
	seed(d, "u1", 12)

	// u2 has no history: cold start, nothing emitted.
	assert.Nil(t, d.Detect("u2", baselineActivity(0)))
	assert.Equal(t, 12, d.Observations("u1"))
	assert.Equal(t, 0, d.Observations("u2"))
}
