// Package behavior maintains per-user behavioral baselines and flags
// deviations that feed the risk scorer.
package behavior

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ztx/accessd/internal/core"
)

// Activity is one observed access event for a user.
type Activity struct {
	Timestamp  time.Time
	Location   string
	DeviceID   string
	ResourceID string
}

// baseline is the rolling behavioral model for one user. Guarded by its own
// mutex so concurrent requests for different users never contend.
type baseline struct {
	mu           sync.Mutex
	hourCounts   [24]int
	locations    map[string]int
	devices      map[string]int
	resources    map[string]int
	observations int
	lastSeen     time.Time
	lastLocation string
}

// Detector builds baselines incrementally and detects deviations. It emits
// no anomalies until a user has the minimum number of observations, so a
// cold-start model never produces false positives.
type Detector struct {
	mu              sync.RWMutex
	baselines       map[string]*baseline
	minObservations int
}

// NewDetector creates a detector. minObservations of 0 uses 10.
func NewDetector(minObservations int) *Detector {
	if minObservations == 0 {
		minObservations = 10
	}
	return &Detector{
		baselines:       make(map[string]*baseline),
		minObservations: minObservations,
	}
}

func (d *Detector) userBaseline(userID string) *baseline {
	d.mu.RLock()
	b, ok := d.baselines[userID]
	d.mu.RUnlock()
	if ok {
		return b
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok = d.baselines[userID]; ok {
		return b
	}
	b = &baseline{
		locations: make(map[string]int),
		devices:   make(map[string]int),
		resources: make(map[string]int),
	}
	d.baselines[userID] = b
	return b
}

// Observe folds an activity into the user's rolling baseline.
func (d *Detector) Observe(userID string, act Activity) {
	b := d.userBaseline(userID)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.hourCounts[act.Timestamp.Hour()]++
	if act.Location != "" {
		b.locations[act.Location]++
	}
	if act.DeviceID != "" {
		b.devices[act.DeviceID]++
	}
	if act.ResourceID != "" {
		b.resources[act.ResourceID]++
	}
	b.observations++
	b.lastSeen = act.Timestamp
	if act.Location != "" {
		b.lastLocation = act.Location
	}
}

// Detect compares an activity against the user's baseline and returns any
// anomalies. Below the observation minimum it returns nil regardless of
// activity content. Detect does not mutate the baseline; callers Observe
// after detection so the activity itself does not mask its own deviation.
func (d *Detector) Detect(userID string, act Activity) []core.Anomaly {
	b := d.userBaseline(userID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.observations < d.minObservations {
		return nil
	}

	var anomalies []core.Anomaly

	if b.hourCounts[act.Timestamp.Hour()] == 0 {
		anomalies = append(anomalies, newAnomaly("unusual_time", core.SeverityMedium,
			fmt.Sprintf("access at hour %02d outside typical windows", act.Timestamp.Hour()), act.Timestamp))
	}

	if act.Location != "" && b.locations[act.Location] == 0 {
		anomalies = append(anomalies, newAnomaly("unusual_location", core.SeverityMedium,
			fmt.Sprintf("access from previously unseen location %q", act.Location), act.Timestamp))

		// Rapid location change: a different location within 30 minutes of
		// the last observation is physically implausible.
		if b.lastLocation != "" && b.lastLocation != act.Location &&
			!b.lastSeen.IsZero() && act.Timestamp.Sub(b.lastSeen) < 30*time.Minute {
			anomalies = append(anomalies, newAnomaly("velocity", core.SeverityHigh,
				fmt.Sprintf("location changed %q -> %q within %s",
					b.lastLocation, act.Location, act.Timestamp.Sub(b.lastSeen).Round(time.Second)), act.Timestamp))
		}
	}

	if act.DeviceID != "" && b.devices[act.DeviceID] == 0 {
		anomalies = append(anomalies, newAnomaly("new_device", core.SeverityMedium,
			fmt.Sprintf("first access from device %s", act.DeviceID), act.Timestamp))
	}

	if act.ResourceID != "" && b.resources[act.ResourceID] == 0 {
		anomalies = append(anomalies, newAnomaly("unusual_resource", core.SeverityLow,
			fmt.Sprintf("first access to resource %s", act.ResourceID), act.Timestamp))
	}

	return anomalies
}

// Observations returns the baseline size for a user, for diagnostics.
func (d *Detector) Observations(userID string) int {
	b := d.userBaseline(userID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.observations
}

func newAnomaly(kind string, severity core.Severity, description string, at time.Time) core.Anomaly {
	return core.Anomaly{
		ID:          uuid.NewString(),
		Type:        kind,
		Severity:    severity,
		Description: description,
		Timestamp:   at,
	}
}
