// Package segment enforces network segment isolation and detects lateral
// movement. The guard runs on connection events, independent of the
// decision engine, but the engine consults it for segment-scoped resources.
package segment

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ztx/accessd/internal/core"
	"github.com/ztx/accessd/internal/events"
	"github.com/ztx/accessd/internal/monitoring"
)

// Rule is one firewall entry. Connections are allowed only by an explicit
// allow rule; everything else is denied.
type Rule struct {
	ID            string `json:"id"`
	SourceSegment string `json:"source_segment"`
	Port          int    `json:"port"` // 0 matches any port
	Protocol      string `json:"protocol"`
	Allow         bool   `json:"allow"`
}

// MicroSegmentation is a sub-segment partition with default-deny between
// the parts.
type MicroSegmentation struct {
	Strategy    string    `json:"strategy"` // "by_workload", "by_sensitivity", "by_port_group"
	SubSegments []string  `json:"sub_segments"`
	EnabledAt   time.Time `json:"enabled_at"`
}

// SuspiciousConnection is one append-only log entry on a segment.
type SuspiciousConnection struct {
	ID         string        `json:"id"`
	Connection Connection    `json:"connection"`
	Severity   core.Severity `json:"severity"`
	Detail     string        `json:"detail"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Segment is one network zone.
type Segment struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	Sensitivity      int                    `json:"sensitivity"` // 1-5, management = 5
	Rules            []Rule                 `json:"rules"`
	ExpectedPeers    map[string]bool        `json:"expected_peers,omitempty"` // baseline communication graph
	SuspiciousLog    []SuspiciousConnection `json:"suspicious_log,omitempty"`
	Quarantined      bool                   `json:"quarantined"`
	QuarantineReason string                 `json:"quarantine_reason,omitempty"`
	MicroSeg         *MicroSegmentation     `json:"micro_segmentation,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// Connection is one observed cross-host connection attempt.
type Connection struct {
	SourceSegment string    `json:"source_segment"`
	DestSegment   string    `json:"dest_segment"`
	SourceIP      string    `json:"source_ip,omitempty"`
	DestIP        string    `json:"dest_ip,omitempty"`
	Port          int       `json:"port"`
	Protocol      string    `json:"protocol"`
	Timestamp     time.Time `json:"timestamp"`
}

func (c Connection) tuple() string {
	return fmt.Sprintf("%s->%s:%d/%s", c.SourceSegment, c.DestSegment, c.Port, c.Protocol)
}

// Movement describes a detected lateral-movement anomaly.
type Movement struct {
	Severity core.Severity `json:"severity"`
	Detail   string        `json:"detail"`
}

// Decision is the outcome of one connection check.
type Decision struct {
	Allowed  bool      `json:"allowed"`
	Reason   string    `json:"reason"`
	Movement *Movement `json:"movement,omitempty"`
}

// GuardConfig configures the guard.
type GuardConfig struct {
	ManagementSegment string
	ManagementPorts   []int
}

// Guard owns the segment registry, enforces isolation rules, and records
// suspicious traffic. Per-segment state mutates under the guard's lock;
// the observed-tuple history backs lateral-movement "previously seen"
// checks.
type Guard struct {
	mu       sync.RWMutex
	segments map[string]*Segment
	observed map[string]bool // tuple → seen before
	cfg      GuardConfig
	emitter  events.EventEmitter
	metrics  *monitoring.Metrics
}

// NewGuard creates a guard. Defaults: management segment "management",
// management ports 22 and 443.
func NewGuard(cfg GuardConfig, emitter events.EventEmitter, metrics *monitoring.Metrics) *Guard {
	if cfg.ManagementSegment == "" {
		cfg.ManagementSegment = "management"
	}
	if len(cfg.ManagementPorts) == 0 {
		cfg.ManagementPorts = []int{22, 443}
	}
	return &Guard{
		segments: make(map[string]*Segment),
		observed: make(map[string]bool),
		cfg:      cfg,
		emitter:  emitter,
		metrics:  metrics,
	}
}

// Provision registers a segment.
func (g *Guard) Provision(seg *Segment) {
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = time.Now()
	}
	if seg.ExpectedPeers == nil {
		seg.ExpectedPeers = make(map[string]bool)
	}
	g.mu.Lock()
	g.segments[seg.ID] = seg
	g.mu.Unlock()
}

// Get returns a segment by id.
func (g *Guard) Get(id string) (*Segment, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	seg, ok := g.segments[id]
	if !ok {
		return nil, &core.NotFoundError{Kind: "segment", ID: id}
	}
	return seg, nil
}

// AddRule appends a firewall rule to the destination segment.
func (g *Guard) AddRule(segmentID string, r Rule) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	seg, ok := g.segments[segmentID]
	if !ok {
		return &core.NotFoundError{Kind: "segment", ID: segmentID}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	seg.Rules = append(seg.Rules, r)
	return nil
}

// CheckConnection enforces segment isolation for one connection. Default is
// deny: only an explicit allow rule on the destination segment permits the
// (source, destination, port, protocol) tuple. Lateral-movement detection
// runs on every denial and its findings go to the destination segment's
// suspicious log.
func (g *Guard) CheckConnection(conn Connection) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	dest, ok := g.segments[conn.DestSegment]
	if !ok {
		return Decision{}, &core.NotFoundError{Kind: "segment", ID: conn.DestSegment}
	}

	decision := g.checkLocked(conn, dest)

	if !decision.Allowed {
		if mv := g.detectLateralLocked(conn, dest); mv != nil {
			decision.Movement = mv
			g.recordSuspiciousLocked(dest, conn, mv)
		}
	}

	// Every observed tuple becomes history, so a repeat of the same denied
	// path is no longer "never seen" but remains denied.
	g.observed[conn.tuple()] = true

	if g.metrics != nil {
		result := "denied"
		if decision.Allowed {
			result = "allowed"
		}
		g.metrics.SegmentChecks.WithLabelValues(result).Inc()
	}
	return decision, nil
}

func (g *Guard) checkLocked(conn Connection, dest *Segment) Decision {
	if src, ok := g.segments[conn.SourceSegment]; ok && src.Quarantined {
		return Decision{Reason: "source segment quarantined"}
	}

	if dest.Quarantined {
		// Deny-all-except-management while quarantined.
		if conn.SourceSegment == g.cfg.ManagementSegment && g.isManagementPort(conn.Port) {
			return Decision{Allowed: true, Reason: "management access to quarantined segment"}
		}
		return Decision{Reason: "destination segment quarantined"}
	}

	// Micro-segmentation: sub-segments are default-deny between each other
	// regardless of parent rules.
	if dest.MicroSeg != nil && contains(dest.MicroSeg.SubSegments, conn.SourceSegment) {
		return Decision{Reason: "micro-segmentation denies inter-sub-segment traffic"}
	}

	for _, r := range dest.Rules {
		if r.SourceSegment != conn.SourceSegment {
			continue
		}
		if r.Port != 0 && r.Port != conn.Port {
			continue
		}
		if r.Protocol != "" && r.Protocol != conn.Protocol {
			continue
		}
		if r.Allow {
			return Decision{Allowed: true, Reason: fmt.Sprintf("allowed by rule %s", r.ID)}
		}
		return Decision{Reason: fmt.Sprintf("denied by rule %s", r.ID)}
	}

	return Decision{Reason: "no matching allow rule (default deny)"}
}

// detectLateralLocked flags a connection crossing segment boundaries with no
// rule and no prior history. Severity scales with the sensitivity of the
// destination segment.
func (g *Guard) detectLateralLocked(conn Connection, dest *Segment) *Movement {
	if conn.SourceSegment == conn.DestSegment {
		return nil
	}
	if dest.ExpectedPeers[conn.SourceSegment] {
		return nil
	}
	if g.observed[conn.tuple()] {
		return nil
	}

	mv := &Movement{
		Severity: severityFor(dest.Sensitivity),
		Detail: fmt.Sprintf("unexpected cross-segment connection %s -> %s on %d/%s",
			conn.SourceSegment, conn.DestSegment, conn.Port, conn.Protocol),
	}

	if g.metrics != nil {
		g.metrics.LateralMovementAlerts.WithLabelValues(string(mv.Severity)).Inc()
	}
	if g.emitter != nil {
		g.emitter.Emit(events.TypeLateralMovement, "/segments", conn.DestSegment, map[string]interface{}{
			"source_segment": conn.SourceSegment,
			"dest_segment":   conn.DestSegment,
			"port":           conn.Port,
			"protocol":       conn.Protocol,
			"severity":       string(mv.Severity),
		})
	}
	slog.Warn("Lateral movement detected",
		"source", conn.SourceSegment, "dest", conn.DestSegment,
		"port", conn.Port, "severity", mv.Severity)
	return mv
}

func (g *Guard) recordSuspiciousLocked(dest *Segment, conn Connection, mv *Movement) {
	dest.SuspiciousLog = append(dest.SuspiciousLog, SuspiciousConnection{
		ID:         uuid.NewString(),
		Connection: conn,
		Severity:   mv.Severity,
		Detail:     mv.Detail,
		Timestamp:  time.Now(),
	})
}

// Quarantine transitions a segment to deny-all-except-management. Terminal
// until ClearQuarantine.
func (g *Guard) Quarantine(segmentID, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	seg, ok := g.segments[segmentID]
	if !ok {
		return &core.NotFoundError{Kind: "segment", ID: segmentID}
	}
	seg.Quarantined = true
	seg.QuarantineReason = reason

	if g.emitter != nil {
		g.emitter.Emit(events.TypeSegmentQuarantine, "/segments", segmentID, map[string]interface{}{
			"segment_id": segmentID,
			"reason":     reason,
		})
	}
	slog.Warn("Segment quarantined", "segment_id", segmentID, "reason", reason)
	return nil
}

// ClearQuarantine lifts a quarantine after explicit remediation.
func (g *Guard) ClearQuarantine(segmentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	seg, ok := g.segments[segmentID]
	if !ok {
		return &core.NotFoundError{Kind: "segment", ID: segmentID}
	}
	seg.Quarantined = false
	seg.QuarantineReason = ""
	return nil
}

// IsQuarantined reports segment quarantine state; unknown segments read as
// not quarantined.
func (g *Guard) IsQuarantined(segmentID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	seg, ok := g.segments[segmentID]
	return ok && seg.Quarantined
}

// EnableMicroSegmentation partitions a segment into sub-segments with
// default-deny between them.
func (g *Guard) EnableMicroSegmentation(segmentID, strategy string, subSegments []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	seg, ok := g.segments[segmentID]
	if !ok {
		return &core.NotFoundError{Kind: "segment", ID: segmentID}
	}
	if len(subSegments) < 2 {
		return fmt.Errorf("micro-segmentation requires at least 2 sub-segments, got %d", len(subSegments))
	}
	seg.MicroSeg = &MicroSegmentation{
		Strategy:    strategy,
		SubSegments: subSegments,
		EnabledAt:   time.Now(),
	}
	slog.Info("Micro-segmentation enabled",
		"segment_id", segmentID, "strategy", strategy, "sub_segments", len(subSegments))
	return nil
}

func (g *Guard) isManagementPort(port int) bool {
	for _, p := range g.cfg.ManagementPorts {
		if p == port {
			return true
		}
	}
	return false
}

func severityFor(sensitivity int) core.Severity {
	switch {
	case sensitivity >= 5:
		return core.SeverityCritical
	case sensitivity == 4:
		return core.SeverityHigh
	case sensitivity == 3:
		return core.SeverityMedium
	default:
		return core.SeverityLow
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
