package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ztx/accessd/internal/audit"
	"github.com/ztx/accessd/internal/core"
	"github.com/ztx/accessd/internal/events"
)

// Override appends a manual decision to a decided request's approval chain.
// Action must be ApprovalApproved or ApprovalDenied. The automated verdict
// is never rewritten; EffectiveVerdict resolves to the latest entry.
func (e *Engine) Override(ctx context.Context, requestID, actor, action, reason string) (*core.AccessRequest, error) {
	if actor == "" {
		return nil, &core.ValidationError{Field: "actor", Msg: "required"}
	}
	if action != core.ApprovalApproved && action != core.ApprovalDenied {
		return nil, &core.ValidationError{Field: "action",
			Msg: fmt.Sprintf("must be %q or %q", core.ApprovalApproved, core.ApprovalDenied)}
	}

	e.mu.Lock()
	req, ok := e.decided[requestID]
	if !ok {
		e.mu.Unlock()
		return nil, &core.NotFoundError{Kind: "request", ID: requestID}
	}
	if req.State == core.StateArchived {
		e.mu.Unlock()
		return nil, &core.ValidationError{Field: "request_id", Msg: "request is archived"}
	}

	verdict := core.VerdictAllow
	if action == core.ApprovalDenied {
		verdict = core.VerdictDeny
	}
	req.History = append(req.History, core.ApprovalEntry{
		ID:        uuid.NewString(),
		Actor:     actor,
		Action:    action,
		Verdict:   verdict,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	req.State = core.StateOverridden
	out := req.Clone()
	e.mu.Unlock()

	slog.Info("Decision overridden",
		"request_id", requestID, "actor", actor, "action", action)

	rec := audit.NewRecord(audit.KindOverride)
	rec.RequestID = out.ID
	rec.UserID = out.UserID
	rec.DeviceID = out.DeviceID
	rec.Actor = actor
	rec.Verdict = string(verdict)
	rec.Rationale = []string{reason}
	if err := e.deps.Audit.Append(ctx, rec); err != nil {
		slog.Error("Audit append failed", "request_id", out.ID, "error", err)
	}

	if e.deps.Emitter != nil {
		e.deps.Emitter.Emit(events.TypeDecisionOverride, "/decisions", out.ID, map[string]interface{}{
			"request_id": out.ID,
			"actor":      actor,
			"action":     action,
			"verdict":    string(verdict),
		})
	}
	return out, nil
}

// Archive marks a decided request archived. Archived requests reject
// further overrides but remain readable.
func (e *Engine) Archive(requestID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	req, ok := e.decided[requestID]
	if !ok {
		return &core.NotFoundError{Kind: "request", ID: requestID}
	}
	req.State = core.StateArchived
	return nil
}
