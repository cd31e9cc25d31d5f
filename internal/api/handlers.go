package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ztx/accessd/internal/core"
	"github.com/ztx/accessd/internal/events"
	"github.com/ztx/accessd/internal/notify"
	"github.com/ztx/accessd/internal/policy"
	"github.com/ztx/accessd/internal/segment"
	"github.com/ztx/accessd/internal/session"
)

// --- Decisions ---

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req core.AccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &core.ValidationError{Field: "body", Msg: err.Error()})
		return
	}

	decided, err := s.engine.Evaluate(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decided)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.engine.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor  string `json:"actor"`
		Action string `json:"action"` // "approved" or "denied"
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &core.ValidationError{Field: "body", Msg: err.Error()})
		return
	}

	req, err := s.engine.Override(r.Context(), mux.Vars(r)["id"], body.Actor, body.Action, body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Archive(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

func (s *Server) handleRequestAudit(w http.ResponseWriter, r *http.Request) {
	records, err := s.audit.ByRequest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// --- Directory ---

func (s *Server) handlePutUser(w http.ResponseWriter, r *http.Request) {
	var u core.UserIdentity
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, &core.ValidationError{Field: "body", Msg: err.Error()})
		return
	}
	u.ID = mux.Vars(r)["id"]
	s.directory.PutUser(r.Context(), &u)
	writeJSON(w, http.StatusOK, &u)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.directory.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handlePutDevice(w http.ResponseWriter, r *http.Request) {
	var d core.DeviceTrust
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, &core.ValidationError{Field: "body", Msg: err.Error()})
		return
	}
	d.ID = mux.Vars(r)["id"]
	s.directory.PutDevice(r.Context(), &d)
	writeJSON(w, http.StatusOK, &d)
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.directory.GetDevice(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleQuarantineDevice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &core.ValidationError{Field: "body", Msg: err.Error()})
		return
	}

	id := mux.Vars(r)["id"]
	if err := s.directory.QuarantineDevice(r.Context(), id, body.Reason); err != nil {
		writeError(w, err)
		return
	}
	if s.emitter != nil {
		s.emitter.Emit(events.TypeDeviceQuarantine, "/devices", id, map[string]interface{}{
			"device_id": id,
			"reason":    body.Reason,
		})
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "quarantined"})
}

func (s *Server) handleClearDeviceQuarantine(w http.ResponseWriter, r *http.Request) {
	if err := s.directory.ClearDeviceQuarantine(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// --- Sessions ---

func (s *Server) handleRegisterSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
		UserID    string `json:"user_id"`
		DeviceID  string `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &core.ValidationError{Field: "body", Msg: err.Error()})
		return
	}
	if body.SessionID == "" {
		writeError(w, &core.ValidationError{Field: "session_id", Msg: "required"})
		return
	}

	sess := s.sessions.Register(body.SessionID, body.UserID, body.DeviceID)
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleValidateSession(w http.ResponseWriter, r *http.Request) {
	v, err := s.sessions.Validate(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &core.ValidationError{Field: "body", Msg: err.Error()})
		return
	}

	if err := s.sessions.Revoke(mux.Vars(r)["id"], body.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session.Validity{Valid: false, Reason: session.ReasonRevoked, Action: session.ActionReauthenticate})
}

// --- Policies ---

func (s *Server) handlePushPolicy(w http.ResponseWriter, r *http.Request) {
	var p policy.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, &core.ValidationError{Field: "body", Msg: err.Error()})
		return
	}
	if p.ID == "" {
		writeError(w, &core.ValidationError{Field: "id", Msg: "required"})
		return
	}
	writeJSON(w, http.StatusCreated, s.policies.Push(&p))
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p := s.policies.GetActive(id)
	if p == nil {
		writeError(w, &core.NotFoundError{Kind: "policy", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePolicyHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	history := s.policies.GetHistory(id)
	if len(history) == 0 {
		writeError(w, &core.NotFoundError{Kind: "policy", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleRollbackPolicy(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Version int `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &core.ValidationError{Field: "body", Msg: err.Error()})
		return
	}

	p, err := s.policies.Rollback(mux.Vars(r)["id"], body.Version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Segments ---

func (s *Server) handleProvisionSegment(w http.ResponseWriter, r *http.Request) {
	var seg segment.Segment
	if err := json.NewDecoder(r.Body).Decode(&seg); err != nil {
		writeError(w, &core.ValidationError{Field: "body", Msg: err.Error()})
		return
	}
	if seg.ID == "" {
		writeError(w, &core.ValidationError{Field: "id", Msg: "required"})
		return
	}
	s.guard.Provision(&seg)
	writeJSON(w, http.StatusCreated, &seg)
}

func (s *Server) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	seg, err := s.guard.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, seg)
}

func (s *Server) handleCheckConnection(w http.ResponseWriter, r *http.Request) {
	var conn segment.Connection
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		writeError(w, &core.ValidationError{Field: "body", Msg: err.Error()})
		return
	}

	d, err := s.guard.CheckConnection(conn)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var rule segment.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, &core.ValidationError{Field: "body", Msg: err.Error()})
		return
	}

	if err := s.guard.AddRule(mux.Vars(r)["id"], rule); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleQuarantineSegment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &core.ValidationError{Field: "body", Msg: err.Error()})
		return
	}

	if err := s.guard.Quarantine(mux.Vars(r)["id"], body.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "quarantined"})
}

func (s *Server) handleClearSegmentQuarantine(w http.ResponseWriter, r *http.Request) {
	if err := s.guard.ClearQuarantine(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleMicroSegmentation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Strategy    string   `json:"strategy"`
		SubSegments []string `json:"sub_segments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &core.ValidationError{Field: "body", Msg: err.Error()})
		return
	}

	if err := s.guard.EnableMicroSegmentation(mux.Vars(r)["id"], body.Strategy, body.SubSegments); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

// --- Webhooks ---

func (s *Server) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var sub notify.Subscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, &core.ValidationError{Field: "body", Msg: err.Error()})
		return
	}

	if err := s.webhooks.Register(&sub); err != nil {
		writeError(w, &core.ValidationError{Field: "subscription", Msg: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, &sub)
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.webhooks.ListAll())
}

func (s *Server) handleUnregisterWebhook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.webhooks.Unregister(id); err != nil {
		writeError(w, &core.NotFoundError{Kind: "webhook", ID: id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
