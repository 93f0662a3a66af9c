package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/guild-hub/guild-xp/internal/application/query"
	"github.com/guild-hub/guild-xp/internal/domain/autorole"
	"github.com/guild-hub/guild-xp/internal/domain/experience"
	"github.com/guild-hub/guild-xp/internal/domain/rolescalar"
	"github.com/guild-hub/guild-xp/internal/domain/shared"
	"github.com/guild-hub/guild-xp/internal/infrastructure/scheduler"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]any{
		"name":     "guild-xp",
		"version":  s.config.Version,
		"uptime":   s.Uptime().Round(time.Second).String(),
		"features": s.deps.Features,
		"endpoints": map[string]string{
			"health":      "/health",
			"leaderboard": "/api/v1/leaderboard",
			"member":      "/api/v1/members/{id}",
			"actions":     "/api/v1/actions",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, code, status)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	size, err := pageSize(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.deps.Leaderboard.Top(r.Context(), size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, page)
}

func (s *Server) handleAround(w http.ResponseWriter, r *http.Request) {
	principal, err := shared.ParsePrincipalID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	size, err := pageSize(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := s.deps.Leaderboard.Around(r.Context(), principal, size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, page)
}

func (s *Server) handleMember(w http.ResponseWriter, r *http.Request) {
	principal, err := shared.ParsePrincipalID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.deps.Leaderboard.MemberInfo(r.Context(), principal)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, info)
}

// ══════════════════════════════════════════════════════════════════════════════
// INGESTION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// actionEvent is one reward-earning action reported by the front-end.
type actionEvent struct {
	PrincipalID snowflake `json:"principal_id"`
	Action      string    `json:"action"`
}

type recordActionsRequest struct {
	Events []actionEvent `json:"events"`
}

// handleRecordActions buffers a batch of actions. The batch is validated
// up front so a bad event rejects the whole request.
func (s *Server) handleRecordActions(w http.ResponseWriter, r *http.Request) {
	var req recordActionsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Events) == 0 {
		s.writeError(w, r, shared.Validationf("http", "RecordActions", "events must not be empty"))
		return
	}

	type parsed struct {
		principal shared.PrincipalID
		action    experience.ActionType
	}
	events := make([]parsed, 0, len(req.Events))
	for i, ev := range req.Events {
		if ev.PrincipalID <= 0 {
			s.writeError(w, r, shared.Validationf("http", "RecordActions", "events[%d]: principal_id is required", i))
			return
		}
		action, err := experience.ParseActionType(ev.Action)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("events[%d]: %w", i, err))
			return
		}
		events = append(events, parsed{shared.PrincipalID(ev.PrincipalID), action})
	}

	for _, ev := range events {
		if err := s.deps.Engine.RecordAction(ev.principal, ev.action); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.writeJSON(w, r, http.StatusAccepted, map[string]int{"accepted": len(events)})
}

func (s *Server) handleVoicePresent(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.deps.Voice.Present(r.Context())
	if err != nil {
		s.writeError(w, r, shared.StoreError("voice", "Present", err))
		return
	}
	s.writeJSON(w, r, http.StatusOK, sessions)
}

func (s *Server) handleVoiceJoin(w http.ResponseWriter, r *http.Request) {
	principal, err := shared.ParsePrincipalID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Voice.Join(r.Context(), principal, s.now()); err != nil {
		s.writeError(w, r, shared.StoreError("voice", "Join", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVoiceLeave(w http.ResponseWriter, r *http.Request) {
	principal, err := shared.ParsePrincipalID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Voice.Leave(r.Context(), principal); err != nil {
		s.writeError(w, r, shared.StoreError("voice", "Leave", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN: SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

type amountRequest struct {
	Amount *float64 `json:"amount"`
}

func (req amountRequest) value(op string) (float64, error) {
	if req.Amount == nil {
		return 0, shared.Validationf("http", op, "amount is required")
	}
	return *req.Amount, nil
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.deps.Engine.Settings())
}

func (s *Server) handleSetReward(w http.ResponseWriter, r *http.Request) {
	action, err := experience.ParseActionType(r.PathValue("action"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := req.value("SetReward")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	settings, err := s.deps.Engine.SetReward(r.Context(), action, amount)
	s.respond(w, r, settings, err)
}

func (s *Server) handleSetGainCap(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := req.value("SetGainCap")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	settings, err := s.deps.Engine.SetGainCap(r.Context(), amount)
	s.respond(w, r, settings, err)
}

type announceChannelRequest struct {
	// ChannelID null clears the channel.
	ChannelID *snowflake `json:"channel_id"`
}

func (s *Server) handleSetAnnounceChannel(w http.ResponseWriter, r *http.Request) {
	var req announceChannelRequest
	if !s.decode(w, r, &req) {
		return
	}
	var channel *shared.ChannelID
	if req.ChannelID != nil {
		if *req.ChannelID <= 0 {
			s.writeError(w, r, shared.Validationf("http", "SetAnnounceChannel", "channel_id must be positive"))
			return
		}
		ch := shared.ChannelID(*req.ChannelID)
		channel = &ch
	}
	settings, err := s.deps.Engine.SetAnnounceChannel(r.Context(), channel)
	s.respond(w, r, settings, err)
}

type updateCurveRequest struct {
	Scalar        *float64 `json:"scalar"`
	Power         *float64 `json:"power"`
	MaintainLevel bool     `json:"maintain_level"`
}

func (s *Server) handleUpdateCurve(w http.ResponseWriter, r *http.Request) {
	var req updateCurveRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.deps.Engine.UpdateLevelCurve(r.Context(), req.Scalar, req.Power, req.MaintainLevel)
	s.respond(w, r, result, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN: MEMBERS
// ══════════════════════════════════════════════════════════════════════════════

type levelsRequest struct {
	Levels *int `json:"levels"`
}

type levelRequest struct {
	Level *int `json:"level"`
}

func (s *Server) handleAddExperience(w http.ResponseWriter, r *http.Request) {
	principal, err := shared.ParsePrincipalID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := req.value("AddExperience")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.deps.Engine.AddExperienceDirect(r.Context(), principal, amount)
	s.respond(w, r, rec, err)
}

func (s *Server) handleSetExperience(w http.ResponseWriter, r *http.Request) {
	principal, err := shared.ParsePrincipalID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := req.value("SetExperience")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.deps.Engine.SetExperience(r.Context(), principal, amount)
	s.respond(w, r, rec, err)
}

func (s *Server) handleAddLevels(w http.ResponseWriter, r *http.Request) {
	principal, err := shared.ParsePrincipalID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req levelsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Levels == nil {
		s.writeError(w, r, shared.Validationf("http", "AddLevels", "levels is required"))
		return
	}
	rec, err := s.deps.Engine.AddExperienceLevels(r.Context(), principal, *req.Levels)
	s.respond(w, r, rec, err)
}

func (s *Server) handleSetLevel(w http.ResponseWriter, r *http.Request) {
	principal, err := shared.ParsePrincipalID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req levelRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Level == nil {
		s.writeError(w, r, shared.Validationf("http", "SetLevel", "level is required"))
		return
	}
	rec, err := s.deps.Engine.SetExperienceLevel(r.Context(), principal, *req.Level)
	s.respond(w, r, rec, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN: RULES
// ══════════════════════════════════════════════════════════════════════════════

type assignScalarRequest struct {
	RoleID   snowflake `json:"role_id"`
	Scalar   *float64  `json:"scalar"`
	Priority int       `json:"priority"`
}

type createAutoroleRequest struct {
	RoleID   snowflake `json:"role_id"`
	AssignAt *int      `json:"assign_at"`
	RemoveAt int       `json:"remove_at"`
}

func (s *Server) handleListScalars(w http.ResponseWriter, r *http.Request) {
	rules, err := s.deps.Rules.ListScalars(r.Context())
	s.respond(w, r, rules, err)
}

func (s *Server) handleAssignScalar(w http.ResponseWriter, r *http.Request) {
	var req assignScalarRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Scalar == nil {
		s.writeError(w, r, shared.Validationf("http", "AssignScalar", "scalar is required"))
		return
	}
	rule, err := s.deps.Rules.AssignScalar(r.Context(), shared.RoleID(req.RoleID), *req.Scalar, req.Priority)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, rule)
}

func (s *Server) handleModifyScalar(w http.ResponseWriter, r *http.Request) {
	role, err := shared.ParseRoleID(r.PathValue("role"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var patch rolescalar.Patch
	if !s.decode(w, r, &patch) {
		return
	}
	if err := s.deps.Rules.ModifyScalar(r.Context(), role, patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveScalar(w http.ResponseWriter, r *http.Request) {
	role, err := shared.ParseRoleID(r.PathValue("role"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Rules.RemoveScalar(r.Context(), role); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAutoroles(w http.ResponseWriter, r *http.Request) {
	rules, err := s.deps.Rules.ListAutoroles(r.Context())
	s.respond(w, r, rules, err)
}

func (s *Server) handleCreateAutorole(w http.ResponseWriter, r *http.Request) {
	var req createAutoroleRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.AssignAt == nil {
		s.writeError(w, r, shared.Validationf("http", "CreateAutorole", "assign_at is required"))
		return
	}
	rule, err := s.deps.Rules.CreateAutorole(r.Context(), shared.RoleID(req.RoleID), *req.AssignAt, req.RemoveAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, rule)
}

func (s *Server) handleModifyAutorole(w http.ResponseWriter, r *http.Request) {
	role, err := shared.ParseRoleID(r.PathValue("role"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var patch autorole.Patch
	if !s.decode(w, r, &patch) {
		return
	}
	if err := s.deps.Rules.ModifyAutorole(r.Context(), role, patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveAutorole(w http.ResponseWriter, r *http.Request) {
	role, err := shared.ParseRoleID(r.PathValue("role"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Rules.RemoveAutorole(r.Context(), role); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN: OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Engine.Flush(r.Context())
	s.respond(w, r, result, err)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		s.writeJSON(w, r, http.StatusOK, []scheduler.JobInfo{})
		return
	}
	s.writeJSON(w, r, http.StatusOK, s.deps.Jobs.ListJobs())
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// respond writes data on success or maps err.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, data any, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, data)
}

// decode reads a JSON body into dst. It writes a 400 and returns false on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		s.writeJSONError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body is too large")
		return false
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeJSONError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

// pageSize reads the optional size query parameter.
func pageSize(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("size")
	if raw == "" {
		return query.DefaultPageSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.Validationf("http", "PageSize", "size must be an integer, got %q", raw)
	}
	return query.ClampPageSize(n), nil
}

// snowflake is an id that arrives as a JSON string or number. Strings keep
// full precision for JavaScript clients.
type snowflake int64

func (s *snowflake) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		data = []byte(str)
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return errors.New("id must be a decimal integer")
	}
	*s = snowflake(v)
	return nil
}
