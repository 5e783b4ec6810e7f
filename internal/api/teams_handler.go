package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alecgard/taskmate/internal/auth"
	"github.com/alecgard/taskmate/internal/team"
)

// teamsHandler groups team and membership HTTP handlers.
type teamsHandler struct {
	svc *team.Service
}

func newTeamsHandler(svc *team.Service) *teamsHandler {
	return &teamsHandler{svc: svc}
}

type createTeamRequest struct {
	TeamName        string `json:"teamName" validate:"required"`
	TeamDescription string `json:"teamDescription"`
}

type updateTeamRequest struct {
	TeamName        *string `json:"teamName"`
	TeamDescription *string `json:"teamDescription"`
}

type setRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin member"`
}

type myTeamsResponse struct {
	Admin  []team.Team `json:"admin"`
	Member []team.Team `json:"member"`
}

type teamMembersResponse struct {
	Team *team.Team        `json:"team"`
	Data []team.Membership `json:"data"`
}

// CreateTeam handles POST /api/v1/teams.
func (h *teamsHandler) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req createTeamRequest
	if !decodeBody(w, r, &req) {
		return
	}

	t, err := h.svc.CreateTeam(r.Context(), auth.UserIDFromContext(r.Context()), req.TeamName, req.TeamDescription)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	auditLog(r, "create_team", t.Key, "team_name", t.Name)
	writeJSON(w, http.StatusCreated, t)
}

// SearchTeam handles GET /api/v1/teams/{teamKey}. Any signed-in user may look
// a team up by key so they can request to join it.
func (h *teamsHandler) SearchTeam(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.SearchTeam(r.Context(), chi.URLParam(r, "teamKey"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// UpdateTeam handles PATCH /api/v1/teams/{teamKey}.
func (h *teamsHandler) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	var req updateTeamRequest
	if !decodeBody(w, r, &req) {
		return
	}

	key := chi.URLParam(r, "teamKey")
	t, err := h.svc.UpdateTeam(r.Context(), auth.UserIDFromContext(r.Context()), key, team.TeamPatch{
		Name:        req.TeamName,
		Description: req.TeamDescription,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	auditLog(r, "update_team", key)
	writeJSON(w, http.StatusOK, t)
}

// DeleteTeam handles DELETE /api/v1/teams/{teamKey}.
func (h *teamsHandler) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "teamKey")
	if err := h.svc.DeleteTeam(r.Context(), auth.UserIDFromContext(r.Context()), key); err != nil {
		writeServiceError(w, r, err)
		return
	}

	auditLog(r, "delete_team", key)
	w.WriteHeader(http.StatusNoContent)
}

// MyTeams handles GET /api/v1/me/teams.
func (h *teamsHandler) MyTeams(w http.ResponseWriter, r *http.Request) {
	admin, member, err := h.svc.ListTeamsForUser(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, myTeamsResponse{Admin: admin, Member: member})
}

// MyAdminTeams handles GET /api/v1/me/teams/admin.
func (h *teamsHandler) MyAdminTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.svc.ListAdminTeams(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeList(w, teams)
}

// MyMemberTeams handles GET /api/v1/me/teams/member.
func (h *teamsHandler) MyMemberTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.svc.ListMemberTeams(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeList(w, teams)
}

// ListMembers handles GET /api/v1/teams/{teamKey}/members. The response
// carries the team details alongside the ordered member list.
func (h *teamsHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := chi.URLParam(r, "teamKey")

	t, members, err := h.svc.TeamWithMembers(ctx, auth.UserIDFromContext(ctx), key)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, teamMembersResponse{Team: t, Data: members})
}

// SetMemberRole handles PUT /api/v1/teams/{teamKey}/members/{userID}/role.
func (h *teamsHandler) SetMemberRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	key := chi.URLParam(r, "teamKey")
	target := chi.URLParam(r, "userID")
	m, err := h.svc.SetMemberRole(r.Context(), auth.UserIDFromContext(r.Context()), key, target, team.Role(req.Role))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	auditLog(r, "set_member_role", key, "target_user_id", target, "role", req.Role)
	writeJSON(w, http.StatusOK, m)
}
