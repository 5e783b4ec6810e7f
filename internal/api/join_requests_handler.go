package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alecgard/taskmate/internal/auth"
	"github.com/alecgard/taskmate/internal/team"
)

type joinRequestsHandler struct {
	svc *team.Service
}

func newJoinRequestsHandler(svc *team.Service) *joinRequestsHandler {
	return &joinRequestsHandler{svc: svc}
}

type requestJoinRequest struct {
	Message string `json:"message"`
}

// RequestJoin handles POST /api/v1/teams/{teamKey}/join-requests. An empty
// body is accepted and means no message.
func (h *joinRequestsHandler) RequestJoin(w http.ResponseWriter, r *http.Request) {
	var req requestJoinRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	key := chi.URLParam(r, "teamKey")
	jr, err := h.svc.RequestJoin(r.Context(), auth.UserIDFromContext(r.Context()), key, req.Message)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	auditLog(r, "request_join", key, "join_request_id", jr.ID)
	writeJSON(w, http.StatusCreated, jr)
}

// ListPending handles GET /api/v1/teams/{teamKey}/join-requests.
func (h *joinRequestsHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.svc.ListPending(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "teamKey"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeList(w, reqs)
}

// MyRequests handles GET /api/v1/me/join-requests.
func (h *joinRequestsHandler) MyRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.svc.ListRequestsForUser(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeList(w, reqs)
}

// Accept handles POST /api/v1/teams/{teamKey}/join-requests/{userID}/accept.
func (h *joinRequestsHandler) Accept(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "teamKey")
	requester := chi.URLParam(r, "userID")

	m, err := h.svc.Accept(r.Context(), auth.UserIDFromContext(r.Context()), key, requester)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	auditLog(r, "accept_join", key, "requester_id", requester)
	writeJSON(w, http.StatusOK, m)
}

// Decline handles POST /api/v1/teams/{teamKey}/join-requests/{userID}/decline.
func (h *joinRequestsHandler) Decline(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "teamKey")
	requester := chi.URLParam(r, "userID")

	if err := h.svc.Decline(r.Context(), auth.UserIDFromContext(r.Context()), key, requester); err != nil {
		writeServiceError(w, r, err)
		return
	}

	auditLog(r, "decline_join", key, "requester_id", requester)
	w.WriteHeader(http.StatusNoContent)
}
