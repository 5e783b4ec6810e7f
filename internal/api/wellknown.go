package api

import "net/http"

// wellKnownManifest is the static JSON manifest for /.well-known/taskmate.json.
const wellKnownManifest = `{
  "name": "Taskmate",
  "description": "Team and membership service: teams, roles and join requests",
  "version": "0.1.0",
  "api_base": "/api/v1",
  "auth": {
    "type": "bearer",
    "header": "Authorization",
    "format": "JWT"
  },
  "endpoints": {
    "teams": "/api/v1/teams",
    "team": "/api/v1/teams/{teamKey}",
    "members": "/api/v1/teams/{teamKey}/members",
    "join_requests": "/api/v1/teams/{teamKey}/join-requests",
    "my_teams": "/api/v1/me/teams",
    "my_join_requests": "/api/v1/me/join-requests"
  },
  "health": "/health"
}`

// WellKnownHandler returns the static Taskmate well-known manifest.
func WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(wellKnownManifest))
}
