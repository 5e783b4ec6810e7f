package team

import (
	"strings"
	"time"
)

// Role is a user's role within a team. Roles are mutually exclusive.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// RequestStatus is the lifecycle state of a join request.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusAccepted RequestStatus = "accepted"
	StatusDeclined RequestStatus = "declined"
)

// Terminal reports whether no further transitions are allowed from s.
func (s RequestStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusDeclined
}

// Team is a named group identified by a generated, shareable key.
type Team struct {
	Key         string    `json:"teamKey"`
	Name        string    `json:"teamName"`
	Description string    `json:"teamDescription"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedBy   string    `json:"createdBy"`
}

// Membership records a user's role in a team.
type Membership struct {
	TeamKey  string    `json:"teamKey"`
	UserID   string    `json:"userId"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// MemberTeam pairs a team with the role a particular user holds in it.
type MemberTeam struct {
	Team Team
	Role Role
}

// JoinRequest is a user's pending or resolved request to join a team.
type JoinRequest struct {
	ID          string        `json:"id"`
	TeamKey     string        `json:"teamKey"`
	UserID      string        `json:"userId"`
	Message     string        `json:"message,omitempty"`
	Status      RequestStatus `json:"status"`
	RequestedAt time.Time     `json:"requestedAt"`
	ResolvedAt  *time.Time    `json:"resolvedAt,omitempty"`
	ResolvedBy  string        `json:"resolvedBy,omitempty"`
}

// TeamPatch holds optional fields for a partial team update. A nil field is
// left unchanged.
type TeamPatch struct {
	Name        *string `json:"teamName,omitempty"`
	Description *string `json:"teamDescription,omitempty"`
}

// Resolution describes a join request transition out of pending.
type Resolution struct {
	TeamKey     string
	RequesterID string
	AdminID     string
	To          RequestStatus
	At          time.Time
}

// NormalizeName returns the form of a team name used for name collision checks.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ApplyPatch applies p to t in place, dropping fields whose value would not
// change. It returns an ErrValidation error when the patch carries no real
// change or sets an empty name. Stores call it while holding the team row.
func ApplyPatch(t *Team, p TeamPatch) error {
	changed := false
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" {
			return validationf("team name must not be empty")
		}
		if err := checkLength("team name", name, maxNameLength); err != nil {
			return err
		}
		if name != t.Name {
			t.Name = name
			changed = true
		}
	}
	if p.Description != nil {
		desc := strings.TrimSpace(*p.Description)
		if err := checkLength("team description", desc, maxDescriptionLength); err != nil {
			return err
		}
		if desc != t.Description {
			t.Description = desc
			changed = true
		}
	}
	if !changed {
		return validationf("no changes detected")
	}
	return nil
}
