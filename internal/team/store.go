package team

import "context"

// NamePolicy controls whether team names must be unique per owner.
type NamePolicy string

const (
	NamePolicyNone     NamePolicy = "none"
	NamePolicyPerOwner NamePolicy = "per_owner"
)

// Store is the durable home of teams, memberships and join requests. Every
// method is one atomic unit: implementations must either apply all of a
// method's writes or none of them.
//
// Implementations return the shared errors declared in this package
// (ErrTeamNotFound, ErrKeyTaken, ...) for the conditions documented below and
// wrap anything else.
type Store interface {
	// CreateTeam inserts t and an admin membership for t.CreatedBy.
	// ErrKeyTaken when t.Key exists. With NamePolicyPerOwner, ErrNameTaken
	// when the owner already created a team with the same normalized name.
	CreateTeam(ctx context.Context, t *Team, policy NamePolicy) error

	// GetTeam returns ErrTeamNotFound when the key is absent.
	GetTeam(ctx context.Context, key string) (*Team, error)

	// UpdateTeam locks the team, applies the patch with ApplyPatch and
	// persists the result.
	UpdateTeam(ctx context.Context, key string, patch TeamPatch, policy NamePolicy) (*Team, error)

	// DeleteTeam removes the team with its memberships and join requests.
	DeleteTeam(ctx context.Context, key string) error

	// ListTeamsForUser returns every team the user belongs to with their role.
	ListTeamsForUser(ctx context.Context, userID string) ([]MemberTeam, error)

	// GetMembership returns ErrMemberNotFound when the user is not in the team.
	GetMembership(ctx context.Context, key, userID string) (*Membership, error)

	ListMembers(ctx context.Context, key string) ([]Membership, error)

	// CountAdmins returns the number of admin memberships of the team.
	CountAdmins(ctx context.Context, key string) (int, error)

	// SetMemberRole changes a member's role. Demoting the only admin returns
	// ErrLastAdmin; the admin count is checked under the same lock as the write.
	SetMemberRole(ctx context.Context, key, userID string, role Role) (*Membership, error)

	// CreateJoinRequest inserts a pending request. ErrAlreadyMember when the
	// pair already has a membership, ErrDuplicatePending when a pending
	// request exists.
	CreateJoinRequest(ctx context.Context, r *JoinRequest) error

	// ListPendingRequests returns pending requests for a team, oldest first.
	ListPendingRequests(ctx context.Context, key string) ([]JoinRequest, error)

	// ListRequestsForUser returns all of a user's requests, newest first.
	ListRequestsForUser(ctx context.Context, userID string) ([]JoinRequest, error)

	// ResolveJoinRequest moves the pair's pending request to res.To only if it
	// is still pending (ErrRequestNotFound otherwise). When res.To is
	// StatusAccepted a member membership is inserted in the same unit and
	// returned; ErrAlreadyMember rolls the transition back.
	ResolveJoinRequest(ctx context.Context, res Resolution) (*JoinRequest, *Membership, error)
}
