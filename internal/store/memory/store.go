// Package memory is an in-process team.Store. A single mutex guards each
// atomic unit, which gives it the same invariants as the PostgreSQL store
// without durability. It backs the "memory" store driver and unit tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alecgard/taskmate/internal/team"
)

type pairKey struct {
	team string
	user string
}

// Store is a mutex-guarded, map-backed team.Store.
type Store struct {
	mu       sync.Mutex
	teams    map[string]team.Team
	members  map[pairKey]team.Membership
	requests []*team.JoinRequest
}

var _ team.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		teams:   make(map[string]team.Team),
		members: make(map[pairKey]team.Membership),
	}
}

func (s *Store) ownerHasName(owner, name, exceptKey string) bool {
	norm := team.NormalizeName(name)
	for k, t := range s.teams {
		if k != exceptKey && t.CreatedBy == owner && team.NormalizeName(t.Name) == norm {
			return true
		}
	}
	return false
}

// CreateTeam inserts the team and its owner's admin membership.
func (s *Store) CreateTeam(ctx context.Context, t *team.Team, policy team.NamePolicy) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.teams[t.Key]; ok {
		return team.ErrKeyTaken
	}
	if policy == team.NamePolicyPerOwner && s.ownerHasName(t.CreatedBy, t.Name, "") {
		return team.ErrNameTaken
	}
	s.teams[t.Key] = *t
	s.members[pairKey{t.Key, t.CreatedBy}] = team.Membership{
		TeamKey:  t.Key,
		UserID:   t.CreatedBy,
		Role:     team.RoleAdmin,
		JoinedAt: t.CreatedAt,
	}
	return nil
}

// GetTeam returns a copy of the team.
func (s *Store) GetTeam(ctx context.Context, key string) (*team.Team, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[key]
	if !ok {
		return nil, team.ErrTeamNotFound
	}
	return &t, nil
}

// UpdateTeam applies the patch to a copy and stores it only if it succeeds.
func (s *Store) UpdateTeam(ctx context.Context, key string, patch team.TeamPatch, policy team.NamePolicy) (*team.Team, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[key]
	if !ok {
		return nil, team.ErrTeamNotFound
	}
	oldName := t.Name
	if err := team.ApplyPatch(&t, patch); err != nil {
		return nil, err
	}
	if policy == team.NamePolicyPerOwner && team.NormalizeName(t.Name) != team.NormalizeName(oldName) &&
		s.ownerHasName(t.CreatedBy, t.Name, key) {
		return nil, team.ErrNameTaken
	}
	s.teams[key] = t
	return &t, nil
}

// DeleteTeam removes the team and cascades to memberships and requests.
func (s *Store) DeleteTeam(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.teams[key]; !ok {
		return team.ErrTeamNotFound
	}
	delete(s.teams, key)
	for pk := range s.members {
		if pk.team == key {
			delete(s.members, pk)
		}
	}
	kept := s.requests[:0]
	for _, r := range s.requests {
		if r.TeamKey != key {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(s.requests); i++ {
		s.requests[i] = nil
	}
	s.requests = kept
	return nil
}

// ListTeamsForUser returns the user's teams with their role.
func (s *Store) ListTeamsForUser(ctx context.Context, userID string) ([]team.MemberTeam, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []team.MemberTeam
	for pk, m := range s.members {
		if pk.user != userID {
			continue
		}
		out = append(out, team.MemberTeam{Team: s.teams[pk.team], Role: m.Role})
	}
	return out, nil
}

// GetMembership returns the membership of userID in the team.
func (s *Store) GetMembership(ctx context.Context, key, userID string) (*team.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[pairKey{key, userID}]
	if !ok {
		return nil, team.ErrMemberNotFound
	}
	return &m, nil
}

// ListMembers returns the team's memberships in display order.
func (s *Store) ListMembers(ctx context.Context, key string) ([]team.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []team.Membership{}
	for pk, m := range s.members {
		if pk.team == key {
			out = append(out, m)
		}
	}
	team.SortMembers(out)
	return out, nil
}

// CountAdmins returns the number of admins in the team.
func (s *Store) CountAdmins(ctx context.Context, key string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countAdmins(key), nil
}

func (s *Store) countAdmins(key string) int {
	n := 0
	for pk, m := range s.members {
		if pk.team == key && m.Role == team.RoleAdmin {
			n++
		}
	}
	return n
}

// SetMemberRole changes a member's role, refusing to demote the last admin.
func (s *Store) SetMemberRole(ctx context.Context, key, userID string, role team.Role) (*team.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pk := pairKey{key, userID}
	m, ok := s.members[pk]
	if !ok {
		return nil, team.ErrMemberNotFound
	}
	if m.Role == team.RoleAdmin && role != team.RoleAdmin && s.countAdmins(key) <= 1 {
		return nil, team.ErrLastAdmin
	}
	m.Role = role
	s.members[pk] = m
	return &m, nil
}

// CreateJoinRequest stores a pending request for the pair.
func (s *Store) CreateJoinRequest(ctx context.Context, r *team.JoinRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.teams[r.TeamKey]; !ok {
		return team.ErrTeamNotFound
	}
	if _, ok := s.members[pairKey{r.TeamKey, r.UserID}]; ok {
		return team.ErrAlreadyMember
	}
	if s.pending(r.TeamKey, r.UserID) != nil {
		return team.ErrDuplicatePending
	}
	cp := *r
	s.requests = append(s.requests, &cp)
	return nil
}

func (s *Store) pending(key, userID string) *team.JoinRequest {
	for _, r := range s.requests {
		if r.TeamKey == key && r.UserID == userID && r.Status == team.StatusPending {
			return r
		}
	}
	return nil
}

// ListPendingRequests returns the team's pending requests, oldest first.
func (s *Store) ListPendingRequests(ctx context.Context, key string) ([]team.JoinRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []team.JoinRequest{}
	for _, r := range s.requests {
		if r.TeamKey == key && r.Status == team.StatusPending {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

// ListRequestsForUser returns every request made by the user, newest first.
func (s *Store) ListRequestsForUser(ctx context.Context, userID string) ([]team.JoinRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []team.JoinRequest{}
	for _, r := range s.requests {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	return out, nil
}

// ResolveJoinRequest transitions the pair's pending request. Nothing is
// written unless every step succeeds.
func (s *Store) ResolveJoinRequest(ctx context.Context, res team.Resolution) (*team.JoinRequest, *team.Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if !res.To.Terminal() {
		return nil, nil, fmt.Errorf("resolving join request: invalid target status %q", res.To)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.pending(res.TeamKey, res.RequesterID)
	if r == nil {
		return nil, nil, team.ErrRequestNotFound
	}

	var m *team.Membership
	pk := pairKey{res.TeamKey, res.RequesterID}
	if res.To == team.StatusAccepted {
		if _, ok := s.members[pk]; ok {
			return nil, nil, team.ErrAlreadyMember
		}
		m = &team.Membership{
			TeamKey:  res.TeamKey,
			UserID:   res.RequesterID,
			Role:     team.RoleMember,
			JoinedAt: res.At,
		}
		s.members[pk] = *m
	}

	at := res.At
	r.Status = res.To
	r.ResolvedAt = &at
	r.ResolvedBy = res.AdminID
	out := *r
	return &out, m, nil
}
