package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

const (
	defaultKeyAttempts = 5
	defaultTimeout     = 5 * time.Second
)

// Observer receives the outcome of every engine operation. The metrics
// package implements it; a nil Observer is ignored.
type Observer interface {
	ObserveOp(op string, err error, elapsed time.Duration)
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	KeyLength   int
	KeyAttempts int
	NamePolicy  NamePolicy
	// Timeout bounds each store call. Exceeding it yields ErrUnavailable.
	Timeout  time.Duration
	Observer Observer

	// Injectable for tests.
	Now         func() time.Time
	GenerateKey func(length int) (string, error)
}

// Service implements the membership engine and the join-request workflow on
// top of a Store. It holds no mutable state of its own; every authorization
// decision is re-derived from the store.
type Service struct {
	store Store
	opts  Options
}

// NewService creates a Service backed by store.
func NewService(store Store, opts Options) *Service {
	if opts.KeyLength == 0 {
		opts.KeyLength = DefaultKeyLength
	}
	if opts.KeyAttempts <= 0 {
		opts.KeyAttempts = defaultKeyAttempts
	}
	if opts.NamePolicy == "" {
		opts.NamePolicy = NamePolicyNone
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.GenerateKey == nil {
		opts.GenerateKey = GenerateKey
	}
	return &Service{store: store, opts: opts}
}

// run executes fn under the store timeout and reports the outcome.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	err := fn(tctx)
	cancel()

	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !errors.Is(err, ErrUnavailable) {
		err = Unavailable(op, err)
	}
	if errors.Is(err, ErrUnavailable) {
		slog.Warn("team store unavailable", "op", op, "error", err)
	}
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveOp(op, err, time.Since(start))
	}
	return err
}

// CreateTeam creates a team owned by ownerID, who becomes its only admin.
func (s *Service) CreateTeam(ctx context.Context, ownerID, name, description string) (*Team, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if name == "" {
		return nil, validationf("team name is required")
	}
	if err := checkLength("team name", name, maxNameLength); err != nil {
		return nil, err
	}
	if err := checkLength("team description", description, maxDescriptionLength); err != nil {
		return nil, err
	}

	var created *Team
	err := s.run(ctx, "create_team", func(ctx context.Context) error {
		for attempt := 1; attempt <= s.opts.KeyAttempts; attempt++ {
			key, err := s.opts.GenerateKey(s.opts.KeyLength)
			if err != nil {
				return err
			}
			t := &Team{
				Key:         key,
				Name:        name,
				Description: description,
				CreatedAt:   s.opts.Now().UTC(),
				CreatedBy:   ownerID,
			}
			err = s.store.CreateTeam(ctx, t, s.opts.NamePolicy)
			if errors.Is(err, ErrKeyTaken) {
				slog.Debug("team key collision, regenerating", "attempt", attempt)
				continue
			}
			if err != nil {
				return err
			}
			created = t
			return nil
		}
		return Unavailable("create_team", fmt.Errorf("no free team key after %d attempts", s.opts.KeyAttempts))
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetTeam returns the team with the given key.
func (s *Service) GetTeam(ctx context.Context, key string) (*Team, error) {
	var t *Team
	err := s.run(ctx, "get_team", func(ctx context.Context) error {
		var err error
		t, err = s.store.GetTeam(ctx, key)
		return err
	})
	return t, err
}

// SearchTeam looks a team up by its exact key. Keys are generated tokens, so
// the match is case-sensitive; only surrounding whitespace is ignored.
func (s *Service) SearchTeam(ctx context.Context, key string) (*Team, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, validationf("team key is required")
	}
	return s.GetTeam(ctx, key)
}

// UpdateTeam applies a partial update. Only admins of the team may update it.
// A patch that changes nothing, including an empty one, is a validation error
// reported only after the team and the caller's role have been checked.
func (s *Service) UpdateTeam(ctx context.Context, callerID, key string, patch TeamPatch) (*Team, error) {
	var t *Team
	err := s.run(ctx, "update_team", func(ctx context.Context) error {
		if err := s.requireRole(ctx, callerID, key, RoleAdmin); err != nil {
			return err
		}
		var err error
		t, err = s.store.UpdateTeam(ctx, key, patch, s.opts.NamePolicy)
		return err
	})
	return t, err
}

// DeleteTeam removes a team together with its memberships and join requests.
func (s *Service) DeleteTeam(ctx context.Context, callerID, key string) error {
	return s.run(ctx, "delete_team", func(ctx context.Context) error {
		if err := s.requireRole(ctx, callerID, key, RoleAdmin); err != nil {
			return err
		}
		return s.store.DeleteTeam(ctx, key)
	})
}

// ListTeamsForUser partitions the user's teams by role. A team appears in
// exactly one of the two lists. Both lists are ordered newest team first.
func (s *Service) ListTeamsForUser(ctx context.Context, userID string) (admin, member []Team, err error) {
	var rows []MemberTeam
	err = s.run(ctx, "list_user_teams", func(ctx context.Context) error {
		var err error
		rows, err = s.store.ListTeamsForUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Team, rows[j].Team
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.Key < b.Key
	})

	admin, member = []Team{}, []Team{}
	for _, r := range rows {
		switch r.Role {
		case RoleAdmin:
			admin = append(admin, r.Team)
		case RoleMember:
			member = append(member, r.Team)
		}
	}
	return admin, member, nil
}

// ListAdminTeams returns the teams where the user is an admin.
func (s *Service) ListAdminTeams(ctx context.Context, userID string) ([]Team, error) {
	admin, _, err := s.ListTeamsForUser(ctx, userID)
	return admin, err
}

// ListMemberTeams returns the teams where the user is a plain member.
func (s *Service) ListMemberTeams(ctx context.Context, userID string) ([]Team, error) {
	_, member, err := s.ListTeamsForUser(ctx, userID)
	return member, err
}

// ListMembers returns the team's members in display order: admins first, then
// members, each group most recently joined first. Only members of the team
// may list it.
func (s *Service) ListMembers(ctx context.Context, callerID, key string) ([]Membership, error) {
	_, members, err := s.TeamWithMembers(ctx, callerID, key)
	return members, err
}

// TeamWithMembers is ListMembers that also returns the team it read while
// checking the caller's membership, so both come from one call.
func (s *Service) TeamWithMembers(ctx context.Context, callerID, key string) (*Team, []Membership, error) {
	var (
		t       *Team
		members []Membership
	)
	err := s.run(ctx, "list_members", func(ctx context.Context) error {
		var err error
		if t, err = s.teamForRole(ctx, callerID, key, RoleMember); err != nil {
			return err
		}
		members, err = s.store.ListMembers(ctx, key)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	SortMembers(members)
	return t, members, nil
}

// SortMembers orders memberships admins first, then by JoinedAt descending,
// then by user id.
func SortMembers(members []Membership) {
	sort.SliceStable(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if a.Role != b.Role {
			return a.Role == RoleAdmin
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.After(b.JoinedAt)
		}
		return a.UserID < b.UserID
	})
}

// Authorize reports whether userID holds at least the required role in the
// team. RoleMember is satisfied by either role.
func (s *Service) Authorize(ctx context.Context, userID, key string, required Role) (bool, error) {
	var ok bool
	err := s.run(ctx, "authorize", func(ctx context.Context) error {
		var err error
		ok, err = s.authorize(ctx, userID, key, required)
		return err
	})
	return ok, err
}

func (s *Service) authorize(ctx context.Context, userID, key string, required Role) (bool, error) {
	m, err := s.store.GetMembership(ctx, key, userID)
	if errors.Is(err, ErrMemberNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if required == RoleAdmin {
		return m.Role == RoleAdmin, nil
	}
	return true, nil
}

// requireRole fails with ErrTeamNotFound for unknown teams and with
// ErrNotAdmin / ErrNotMember when the caller lacks the role.
func (s *Service) requireRole(ctx context.Context, userID, key string, required Role) error {
	_, err := s.teamForRole(ctx, userID, key, required)
	return err
}

func (s *Service) teamForRole(ctx context.Context, userID, key string, required Role) (*Team, error) {
	t, err := s.store.GetTeam(ctx, key)
	if err != nil {
		return nil, err
	}
	ok, err := s.authorize(ctx, userID, key, required)
	if err != nil {
		return nil, err
	}
	if ok {
		return t, nil
	}
	if required == RoleAdmin {
		return nil, ErrNotAdmin
	}
	return nil, ErrNotMember
}

// RemoveLastAdminGuard fails with ErrLastAdmin when userID is the team's only
// admin. Call it before any operation that strips admin status.
func (s *Service) RemoveLastAdminGuard(ctx context.Context, key, userID string) error {
	return s.run(ctx, "last_admin_guard", func(ctx context.Context) error {
		return s.lastAdminGuard(ctx, key, userID)
	})
}

func (s *Service) lastAdminGuard(ctx context.Context, key, userID string) error {
	m, err := s.store.GetMembership(ctx, key, userID)
	if err != nil {
		return err
	}
	if m.Role != RoleAdmin {
		return nil
	}
	n, err := s.store.CountAdmins(ctx, key)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastAdmin
	}
	return nil
}

// SetMemberRole promotes or demotes a member. Only admins may change roles and
// the last admin can never be demoted.
func (s *Service) SetMemberRole(ctx context.Context, callerID, key, userID string, role Role) (*Membership, error) {
	if !role.Valid() {
		return nil, validationf("role must be %q or %q", RoleAdmin, RoleMember)
	}
	var m *Membership
	err := s.run(ctx, "set_member_role", func(ctx context.Context) error {
		if err := s.requireRole(ctx, callerID, key, RoleAdmin); err != nil {
			return err
		}
		if role == RoleMember {
			if err := s.lastAdminGuard(ctx, key, userID); err != nil {
				return err
			}
		}
		var err error
		m, err = s.store.SetMemberRole(ctx, key, userID, role)
		return err
	})
	return m, err
}
