package team_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alecgard/taskmate/internal/store/memory"
	"github.com/alecgard/taskmate/internal/team"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// fakeClock hands out strictly increasing timestamps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

func newService(t *testing.T, opts team.Options) *team.Service {
	t.Helper()
	if opts.Now == nil {
		opts.Now = newClock().Now
	}
	return team.NewService(memory.New(), opts)
}

func TestCreateTeam_CreatorIsSoleAdmin(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, team.Options{})

	created, err := svc.CreateTeam(ctx, "u1", "  Engineering ", "Builds things")
	require.NoError(t, err)
	assert.Equal(t, "Engineering", created.Name)
	assert.Equal(t, "u1", created.CreatedBy)
	assert.Len(t, created.Key, team.DefaultKeyLength)

	members, err := svc.ListMembers(ctx, "u1", created.Key)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, team.RoleAdmin, members[0].Role)
	assert.Equal(t, "u1", members[0].UserID)
}

func TestCreateTeam_EmptyName(t *testing.T) {
	svc := newService(t, team.Options{})
	for _, name := range []string{"", "   ", "\t\n"} {
		_, err := svc.CreateTeam(context.Background(), "u1", name, "desc")
		assert.ErrorIs(t, err, team.ErrValidation, "name %q", name)
	}
}

func TestCreateTeam_TooLongName(t *testing.T) {
	svc := newService(t, team.Options{})
	_, err := svc.CreateTeam(context.Background(), "u1", strings.Repeat("x", 101), "")
	assert.ErrorIs(t, err, team.ErrValidation)
}

func TestCreateTeam_RetriesKeyCollision(t *testing.T) {
	keys := []string{"AAAAAAAA", "AAAAAAAA", "BBBBBBBB"}
	var mu sync.Mutex
	gen := func(int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		k := keys[0]
		keys = keys[1:]
		return k, nil
	}
	svc := newService(t, team.Options{GenerateKey: gen})
	ctx := context.Background()

	first, err := svc.CreateTeam(ctx, "u1", "One", "")
	require.NoError(t, err)
	second, err := svc.CreateTeam(ctx, "u1", "Two", "")
	require.NoError(t, err)

	assert.Equal(t, "AAAAAAAA", first.Key)
	assert.Equal(t, "BBBBBBBB", second.Key)
}

func TestCreateTeam_KeySpaceExhausted(t *testing.T) {
	gen := func(int) (string, error) { return "SAMEKEY1", nil }
	svc := newService(t, team.Options{GenerateKey: gen, KeyAttempts: 3})
	ctx := context.Background()

	_, err := svc.CreateTeam(ctx, "u1", "One", "")
	require.NoError(t, err)
	_, err = svc.CreateTeam(ctx, "u1", "Two", "")
	assert.ErrorIs(t, err, team.ErrUnavailable)
}

func TestCreateTeam_ConcurrentKeysAreUnique(t *testing.T) {
	svc := newService(t, team.Options{})
	ctx := context.Background()

	const n = 200
	keys := make([]string, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			tm, err := svc.CreateTeam(ctx, fmt.Sprintf("user-%d", i%7), fmt.Sprintf("Team %d", i), "")
			if err != nil {
				return err
			}
			keys[i] = tm.Key
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[string]bool, n)
	for _, k := range keys {
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
	assert.Len(t, seen, n)
}

func TestCreateTeam_PerOwnerNamePolicy(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, team.Options{NamePolicy: team.NamePolicyPerOwner})

	_, err := svc.CreateTeam(ctx, "u1", "Engineering", "")
	require.NoError(t, err)

	_, err = svc.CreateTeam(ctx, "u1", "  engineering ", "")
	assert.ErrorIs(t, err, team.ErrConflict)

	_, err = svc.CreateTeam(ctx, "u2", "Engineering", "")
	assert.NoError(t, err, "another owner may reuse the name")
}

func TestCreateTeam_NoNamePolicyAllowsDuplicates(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, team.Options{})

	_, err := svc.CreateTeam(ctx, "u1", "Engineering", "")
	require.NoError(t, err)
	_, err = svc.CreateTeam(ctx, "u1", "Engineering", "")
	assert.NoError(t, err)
}

func TestSearchTeam(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, team.Options{})
	created, err := svc.CreateTeam(ctx, "u1", "Engineering", "")
	require.NoError(t, err)

	found, err := svc.SearchTeam(ctx, " "+created.Key+" ")
	require.NoError(t, err)
	assert.Equal(t, created.Key, found.Key)

	_, err = svc.SearchTeam(ctx, strings.ToLower(created.Key))
	assert.ErrorIs(t, err, team.ErrNotFound, "search is case-sensitive")

	_, err = svc.SearchTeam(ctx, "")
	assert.ErrorIs(t, err, team.ErrValidation)
}

func strPtr(s string) *string { return &s }

func TestUpdateTeam(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, team.Options{})
	created, err := svc.CreateTeam(ctx, "u1", "Engineering", "Builds things")
	require.NoError(t, err)

	t.Run("partial update", func(t *testing.T) {
		updated, err := svc.UpdateTeam(ctx, "u1", created.Key, team.TeamPatch{Description: strPtr("Ships things")})
		require.NoError(t, err)
		assert.Equal(t, "Engineering", updated.Name)
		assert.Equal(t, "Ships things", updated.Description)
	})

	t.Run("identical values are a no-op", func(t *testing.T) {
		_, err := svc.UpdateTeam(ctx, "u1", created.Key, team.TeamPatch{
			Name:        strPtr("Engineering"),
			Description: strPtr("Ships things"),
		})
		assert.ErrorIs(t, err, team.ErrValidation)
		assert.Contains(t, err.Error(), "no changes")
	})

	t.Run("empty patch", func(t *testing.T) {
		_, err := svc.UpdateTeam(ctx, "u1", created.Key, team.TeamPatch{})
		assert.ErrorIs(t, err, team.ErrValidation)
	})

	t.Run("blank name", func(t *testing.T) {
		_, err := svc.UpdateTeam(ctx, "u1", created.Key, team.TeamPatch{Name: strPtr("  ")})
		assert.ErrorIs(t, err, team.ErrValidation)
	})

	t.Run("non admin", func(t *testing.T) {
		_, err := svc.UpdateTeam(ctx, "u2", created.Key, team.TeamPatch{Name: strPtr("Hijacked")})
		assert.ErrorIs(t, err, team.ErrForbidden)
	})

	t.Run("unknown team", func(t *testing.T) {
		_, err := svc.UpdateTeam(ctx, "u1", "NOPE1234", team.TeamPatch{Name: strPtr("X")})
		assert.ErrorIs(t, err, team.ErrNotFound)
	})

	t.Run("empty patch from non admin is forbidden", func(t *testing.T) {
		_, err := svc.UpdateTeam(ctx, "u2", created.Key, team.TeamPatch{})
		assert.ErrorIs(t, err, team.ErrForbidden)
	})

	t.Run("empty patch on unknown team is not found", func(t *testing.T) {
		_, err := svc.UpdateTeam(ctx, "u1", "NOPE1234", team.TeamPatch{})
		assert.ErrorIs(t, err, team.ErrNotFound)
	})
}

func TestDeleteTeam_Cascades(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, team.Options{})
	created, err := svc.CreateTeam(ctx, "u1", "Engineering", "")
	require.NoError(t, err)

	_, err = svc.RequestJoin(ctx, "u2", created.Key, "")
	require.NoError(t, err)
	_, err = svc.Accept(ctx, "u1", created.Key, "u2")
	require.NoError(t, err)
	_, err = svc.RequestJoin(ctx, "u3", created.Key, "please let me in")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteTeam(ctx, "u2", created.Key), team.ErrForbidden)
	require.NoError(t, svc.DeleteTeam(ctx, "u1", created.Key))

	_, err = svc.GetTeam(ctx, created.Key)
	assert.ErrorIs(t, err, team.ErrNotFound)

	for _, u := range []string{"u1", "u2"} {
		admin, member, err := svc.ListTeamsForUser(ctx, u)
		require.NoError(t, err)
		assert.Empty(t, admin)
		assert.Empty(t, member)
	}
	reqs, err := svc.ListRequestsForUser(ctx, "u3")
	require.NoError(t, err)
	assert.Empty(t, reqs)

	assert.ErrorIs(t, svc.DeleteTeam(ctx, "u1", created.Key), team.ErrNotFound)
}

func TestListTeamsForUser_Partition(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, team.Options{})

	own, err := svc.CreateTeam(ctx, "u1", "Mine", "")
	require.NoError(t, err)
	other, err := svc.CreateTeam(ctx, "u2", "Theirs", "")
	require.NoError(t, err)
	_, err = svc.RequestJoin(ctx, "u1", other.Key, "")
	require.NoError(t, err)
	_, err = svc.Accept(ctx, "u2", other.Key, "u1")
	require.NoError(t, err)

	admin, member, err := svc.ListTeamsForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, admin, 1)
	require.Len(t, member, 1)
	assert.Equal(t, own.Key, admin[0].Key)
	assert.Equal(t, other.Key, member[0].Key)

	adminKeys := map[string]bool{}
	for _, tm := range admin {
		adminKeys[tm.Key] = true
	}
	for _, tm := range member {
		assert.False(t, adminKeys[tm.Key], "team %s in both lists", tm.Key)
	}
}

func TestListMembers_Ordering(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, team.Options{})
	created, err := svc.CreateTeam(ctx, "owner", "Engineering", "")
	require.NoError(t, err)

	for _, u := range []string{"m1", "m2", "a2", "m3"} {
		_, err := svc.RequestJoin(ctx, u, created.Key, "")
		require.NoError(t, err)
		_, err = svc.Accept(ctx, "owner", created.Key, u)
		require.NoError(t, err)
	}
	_, err = svc.SetMemberRole(ctx, "owner", created.Key, "a2", team.RoleAdmin)
	require.NoError(t, err)

	members, err := svc.ListMembers(ctx, "m1", created.Key)
	require.NoError(t, err)

	var got []string
	for _, m := range members {
		got = append(got, m.UserID)
	}
	// a2 joined after owner, so it leads the admin group.
	assert.Equal(t, []string{"a2", "owner", "m3", "m2", "m1"}, got)

	_, err = svc.ListMembers(ctx, "stranger", created.Key)
	assert.ErrorIs(t, err, team.ErrForbidden)
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, team.Options{})
	created, err := svc.CreateTeam(ctx, "u1", "Engineering", "")
	require.NoError(t, err)
	_, err = svc.RequestJoin(ctx, "u2", created.Key, "")
	require.NoError(t, err)
	_, err = svc.Accept(ctx, "u1", created.Key, "u2")
	require.NoError(t, err)

	tests := []struct {
		user string
		role team.Role
		want bool
	}{
		{"u1", team.RoleAdmin, true},
		{"u1", team.RoleMember, true},
		{"u2", team.RoleAdmin, false},
		{"u2", team.RoleMember, true},
		{"u3", team.RoleMember, false},
	}
	for _, tt := range tests {
		ok, err := svc.Authorize(ctx, tt.user, created.Key, tt.role)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, "%s as %s", tt.user, tt.role)
	}
}

func TestSetMemberRole_LastAdmin(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, team.Options{})
	created, err := svc.CreateTeam(ctx, "u1", "Engineering", "")
	require.NoError(t, err)

	_, err = svc.SetMemberRole(ctx, "u1", created.Key, "u1", team.RoleMember)
	assert.ErrorIs(t, err, team.ErrInvariant)
	assert.ErrorIs(t, svc.RemoveLastAdminGuard(ctx, created.Key, "u1"), team.ErrLastAdmin)

	_, err = svc.RequestJoin(ctx, "u2", created.Key, "")
	require.NoError(t, err)
	_, err = svc.Accept(ctx, "u1", created.Key, "u2")
	require.NoError(t, err)
	_, err = svc.SetMemberRole(ctx, "u1", created.Key, "u2", team.RoleAdmin)
	require.NoError(t, err)

	assert.NoError(t, svc.RemoveLastAdminGuard(ctx, created.Key, "u1"))
	m, err := svc.SetMemberRole(ctx, "u2", created.Key, "u1", team.RoleMember)
	require.NoError(t, err)
	assert.Equal(t, team.RoleMember, m.Role)

	_, err = svc.SetMemberRole(ctx, "u2", created.Key, "u2", team.RoleMember)
	assert.ErrorIs(t, err, team.ErrInvariant)

	_, err = svc.SetMemberRole(ctx, "u2", created.Key, "u2", team.Role("owner"))
	assert.ErrorIs(t, err, team.ErrValidation)
}

func TestSetMemberRole_ConcurrentDemotionsKeepOneAdmin(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, team.Options{})
	created, err := svc.CreateTeam(ctx, "u1", "Engineering", "")
	require.NoError(t, err)
	_, err = svc.RequestJoin(ctx, "u2", created.Key, "")
	require.NoError(t, err)
	_, err = svc.Accept(ctx, "u1", created.Key, "u2")
	require.NoError(t, err)
	_, err = svc.SetMemberRole(ctx, "u1", created.Key, "u2", team.RoleAdmin)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, u := range []string{"u1", "u2"} {
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			_, errs[i] = svc.SetMemberRole(ctx, u, created.Key, u, team.RoleMember)
		}(i, u)
	}
	wg.Wait()

	members, err := svc.ListMembers(ctx, "u1", created.Key)
	require.NoError(t, err)
	admins := 0
	for _, m := range members {
		if m.Role == team.RoleAdmin {
			admins++
		}
	}
	assert.Equal(t, 1, admins)
}

func TestService_TimeoutIsUnavailable(t *testing.T) {
	svc := team.NewService(slowStore{Store: memory.New()}, team.Options{Timeout: 10 * time.Millisecond})
	_, err := svc.GetTeam(context.Background(), "ABCDEFGH")
	require.Error(t, err)
	assert.ErrorIs(t, err, team.ErrUnavailable)

	var te *team.Error
	require.True(t, errors.As(err, &te))
	assert.NotContains(t, te.Message, "deadline")
}

// slowStore blocks GetTeam until the context expires.
type slowStore struct {
	team.Store
}

func (s slowStore) GetTeam(ctx context.Context, _ string) (*team.Team, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type recordingObserver struct {
	mu    sync.Mutex
	ops   map[string]error
	calls map[string]int
}

func (r *recordingObserver) ObserveOp(op string, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.ops[op] = err
	r.calls[op]++
}

func TestService_ReportsToObserver(t *testing.T) {
	obs := &recordingObserver{ops: map[string]error{}}
	svc := newService(t, team.Options{Observer: obs})

	_, err := svc.CreateTeam(context.Background(), "u1", "Engineering", "")
	require.NoError(t, err)
	_, err = svc.GetTeam(context.Background(), "MISSING1")
	require.Error(t, err)

	assert.NoError(t, obs.ops["create_team"])
	assert.ErrorIs(t, obs.ops["get_team"], team.ErrNotFound)
}

func TestTeamWithMembers(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{ops: map[string]error{}}
	svc := newService(t, team.Options{Observer: obs})
	created, err := svc.CreateTeam(ctx, "u1", "Engineering", "Builds things")
	require.NoError(t, err)

	got, members, err := svc.TeamWithMembers(ctx, "u1", created.Key)
	require.NoError(t, err)
	assert.Equal(t, created.Key, got.Key)
	assert.Equal(t, "Builds things", got.Description)
	require.Len(t, members, 1)
	assert.Equal(t, team.RoleAdmin, members[0].Role)
	assert.Equal(t, 1, obs.calls["list_members"])
	assert.Zero(t, obs.calls["get_team"], "the team comes from the membership check")

	_, _, err = svc.TeamWithMembers(ctx, "stranger", created.Key)
	assert.ErrorIs(t, err, team.ErrForbidden)

	_, _, err = svc.TeamWithMembers(ctx, "u1", "NOPE1234")
	assert.ErrorIs(t, err, team.ErrNotFound)
}
