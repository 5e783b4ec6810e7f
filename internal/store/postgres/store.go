// Package postgres implements team.Store on PostgreSQL using pgx.
//
// Uniqueness is enforced by constraints rather than read-then-write checks:
// the teams primary key for keys, the memberships primary key for pairs and a
// partial unique index for pending join requests. Per-pair and per-owner
// serialization uses transaction-scoped advisory locks.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alecgard/taskmate/internal/metrics"
	"github.com/alecgard/taskmate/internal/team"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const teamColumns = `team_key, team_name, team_description, created_by, created_at`

const requestColumns = `id, team_key, user_id, message, status, requested_at, resolved_at, resolved_by`

// Store provides database operations for teams, memberships and join requests.
type Store struct {
	pool *pgxpool.Pool
}

var _ team.Store = (*Store)(nil)

// NewStore creates a new team store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// PoolStats snapshots the connection pool for the metrics collector.
func (s *Store) PoolStats() metrics.PoolStats {
	st := s.pool.Stat()
	return metrics.PoolStats{
		TotalConns:       st.TotalConns(),
		IdleConns:        st.IdleConns(),
		AcquiredConns:    st.AcquiredConns(),
		MaxConns:         st.MaxConns(),
		Acquires:         st.AcquireCount(),
		EmptyAcquires:    st.EmptyAcquireCount(),
		CanceledAcquires: st.CanceledAcquireCount(),
		AcquireDuration:  st.AcquireDuration(),
	}
}

func scanTeam(row pgx.Row) (*team.Team, error) {
	t := &team.Team{}
	if err := row.Scan(&t.Key, &t.Name, &t.Description, &t.CreatedBy, &t.CreatedAt); err != nil {
		return nil, err
	}
	return t, nil
}

func scanRequest(row pgx.Row) (*team.JoinRequest, error) {
	r := &team.JoinRequest{}
	var status string
	if err := row.Scan(&r.ID, &r.TeamKey, &r.UserID, &r.Message, &status, &r.RequestedAt, &r.ResolvedAt, &r.ResolvedBy); err != nil {
		return nil, err
	}
	r.Status = team.RequestStatus(status)
	return r, nil
}

// lockOwnerNames serializes name-policy checks for one owner.
func lockOwnerNames(ctx context.Context, tx pgx.Tx, owner string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('team-owner:' || $1))`, owner)
	return err
}

// lockPair serializes join-request writes for one (team, user) pair.
func lockPair(ctx context.Context, tx pgx.Tx, key, userID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('join:' || $1 || ':' || $2))`, key, userID)
	return err
}

func ownerHasName(ctx context.Context, tx pgx.Tx, owner, name, exceptKey string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM teams WHERE created_by = $1 AND name_key = $2 AND team_key <> $3
		 )`,
		owner, team.NormalizeName(name), exceptKey,
	).Scan(&exists)
	return exists, err
}

// CreateTeam inserts the team row and the creator's admin membership in one
// transaction.
func (s *Store) CreateTeam(ctx context.Context, t *team.Team, policy team.NamePolicy) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if policy == team.NamePolicyPerOwner {
			if err := lockOwnerNames(ctx, tx, t.CreatedBy); err != nil {
				return err
			}
			taken, err := ownerHasName(ctx, tx, t.CreatedBy, t.Name, "")
			if err != nil {
				return err
			}
			if taken {
				return team.ErrNameTaken
			}
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO teams (team_key, team_name, team_description, name_key, created_by, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (team_key) DO NOTHING`,
			t.Key, t.Name, t.Description, team.NormalizeName(t.Name), t.CreatedBy, t.CreatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return team.ErrKeyTaken
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO memberships (team_key, user_id, role, joined_at) VALUES ($1, $2, $3, $4)`,
			t.Key, t.CreatedBy, string(team.RoleAdmin), t.CreatedAt,
		)
		return err
	})
	return classify("creating team", err)
}

// GetTeam retrieves a team by key.
func (s *Store) GetTeam(ctx context.Context, key string) (*team.Team, error) {
	t, err := scanTeam(s.pool.QueryRow(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE team_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, team.ErrTeamNotFound
	}
	if err != nil {
		return nil, classify("getting team", err)
	}
	return t, nil
}

// UpdateTeam locks the team row, applies the patch and writes it back.
func (s *Store) UpdateTeam(ctx context.Context, key string, patch team.TeamPatch, policy team.NamePolicy) (*team.Team, error) {
	var updated *team.Team
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		t, err := scanTeam(tx.QueryRow(ctx,
			`SELECT `+teamColumns+` FROM teams WHERE team_key = $1 FOR UPDATE`, key))
		if errors.Is(err, pgx.ErrNoRows) {
			return team.ErrTeamNotFound
		}
		if err != nil {
			return err
		}

		oldName := t.Name
		if err := team.ApplyPatch(t, patch); err != nil {
			return err
		}
		if policy == team.NamePolicyPerOwner && team.NormalizeName(t.Name) != team.NormalizeName(oldName) {
			if err := lockOwnerNames(ctx, tx, t.CreatedBy); err != nil {
				return err
			}
			taken, err := ownerHasName(ctx, tx, t.CreatedBy, t.Name, key)
			if err != nil {
				return err
			}
			if taken {
				return team.ErrNameTaken
			}
		}

		updated, err = scanTeam(tx.QueryRow(ctx,
			`UPDATE teams SET team_name = $1, team_description = $2, name_key = $3
			 WHERE team_key = $4
			 RETURNING `+teamColumns,
			t.Name, t.Description, team.NormalizeName(t.Name), key,
		))
		return err
	})
	if err != nil {
		return nil, classify("updating team", err)
	}
	return updated, nil
}

// DeleteTeam removes a team; memberships and join requests cascade.
func (s *Store) DeleteTeam(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM teams WHERE team_key = $1`, key)
	if err != nil {
		return classify("deleting team", err)
	}
	if tag.RowsAffected() == 0 {
		return team.ErrTeamNotFound
	}
	return nil
}

// ListTeamsForUser returns the user's teams with the role held in each.
func (s *Store) ListTeamsForUser(ctx context.Context, userID string) ([]team.MemberTeam, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT t.team_key, t.team_name, t.team_description, t.created_by, t.created_at, m.role
		 FROM memberships m JOIN teams t ON t.team_key = m.team_key
		 WHERE m.user_id = $1
		 ORDER BY t.created_at DESC, t.team_key`,
		userID,
	)
	if err != nil {
		return nil, classify("listing user teams", err)
	}
	defer rows.Close()

	var out []team.MemberTeam
	for rows.Next() {
		var mt team.MemberTeam
		var role string
		if err := rows.Scan(&mt.Team.Key, &mt.Team.Name, &mt.Team.Description, &mt.Team.CreatedBy, &mt.Team.CreatedAt, &role); err != nil {
			return nil, fmt.Errorf("scanning team row: %w", err)
		}
		mt.Role = team.Role(role)
		out = append(out, mt)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating team rows", err)
	}
	return out, nil
}

// GetMembership returns a single membership row.
func (s *Store) GetMembership(ctx context.Context, key, userID string) (*team.Membership, error) {
	m := &team.Membership{}
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT team_key, user_id, role, joined_at FROM memberships
		 WHERE team_key = $1 AND user_id = $2`,
		key, userID,
	).Scan(&m.TeamKey, &m.UserID, &role, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, team.ErrMemberNotFound
	}
	if err != nil {
		return nil, classify("getting membership", err)
	}
	m.Role = team.Role(role)
	return m, nil
}

// ListMembers returns memberships admins first, most recently joined first.
func (s *Store) ListMembers(ctx context.Context, key string) ([]team.Membership, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT team_key, user_id, role, joined_at FROM memberships
		 WHERE team_key = $1
		 ORDER BY (role = 'admin') DESC, joined_at DESC, user_id`,
		key,
	)
	if err != nil {
		return nil, classify("listing members", err)
	}
	defer rows.Close()

	out := []team.Membership{}
	for rows.Next() {
		var m team.Membership
		var role string
		if err := rows.Scan(&m.TeamKey, &m.UserID, &role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scanning membership row: %w", err)
		}
		m.Role = team.Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterating membership rows", err)
	}
	return out, nil
}

// CountAdmins returns how many admins the team has.
func (s *Store) CountAdmins(ctx context.Context, key string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM memberships WHERE team_key = $1 AND role = 'admin'`, key,
	).Scan(&n)
	if err != nil {
		return 0, classify("counting admins", err)
	}
	return n, nil
}

// SetMemberRole changes a member's role. The team row is locked so that
// concurrent demotions observe each other's writes.
func (s *Store) SetMemberRole(ctx context.Context, key, userID string, role team.Role) (*team.Membership, error) {
	var out *team.Membership
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var locked string
		err := tx.QueryRow(ctx, `SELECT team_key FROM teams WHERE team_key = $1 FOR UPDATE`, key).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return team.ErrTeamNotFound
		}
		if err != nil {
			return err
		}

		var current string
		err = tx.QueryRow(ctx,
			`SELECT role FROM memberships WHERE team_key = $1 AND user_id = $2`, key, userID,
		).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return team.ErrMemberNotFound
		}
		if err != nil {
			return err
		}

		if team.Role(current) == team.RoleAdmin && role != team.RoleAdmin {
			var admins int
			if err := tx.QueryRow(ctx,
				`SELECT count(*) FROM memberships WHERE team_key = $1 AND role = 'admin'`, key,
			).Scan(&admins); err != nil {
				return err
			}
			if admins <= 1 {
				return team.ErrLastAdmin
			}
		}

		m := &team.Membership{}
		var newRole string
		err = tx.QueryRow(ctx,
			`UPDATE memberships SET role = $1 WHERE team_key = $2 AND user_id = $3
			 RETURNING team_key, user_id, role, joined_at`,
			string(role), key, userID,
		).Scan(&m.TeamKey, &m.UserID, &newRole, &m.JoinedAt)
		if err != nil {
			return err
		}
		m.Role = team.Role(newRole)
		out = m
		return nil
	})
	if err != nil {
		return nil, classify("setting member role", err)
	}
	return out, nil
}

// CreateJoinRequest inserts a pending request for a non-member.
func (s *Store) CreateJoinRequest(ctx context.Context, r *team.JoinRequest) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockPair(ctx, tx, r.TeamKey, r.UserID); err != nil {
			return err
		}

		var member bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM memberships WHERE team_key = $1 AND user_id = $2)`,
			r.TeamKey, r.UserID,
		).Scan(&member); err != nil {
			return err
		}
		if member {
			return team.ErrAlreadyMember
		}

		tag, err := tx.Exec(ctx,
			`INSERT INTO join_requests (id, team_key, user_id, message, status, requested_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (team_key, user_id) WHERE status = 'pending' DO NOTHING`,
			r.ID, r.TeamKey, r.UserID, r.Message, string(team.StatusPending), r.RequestedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return team.ErrDuplicatePending
		}
		return nil
	})
	return classify("creating join request", err)
}

func (s *Store) queryRequests(ctx context.Context, op, query string, args ...any) ([]team.JoinRequest, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	out := []team.JoinRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning join request row: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

// ListPendingRequests returns the team's pending requests oldest first.
func (s *Store) ListPendingRequests(ctx context.Context, key string) ([]team.JoinRequest, error) {
	return s.queryRequests(ctx, "listing pending requests",
		`SELECT `+requestColumns+` FROM join_requests
		 WHERE team_key = $1 AND status = 'pending'
		 ORDER BY requested_at, user_id`,
		key,
	)
}

// ListRequestsForUser returns every request the user made, newest first.
func (s *Store) ListRequestsForUser(ctx context.Context, userID string) ([]team.JoinRequest, error) {
	return s.queryRequests(ctx, "listing user requests",
		`SELECT `+requestColumns+` FROM join_requests
		 WHERE user_id = $1
		 ORDER BY requested_at DESC`,
		userID,
	)
}

// ResolveJoinRequest compares-and-swaps the pending request to its terminal
// status and, on acceptance, inserts the membership in the same transaction.
func (s *Store) ResolveJoinRequest(ctx context.Context, res team.Resolution) (*team.JoinRequest, *team.Membership, error) {
	if !res.To.Terminal() {
		return nil, nil, fmt.Errorf("resolving join request: invalid target status %q", res.To)
	}

	var (
		req *team.JoinRequest
		m   *team.Membership
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := lockPair(ctx, tx, res.TeamKey, res.RequesterID); err != nil {
			return err
		}

		r, err := scanRequest(tx.QueryRow(ctx,
			`UPDATE join_requests SET status = $1, resolved_at = $2, resolved_by = $3
			 WHERE team_key = $4 AND user_id = $5 AND status = 'pending'
			 RETURNING `+requestColumns,
			string(res.To), res.At, res.AdminID, res.TeamKey, res.RequesterID,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return team.ErrRequestNotFound
		}
		if err != nil {
			return err
		}
		req = r

		if res.To != team.StatusAccepted {
			return nil
		}
		tag, err := tx.Exec(ctx,
			`INSERT INTO memberships (team_key, user_id, role, joined_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (team_key, user_id) DO NOTHING`,
			res.TeamKey, res.RequesterID, string(team.RoleMember), res.At,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return team.ErrAlreadyMember
		}
		m = &team.Membership{
			TeamKey:  res.TeamKey,
			UserID:   res.RequesterID,
			Role:     team.RoleMember,
			JoinedAt: res.At,
		}
		return nil
	})
	if err != nil {
		return nil, nil, classify("resolving join request", err)
	}
	return req, m, nil
}

// Ping verifies connectivity within the given timeout.
func (s *Store) Ping(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return classify("pinging database", s.pool.Ping(ctx))
}
