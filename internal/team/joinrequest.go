package team

import (
	"context"
	"sort"

	"github.com/google/uuid"
)

// RequestJoin records a pending request by userID to join the team. The
// message is optional; when present it must be 8 to 200 characters.
func (s *Service) RequestJoin(ctx context.Context, userID, key, message string) (*JoinRequest, error) {
	msg, err := normalizeMessage(message)
	if err != nil {
		return nil, err
	}

	r := &JoinRequest{
		ID:          uuid.NewString(),
		TeamKey:     key,
		UserID:      userID,
		Message:     msg,
		Status:      StatusPending,
		RequestedAt: s.opts.Now().UTC(),
	}
	err = s.run(ctx, "request_join", func(ctx context.Context) error {
		if _, err := s.store.GetTeam(ctx, key); err != nil {
			return err
		}
		return s.store.CreateJoinRequest(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListPending returns the team's pending requests, oldest first. Admin only.
func (s *Service) ListPending(ctx context.Context, adminID, key string) ([]JoinRequest, error) {
	var reqs []JoinRequest
	err := s.run(ctx, "list_pending", func(ctx context.Context) error {
		if err := s.requireRole(ctx, adminID, key, RoleAdmin); err != nil {
			return err
		}
		var err error
		reqs, err = s.store.ListPendingRequests(ctx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(reqs, func(i, j int) bool {
		if !reqs[i].RequestedAt.Equal(reqs[j].RequestedAt) {
			return reqs[i].RequestedAt.Before(reqs[j].RequestedAt)
		}
		return reqs[i].UserID < reqs[j].UserID
	})
	if reqs == nil {
		reqs = []JoinRequest{}
	}
	return reqs, nil
}

// ListRequestsForUser returns the user's own join requests, newest first.
func (s *Service) ListRequestsForUser(ctx context.Context, userID string) ([]JoinRequest, error) {
	var reqs []JoinRequest
	err := s.run(ctx, "list_user_requests", func(ctx context.Context) error {
		var err error
		reqs, err = s.store.ListRequestsForUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if reqs == nil {
		reqs = []JoinRequest{}
	}
	return reqs, nil
}

// Accept approves the pending request and makes the requester a member. The
// transition and the membership insert happen atomically.
func (s *Service) Accept(ctx context.Context, adminID, key, requesterID string) (*Membership, error) {
	var m *Membership
	err := s.run(ctx, "accept_join", func(ctx context.Context) error {
		var err error
		_, m, err = s.resolve(ctx, adminID, key, requesterID, StatusAccepted)
		return err
	})
	return m, err
}

// Decline rejects the pending request. The requester may ask again later.
func (s *Service) Decline(ctx context.Context, adminID, key, requesterID string) error {
	return s.run(ctx, "decline_join", func(ctx context.Context) error {
		_, _, err := s.resolve(ctx, adminID, key, requesterID, StatusDeclined)
		return err
	})
}

func (s *Service) resolve(ctx context.Context, adminID, key, requesterID string, to RequestStatus) (*JoinRequest, *Membership, error) {
	if err := s.requireRole(ctx, adminID, key, RoleAdmin); err != nil {
		return nil, nil, err
	}
	return s.store.ResolveJoinRequest(ctx, Resolution{
		TeamKey:     key,
		RequesterID: requesterID,
		AdminID:     adminID,
		To:          to,
		At:          s.opts.Now().UTC(),
	})
}
