package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/alecgard/taskmate/internal/team"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeAdminShutdown        = "57P01"
	codeCannotConnectNow     = "57P03"
)

// classify maps driver errors onto the team error taxonomy. Engine errors
// pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *team.Error
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return team.Unavailable(op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w", op, &team.Error{Kind: team.ErrConflict, Message: "conflicting write, resource already exists"})
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w", op, team.ErrTeamNotFound)
		case codeSerializationFailure, codeDeadlockDetected, codeAdminShutdown, codeCannotConnectNow:
			return team.Unavailable(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return team.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
