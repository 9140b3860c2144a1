package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// Repos groups the repositories bound to one executor: either the pool or a
// single transaction.
type Repos struct {
	Players     PlayerRepository
	Matches     MatchRepository
	Tournaments TournamentRepository
}

// Store hands out repositories and owns transaction scope.
type Store interface {
	Repos() Repos
	// RunInTx runs fn inside one serializable transaction. The transaction is
	// committed when fn returns nil and rolled back on error or panic.
	RunInTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error
}

type postgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewPostgresStore(db *sql.DB, logger *slog.Logger) Store {
	return &postgresStore{db: db, logger: logger}
}

func newPostgresRepos(exec SQLExecutor) Repos {
	return Repos{
		Players:     NewPostgresPlayerRepository(exec),
		Matches:     NewPostgresMatchRepository(exec),
		Tournaments: NewPostgresTournamentRepository(exec),
	}
}

func (s *postgresStore) Repos() Repos {
	return newPostgresRepos(s.db)
}

func (s *postgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) (txErr error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if txErr != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("rollback failed", slog.Any("error", rbErr), slog.Any("cause", txErr))
			}
			txErr = classifyPQError(txErr)
		} else if cErr := tx.Commit(); cErr != nil {
			txErr = classifyPQError(fmt.Errorf("failed to commit transaction: %w", cErr))
		}
	}()

	txErr = fn(ctx, newPostgresRepos(tx))
	return txErr
}
