package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Tx is the set of primitives a ledger transaction is composed of.
type Tx interface {
	PlayerExists(ctx context.Context, playerID int64) (bool, error)
	AddPlayer(ctx context.Context, playerID int64) error
	AddPoints(ctx context.Context, playerID int64, delta float64) error
	NextRunID(ctx context.Context) (int, error)
	InsertRun(ctx context.Context, run Run) error
	InsertParticipation(ctx context.Context, playerID int64, runID int) error
	GetRun(ctx context.Context, runID int) (*Run, error)
	RunParticipants(ctx context.Context, runID int) ([]int64, error)
	DeleteParticipations(ctx context.Context, runID int) error
	DeleteRun(ctx context.Context, runID int) error
	DeleteAllParticipations(ctx context.Context) error
	DeleteAllRuns(ctx context.Context) error
	DeleteAllPlayers(ctx context.Context) error
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Storage struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// Options tune the connection pool.
type Options struct {
	DSN      string
	MaxConns int32
}

// New - opens the connection pool
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Storage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	return &Storage{db: pool, logger: logger}, nil
}

// Ping - checks the connection to the DB
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases every pooled connection.
func (s *Storage) Close() {
	s.db.Close()
}

// WithTx runs fn inside a single transaction. The transaction is committed
// when fn returns nil and rolled back otherwise.
func (s *Storage) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
	}()

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// standingsQuery ranks by balance. Ties fall back to player_id so repeated
// reads return the same order.
const standingsQuery = `SELECT p.player_id, p.points, COUNT(pr.run_id) AS run_count
 FROM players p
 LEFT JOIN player_runs pr ON p.player_id = pr.player_id
 GROUP BY p.player_id, p.points
 ORDER BY p.points DESC, p.player_id`

// Standings - every player with their points and the number of runs they are in,
// highest balance first
func (s *Storage) Standings(ctx context.Context) ([]Standing, error) {
	rows, err := s.db.Query(ctx, standingsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var standings []Standing
	for rows.Next() {
		var st Standing
		if err := rows.Scan(&st.PlayerID, &st.Points, &st.RunCount); err != nil {
			return nil, err
		}
		standings = append(standings, st)
	}
	return standings, rows.Err()
}

// PlayerStanding - a single player's points and run count
func (s *Storage) PlayerStanding(ctx context.Context, playerID int64) (*Standing, error) {
	var st Standing
	err := s.db.QueryRow(ctx,
		`SELECT p.player_id, p.points, COUNT(pr.run_id)
		 FROM players p
		 LEFT JOIN player_runs pr ON p.player_id = pr.player_id
		 WHERE p.player_id = $1
		 GROUP BY p.player_id, p.points`,
		playerID,
	).Scan(&st.PlayerID, &st.Points, &st.RunCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

type pgTx struct {
	q querier
}

// PlayerExists - checks whether the player is already registered
func (t *pgTx) PlayerExists(ctx context.Context, playerID int64) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM players WHERE player_id=$1)", playerID).Scan(&exists)
	return exists, err
}

// AddPlayer - registers a player with zero points
func (t *pgTx) AddPlayer(ctx context.Context, playerID int64) error {
	_, err := t.q.Exec(ctx,
		"INSERT INTO players (player_id, points) VALUES ($1, 0) ON CONFLICT (player_id) DO NOTHING",
		playerID)
	return err
}

// AddPoints - adds delta (possibly negative) to the player's balance
func (t *pgTx) AddPoints(ctx context.Context, playerID int64, delta float64) error {
	tag, err := t.q.Exec(ctx,
		"UPDATE players SET points = points + $1 WHERE player_id = $2",
		delta, playerID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// NextRunID - the id after the current maximum, so ids of removed runs are never reused
func (t *pgTx) NextRunID(ctx context.Context) (int, error) {
	var next int
	err := t.q.QueryRow(ctx, "SELECT COALESCE(MAX(run_id), 0) + 1 FROM runs").Scan(&next)
	return next, err
}

func (t *pgTx) InsertRun(ctx context.Context, run Run) error {
	_, err := t.q.Exec(ctx,
		"INSERT INTO runs (run_id, level, variant, total_points) VALUES ($1, $2, $3, $4)",
		run.ID, run.Level, int16(run.Variant), run.TotalPoints,
	)
	return err
}

func (t *pgTx) InsertParticipation(ctx context.Context, playerID int64, runID int) error {
	_, err := t.q.Exec(ctx,
		"INSERT INTO player_runs (player_id, run_id) VALUES ($1, $2)",
		playerID, runID,
	)
	return err
}

// GetRun - returns ErrNotFound if the run was removed or never existed
func (t *pgTx) GetRun(ctx context.Context, runID int) (*Run, error) {
	var (
		run     Run
		variant int16
	)
	err := t.q.QueryRow(ctx,
		"SELECT run_id, level, variant, total_points FROM runs WHERE run_id = $1",
		runID,
	).Scan(&run.ID, &run.Level, &variant, &run.TotalPoints)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	run.Variant = Variant(variant)
	return &run, nil
}

// RunParticipants - ids of every player associated with the run
func (t *pgTx) RunParticipants(ctx context.Context, runID int) ([]int64, error) {
	rows, err := t.q.Query(ctx, "SELECT player_id FROM player_runs WHERE run_id = $1", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *pgTx) DeleteParticipations(ctx context.Context, runID int) error {
	_, err := t.q.Exec(ctx, "DELETE FROM player_runs WHERE run_id = $1", runID)
	return err
}

func (t *pgTx) DeleteRun(ctx context.Context, runID int) error {
	_, err := t.q.Exec(ctx, "DELETE FROM runs WHERE run_id = $1", runID)
	return err
}

func (t *pgTx) DeleteAllParticipations(ctx context.Context) error {
	_, err := t.q.Exec(ctx, "DELETE FROM player_runs")
	return err
}

func (t *pgTx) DeleteAllRuns(ctx context.Context) error {
	_, err := t.q.Exec(ctx, "DELETE FROM runs")
	return err
}

func (t *pgTx) DeleteAllPlayers(ctx context.Context) error {
	_, err := t.q.Exec(ctx, "DELETE FROM players")
	return err
}
