package service

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"

	"github.com/VictorysHerald/RS-Event-score-counter-bot/internal/storage"
	"go.uber.org/zap"
)

// Store is the ledger storage the service composes its transactions from.
type Store interface {
	WithTx(ctx context.Context, fn func(tx storage.Tx) error) error
	Standings(ctx context.Context) ([]storage.Standing, error)
	PlayerStanding(ctx context.Context, playerID int64) (*storage.Standing, error)
}

// LedgerServiceInterface is what the command dispatcher needs from the ledger.
type LedgerServiceInterface interface {
	SubmitRun(ctx context.Context, sub RunSubmission) (*RunRecord, error)
	RemoveRun(ctx context.Context, runID int) (*RemovalSummary, error)
	BuildLeaderboard(ctx context.Context) ([]storage.Standing, error)
	ClearHistory(ctx context.Context) error
	PlayerScore(ctx context.Context, playerID int64) (*storage.Standing, error)
	HelpText() string
}

// RunSubmission - the input of /log_run
type RunSubmission struct {
	Level        int
	Variant      storage.Variant
	TotalPoints  int
	Participants []int64
}

// RunRecord - a run as it was stored, participants in submission order
type RunRecord struct {
	RunID        int
	Level        int
	Variant      storage.Variant
	TotalPoints  int
	Share        float64
	Participants []int64
}

// RemovalSummary - what was taken back when a run was removed
type RemovalSummary struct {
	RunID          int
	Level          int
	Variant        storage.Variant
	PointsToRemove float64
	Participants   []int64
}

type LedgerService struct {
	store  Store
	logger *zap.Logger

	// writeMu serializes every mutation of the ledger.
	writeMu sync.Mutex
}

func New(store Store, logger *zap.Logger) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerService{
		store:  store,
		logger: logger,
	}
}

// RoundShare splits total evenly across count players and rounds to one
// decimal, halves away from zero (3.25 -> 3.3, 10/3 -> 3.3).
func RoundShare(total, count int) float64 {
	return math.Round(float64(total)*10/float64(count)) / 10
}

// SubmitRun - validates and records a run, crediting every participant with an equal rounded share
func (s *LedgerService) SubmitRun(ctx context.Context, sub RunSubmission) (*RunRecord, error) {
	seen := make(map[int64]struct{}, len(sub.Participants))
	for _, id := range sub.Participants {
		if _, dup := seen[id]; dup {
			return nil, ErrDuplicateParticipant
		}
		seen[id] = struct{}{}
	}
	if sub.TotalPoints <= 0 {
		return nil, ErrNonPositivePoints
	}
	if len(sub.Participants) == 0 {
		return nil, ErrInvariantViolation
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	share := RoundShare(sub.TotalPoints, len(sub.Participants))
	record := &RunRecord{
		Level:        sub.Level,
		Variant:      sub.Variant,
		TotalPoints:  sub.TotalPoints,
		Share:        share,
		Participants: slices.Clone(sub.Participants),
	}

	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		for _, id := range sub.Participants {
			exists, err := tx.PlayerExists(ctx, id)
			if err != nil {
				return storageErr("check player", err)
			}
			if exists {
				continue
			}
			if err := tx.AddPlayer(ctx, id); err != nil {
				return storageErr("add player", err)
			}
			s.logger.Info("player added", zap.Int64("player_id", id))
		}

		for _, id := range sub.Participants {
			if err := tx.AddPoints(ctx, id, share); err != nil {
				return storageErr("add points", err)
			}
			s.logger.Debug("points added", zap.Int64("player_id", id), zap.Float64("points", share))
		}

		runID, err := tx.NextRunID(ctx)
		if err != nil {
			return storageErr("allocate run id", err)
		}
		record.RunID = runID

		run := storage.Run{
			ID:          runID,
			Level:       sub.Level,
			Variant:     sub.Variant,
			TotalPoints: sub.TotalPoints,
		}
		if err := tx.InsertRun(ctx, run); err != nil {
			return storageErr("insert run", err)
		}

		for _, id := range sub.Participants {
			if err := tx.InsertParticipation(ctx, id, runID); err != nil {
				return storageErr("insert participation", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify("submit run", err)
	}

	s.logger.Info("run logged",
		zap.Int("run_id", record.RunID),
		zap.Int("level", record.Level),
		zap.Stringer("variant", record.Variant),
		zap.Int("points", record.TotalPoints),
		zap.Int("players", len(record.Participants)))
	return record, nil
}

// RemoveRun - deletes a run and takes its points back from every participant.
// The amount taken back is total/count without rounding, so it can differ
// from the rounded share credited by SubmitRun.
func (s *LedgerService) RemoveRun(ctx context.Context, runID int) (*RemovalSummary, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var summary RemovalSummary
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		run, err := tx.GetRun(ctx, runID)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrRunNotFound
		}
		if err != nil {
			return storageErr("get run", err)
		}

		players, err := tx.RunParticipants(ctx, runID)
		if err != nil {
			return storageErr("get participants", err)
		}
		if len(players) == 0 {
			return ErrInvariantViolation
		}

		pointsToRemove := float64(run.TotalPoints) / float64(len(players))
		for _, id := range players {
			if err := tx.AddPoints(ctx, id, -pointsToRemove); err != nil {
				return storageErr("remove points", err)
			}
		}

		if err := tx.DeleteParticipations(ctx, runID); err != nil {
			return storageErr("delete participations", err)
		}
		if err := tx.DeleteRun(ctx, runID); err != nil {
			return storageErr("delete run", err)
		}

		summary = RemovalSummary{
			RunID:          runID,
			Level:          run.Level,
			Variant:        run.Variant,
			PointsToRemove: pointsToRemove,
			Participants:   players,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			s.logger.Error("run has no participants", zap.Int("run_id", runID))
		}
		return nil, classify("remove run", err)
	}

	s.logger.Info("run removed",
		zap.Int("run_id", runID),
		zap.Float64("points_per_player", summary.PointsToRemove),
		zap.Int("players", len(summary.Participants)))
	return &summary, nil
}

// BuildLeaderboard - all players, highest balance first. Ties keep the store's order.
func (s *LedgerService) BuildLeaderboard(ctx context.Context) ([]storage.Standing, error) {
	standings, err := s.store.Standings(ctx)
	if err != nil {
		return nil, storageErr("load standings", err)
	}
	slices.SortStableFunc(standings, func(a, b storage.Standing) int {
		switch {
		case a.Points > b.Points:
			return -1
		case a.Points < b.Points:
			return 1
		}
		return 0
	})
	return standings, nil
}

// ClearHistory - wipes participations, runs and players, in that order
func (s *LedgerService) ClearHistory(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.DeleteAllParticipations(ctx); err != nil {
			return storageErr("delete participations", err)
		}
		if err := tx.DeleteAllRuns(ctx); err != nil {
			return storageErr("delete runs", err)
		}
		if err := tx.DeleteAllPlayers(ctx); err != nil {
			return storageErr("delete players", err)
		}
		return nil
	})
	if err != nil {
		return classify("clear history", err)
	}

	s.logger.Info("run history cleared")
	return nil
}

// PlayerScore - for /myscore
func (s *LedgerService) PlayerScore(ctx context.Context, playerID int64) (*storage.Standing, error) {
	st, err := s.store.PlayerStanding(ctx, playerID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, storageErr("load player", err)
	}
	return st, nil
}

// classify keeps ledger errors as they are and treats anything else that
// escaped a transaction (begin, commit) as a storage failure.
func classify(op string, err error) error {
	var se *StorageError
	switch {
	case errors.Is(err, ErrRunNotFound),
		errors.Is(err, ErrInvariantViolation),
		errors.As(err, &se):
		return err
	}
	return storageErr(op, err)
}
