package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateEpoch allocates a new currency epoch for a batch run. Epoch
// ids grow monotonically; the run id only correlates log lines.
func (s *Store) CreateEpoch(version string) (CurrencyEpoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	epoch := CurrencyEpoch{Version: version, RunID: uuid.NewString()}
	err := s.withRetry(func() error {
		return s.db.QueryRow(`
			INSERT INTO currency (version, run_id) VALUES (?, ?)
			RETURNING id, created_at`,
			version, epoch.RunID).Scan(&epoch.ID, &epoch.CreatedAt)
	})
	if err != nil {
		return CurrencyEpoch{}, fmt.Errorf("failed to create epoch: %w", err)
	}

	s.logger.Info("created currency epoch",
		zap.Int64("epoch", epoch.ID),
		zap.String("run_id", epoch.RunID))
	return epoch, nil
}

// LatestEpoch returns the most recent epoch, or an error when none
// exists yet.
func (s *Store) LatestEpoch() (CurrencyEpoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var epoch CurrencyEpoch
	err := s.db.QueryRow(`
		SELECT id, version, run_id, created_at FROM currency
		ORDER BY id DESC LIMIT 1`).
		Scan(&epoch.ID, &epoch.Version, &epoch.RunID, &epoch.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CurrencyEpoch{}, errors.New("no currency epoch exists")
	}
	if err != nil {
		return CurrencyEpoch{}, fmt.Errorf("failed to read latest epoch: %w", err)
	}
	return epoch, nil
}

// Sweep deletes relation rows stamped with an epoch older than
// currentID and returns how many rows were removed.
func (s *Store) Sweep(currentID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	err := s.withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		total = 0
		for _, table := range []string{"bill_to_bill", "section_to_section"} {
			res, err := tx.Exec(
				"DELETE FROM "+table+" WHERE currency_id < ?", currentID)
			if err != nil {
				return fmt.Errorf("failed to sweep %s: %w", table, err)
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("swept stale relations",
		zap.Int64("epoch", currentID),
		zap.Int64("deleted", total))
	return total, nil
}
