package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/sellerhub/internal/apperror"
	"github.com/sakif/sellerhub/internal/dbx"
	"github.com/sakif/sellerhub/internal/model"
	"github.com/sakif/sellerhub/internal/repository"
)

var _ repository.SnapshotRepository = (*SnapshotDB)(nil)

// SnapshotDB implements repository.SnapshotRepository.
type SnapshotDB struct {
	q dbx.DBTX
}

const snapshotColumns = `id, account_id, metric_date, daily_sales, daily_orders,
	daily_views, daily_questions, created_at, updated_at`

// Upsert relies on UNIQUE(account_id, metric_date): the first refresh of a
// day inserts, later ones overwrite the metric columns in place. The row
// keeps its original id and created_at, which are read back into snapshot.
func (s *SnapshotDB) Upsert(ctx context.Context, snap *model.DailyMetricsSnapshot) error {
	now := time.Now().UTC()
	if snap.Date == "" {
		return apperror.ValidationFailed("date", "snapshot date is required")
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO daily_metrics_snapshots (`+snapshotColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account_id, metric_date) DO UPDATE SET
			daily_sales     = excluded.daily_sales,
			daily_orders    = excluded.daily_orders,
			daily_views     = excluded.daily_views,
			daily_questions = excluded.daily_questions,
			updated_at      = excluded.updated_at`,
		xid.New().String(),
		snap.AccountID,
		snap.Date,
		snap.DailySales,
		snap.DailyOrders,
		snap.DailyViews,
		snap.DailyQuestions,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting snapshot %s/%s: %w", snap.AccountID, snap.Date, err)
	}

	stored, err := s.Get(ctx, snap.AccountID, snap.Date)
	if err != nil {
		return err
	}
	*snap = *stored
	return nil
}

func (s *SnapshotDB) Get(ctx context.Context, accountID, date string) (*model.DailyMetricsSnapshot, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM daily_metrics_snapshots
		 WHERE account_id = ? AND metric_date = ?`, accountID, date)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("snapshot", accountID+"/"+date)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting snapshot %s/%s: %w", accountID, date, err)
	}
	return snap, nil
}

func (s *SnapshotDB) ListSince(ctx context.Context, accountID string, since time.Time) ([]model.DailyMetricsSnapshot, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM daily_metrics_snapshots
		 WHERE account_id = ? AND metric_date >= ?
		 ORDER BY metric_date DESC`,
		accountID, model.DateOf(since))
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing snapshots for account %s: %w", accountID, err)
	}
	defer rows.Close()

	snaps := []model.DailyMetricsSnapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning snapshot row: %w", err)
		}
		snaps = append(snaps, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating snapshot rows: %w", err)
	}
	return snaps, nil
}

func scanSnapshot(sc scanner) (*model.DailyMetricsSnapshot, error) {
	var snap model.DailyMetricsSnapshot
	err := sc.Scan(
		&snap.ID,
		&snap.AccountID,
		&snap.Date,
		&snap.DailySales,
		&snap.DailyOrders,
		&snap.DailyViews,
		&snap.DailyQuestions,
		&snap.CreatedAt,
		&snap.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
