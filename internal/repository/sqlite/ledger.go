package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/click-ledger/internal/apperror"
	"github.com/sakif/click-ledger/internal/model"
	"github.com/sakif/click-ledger/internal/repository"
)

// compile-time check that *DB implements repository.ClickLedger
var _ repository.ClickLedger = (*DB)(nil)

// now is the ledger clock. Timestamps are stored in UTC so their text form
// sorts in time order.
var now = func() time.Time { return time.Now().UTC() }

// EnsureUser inserts the user if no row with the same ID exists yet.
//
// INSERT ... ON CONFLICT(id) DO NOTHING:
// The existence check and the insert are one statement, so two requests for
// the same new subject cannot both "miss" and then collide on the primary
// key. The loser's insert is silently skipped; the first writer's email and
// name stay. RowsAffected tells us which one we were.
func (db *DB) EnsureUser(ctx context.Context, user *model.User) (bool, error) {
	return ensureUser(ctx, db.conn, user)
}

func ensureUser(ctx context.Context, q querier, user *model.User) (bool, error) {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now()
	}

	result, err := q.ExecContext(ctx,
		`INSERT INTO users (id, email, name, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		user.ID,
		user.Email,
		user.Name,
		user.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: ensuring user %s: %w", user.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// RecordClick makes sure the user exists and appends one click for them,
// both inside a single transaction.
//
// The returned Timestamp is exactly the clicked_at value written to the row.
func (db *DB) RecordClick(ctx context.Context, user *model.User) (*model.ClickReceipt, error) {
	var receipt model.ClickReceipt

	err := db.withTx(ctx, func(q querier) error {
		if _, err := ensureUser(ctx, q, user); err != nil {
			return err
		}

		clickedAt := now()
		result, err := q.ExecContext(ctx,
			`INSERT INTO clicks (user_id, clicked_at) VALUES (?, ?)`,
			user.ID,
			clickedAt,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting click for user %s: %w", user.ID, err)
		}

		clickID, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("sqlite: reading click id: %w", err)
		}

		receipt = model.ClickReceipt{
			ClickID:   clickID,
			UserID:    user.ID,
			Timestamp: clickedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &receipt, nil
}

// UserClickCount returns how many clicks the user has. Unknown users have zero.
func (db *DB) UserClickCount(ctx context.Context, id string) (int64, error) {
	return userClickCount(ctx, db.conn, id)
}

func userClickCount(ctx context.Context, q querier, id string) (int64, error) {
	var count int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM clicks WHERE user_id = ?`, id,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting clicks for user %s: %w", id, err)
	}
	return count, nil
}

// UserClickHistory lists at most limit clicks for the user, newest first.
// Clicks sharing a timestamp are ordered by descending id.
func (db *DB) UserClickHistory(ctx context.Context, id string, limit int) ([]model.ClickEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, clicked_at
		 FROM clicks
		 WHERE user_id = ?
		 ORDER BY clicked_at DESC, id DESC
		 LIMIT ?`,
		id,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing clicks for user %s: %w", id, err)
	}
	defer rows.Close()

	clicks := make([]model.ClickEntry, 0, limit)
	for rows.Next() {
		var c model.ClickEntry
		if err := rows.Scan(&c.ID, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("sqlite: scanning click row: %w", err)
		}
		clicks = append(clicks, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating clicks: %w", err)
	}

	return clicks, nil
}

// GlobalStats computes totals and the topN users by click count.
//
// The three queries share one transaction so the totals and the leaderboard
// describe the same snapshot. Users with no clicks still appear (LEFT JOIN)
// when there are fewer than topN active users. Ties go to the user seen first.
func (db *DB) GlobalStats(ctx context.Context, topN int) (*model.Stats, error) {
	stats := model.Stats{TopUsers: make([]model.TopUser, 0, topN)}

	err := db.withTx(ctx, func(q querier) error {
		if err := q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM clicks`,
		).Scan(&stats.TotalClicks); err != nil {
			return fmt.Errorf("sqlite: counting clicks: %w", err)
		}

		if err := q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM users`,
		).Scan(&stats.TotalUsers); err != nil {
			return fmt.Errorf("sqlite: counting users: %w", err)
		}

		rows, err := q.QueryContext(ctx,
			`SELECT u.email, u.name, COUNT(c.id) AS click_count
			 FROM users u
			 LEFT JOIN clicks c ON u.id = c.user_id
			 GROUP BY u.id
			 ORDER BY click_count DESC, u.created_at ASC, u.id ASC
			 LIMIT ?`,
			topN,
		)
		if err != nil {
			return fmt.Errorf("sqlite: ranking users: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var u model.TopUser
			if err := rows.Scan(&u.Email, &u.Name, &u.Clicks); err != nil {
				return fmt.Errorf("sqlite: scanning ranking row: %w", err)
			}
			stats.TopUsers = append(stats.TopUsers, u)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("sqlite: iterating ranking: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &stats, nil
}

// UserInfo returns the user's profile with their click count.
// Returns apperror.ErrNotFound if the user has never been recorded.
func (db *DB) UserInfo(ctx context.Context, id string) (*model.UserSummary, error) {
	var summary model.UserSummary

	err := db.withTx(ctx, func(q querier) error {
		err := q.QueryRowContext(ctx,
			`SELECT id, email, name, created_at FROM users WHERE id = ?`,
			id,
		).Scan(
			&summary.ID,
			&summary.Email,
			&summary.Name,
			&summary.CreatedAt,
		)
		if err != nil {
			if err == sql.ErrNoRows {
				return apperror.NotFound("user", id)
			}
			return fmt.Errorf("sqlite: getting user %s: %w", id, err)
		}

		summary.TotalClicks, err = userClickCount(ctx, q, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &summary, nil
}

// DeleteUserClicks removes every click owned by the user and reports how
// many were deleted. The user row is kept. Zero deletions is not an error.
func (db *DB) DeleteUserClicks(ctx context.Context, id string) (int64, error) {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM clicks WHERE user_id = ?`,
		id,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting clicks for user %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}

	return rowsAffected, nil
}
