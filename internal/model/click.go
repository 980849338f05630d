package model

import "time"

// Click is one recorded click event. IDs are assigned by the store and only grow.
type Click struct {
	ID        int64     `json:"id"        db:"id"`
	UserID    string    `json:"userId"    db:"user_id"`
	ClickedAt time.Time `json:"timestamp" db:"clicked_at"`
}

// ClickReceipt is what RecordClick hands back to the caller.
type ClickReceipt struct {
	ClickID   int64     `json:"clickId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// ClickEntry is a single line of a user's click history.
type ClickEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// TopUser is one row of the global leaderboard.
type TopUser struct {
	Email  string  `json:"email"`
	Name   *string `json:"name"`
	Clicks int64   `json:"clicks"`
}

// Stats aggregates clicks across every user.
type Stats struct {
	TotalClicks int64     `json:"totalClicks"`
	TotalUsers  int64     `json:"totalUsers"`
	TopUsers    []TopUser `json:"topUsers"`
}
