package repository

import (
	"context"

	"github.com/sakif/click-ledger/internal/model"
)

// ClickLedger owns the users and clicks relations.
//
// EnsureUser must be safe to call concurrently for the same ID: exactly one
// row results and the first writer's email/name are kept.
//
// RecordClick must be atomic: the user row (created if missing) and the
// click row are committed together or not at all.
type ClickLedger interface {
	EnsureUser(ctx context.Context, user *model.User) (created bool, err error)
	RecordClick(ctx context.Context, user *model.User) (*model.ClickReceipt, error)
	UserClickCount(ctx context.Context, id string) (int64, error)
	UserClickHistory(ctx context.Context, id string, limit int) ([]model.ClickEntry, error)
	GlobalStats(ctx context.Context, topN int) (*model.Stats, error)
	UserInfo(ctx context.Context, id string) (*model.UserSummary, error)
	DeleteUserClicks(ctx context.Context, id string) (int64, error)
}
