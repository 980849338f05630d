// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Repository (Data layer)  → reads/writes to the database
//
// ClickService takes a repository.ClickLedger (interface), NOT a *sqlite.DB.
// Tests hand it an in-memory fake; main.go hands it SQLite.
//
// ERROR CONTRACT:
// Every failure leaving this package is an *apperror.AppError:
//   - ErrValidation for bad input (400)
//   - ErrNotFound when a user was never recorded (404)
//   - ErrStorage for anything the database did wrong (500)
//
// Storage errors carry a fixed, client-safe Message and keep the driver
// error as Cause for the logs.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sakif/click-ledger/internal/apperror"
	"github.com/sakif/click-ledger/internal/metrics"
	"github.com/sakif/click-ledger/internal/model"
	"github.com/sakif/click-ledger/internal/repository"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
	TopUsersLimit       = 5
)

// ClickService handles business logic for the click ledger.
type ClickService struct {
	ledger repository.ClickLedger
	logger *slog.Logger
}

// NewClickService creates a new ClickService.
func NewClickService(ledger repository.ClickLedger, logger *slog.Logger) *ClickService {
	return &ClickService{
		ledger: ledger,
		logger: logger,
	}
}

// Record appends one click for user, creating the user on first sight.
//
// The profile on user is only stored the first time the ID is seen; later
// clicks never update email or name.
func (s *ClickService) Record(ctx context.Context, user *model.User) (*model.ClickReceipt, error) {
	if err := requireUser(user); err != nil {
		return nil, err
	}

	// EnsureUser here only tells us whether this is a first sighting so it
	// can be logged. RecordClick repeats the upsert inside its own
	// transaction, so correctness doesn't depend on this call.
	created, err := s.ledger.EnsureUser(ctx, user)
	if err != nil {
		return nil, s.storageError("Error recording click", user.ID, err)
	}
	if created {
		s.logger.Info("new user registered",
			slog.String("user_id", user.ID),
			slog.String("email", user.Email),
		)
	}

	receipt, err := s.ledger.RecordClick(ctx, user)
	if err != nil {
		return nil, s.storageError("Error recording click", user.ID, err)
	}

	metrics.ClicksRecorded.Inc()
	s.logger.Debug("click recorded",
		slog.String("user_id", user.ID),
		slog.Int64("click_id", receipt.ClickID),
	)
	return receipt, nil
}

// Count returns the user's total clicks.
func (s *ClickService) Count(ctx context.Context, userID string) (int64, error) {
	if err := requireID(userID); err != nil {
		return 0, err
	}

	count, err := s.ledger.UserClickCount(ctx, userID)
	if err != nil {
		return 0, s.storageError("Error getting click count", userID, err)
	}
	return count, nil
}

// History returns up to limit of the user's clicks, newest first.
// limit must be between 1 and MaxHistoryLimit.
func (s *ClickService) History(ctx context.Context, userID string, limit int) ([]model.ClickEntry, error) {
	if err := requireID(userID); err != nil {
		return nil, err
	}
	if limit < 1 || limit > MaxHistoryLimit {
		return nil, apperror.ValidationFailed("limit",
			fmt.Sprintf("Limit must be between 1 and %d", MaxHistoryLimit))
	}

	clicks, err := s.ledger.UserClickHistory(ctx, userID, limit)
	if err != nil {
		return nil, s.storageError("Error getting click history", userID, err)
	}
	return clicks, nil
}

// Stats returns global totals and the top users.
func (s *ClickService) Stats(ctx context.Context) (*model.Stats, error) {
	stats, err := s.ledger.GlobalStats(ctx, TopUsersLimit)
	if err != nil {
		return nil, s.storageError("Error getting statistics", "", err)
	}
	return stats, nil
}

// Me returns the stored profile and click total for userID.
// Returns apperror.ErrNotFound if the user has never clicked.
func (s *ClickService) Me(ctx context.Context, userID string) (*model.UserSummary, error) {
	if err := requireID(userID); err != nil {
		return nil, err
	}

	summary, err := s.ledger.UserInfo(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, s.storageError("Error getting user information", userID, err)
	}
	return summary, nil
}

// Reset deletes every click the user owns and returns how many went.
// The user record itself stays.
func (s *ClickService) Reset(ctx context.Context, userID string) (int64, error) {
	if err := requireID(userID); err != nil {
		return 0, err
	}

	deleted, err := s.ledger.DeleteUserClicks(ctx, userID)
	if err != nil {
		return 0, s.storageError("Error deleting clicks", userID, err)
	}

	s.logger.Info("user clicks deleted",
		slog.String("user_id", userID),
		slog.Int64("deleted", deleted),
	)
	return deleted, nil
}

func (s *ClickService) storageError(message, userID string, err error) error {
	s.logger.Error(message,
		slog.String("user_id", userID),
		slog.String("error", err.Error()),
	)
	return apperror.Storage(message, err)
}

func requireID(userID string) error {
	if userID == "" {
		return apperror.ValidationFailed("userId", "user id is required")
	}
	return nil
}

func requireUser(user *model.User) error {
	if user == nil {
		return apperror.ValidationFailed("userId", "user id is required")
	}
	if err := requireID(user.ID); err != nil {
		return err
	}
	if user.Email == "" {
		return apperror.ValidationFailed("email", "user email is required")
	}
	return nil
}
