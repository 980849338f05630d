// Package model defines the data structures used throughout the application.
package model

import "time"

// User is a person known to the ledger.
//
// ID is the subject identifier ("sub" claim) issued by the external identity
// provider, used directly as the primary key.
//
// Email and Name are captured the first time the user is seen and are not
// refreshed on later logins. Name is nil when it was never known.
type User struct {
	ID        string    `json:"id"        db:"id"`
	Email     string    `json:"email"     db:"email"`
	Name      *string   `json:"name"      db:"name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// UserSummary is a user row joined with their current click count.
// Returned by GET /api/clicks/me.
type UserSummary struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Name        *string   `json:"name"`
	CreatedAt   time.Time `json:"createdAt"`
	TotalClicks int64     `json:"totalClicks"`
}
