package entity

import "time"

// Session is the server-side state behind a session cookie.
type Session struct {
	ID        string    `db:"id" bson:"_id" json:"id"`
	UserID    string    `db:"user_id" bson:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" bson:"created_at" json:"created_at"`
	ExpiresAt time.Time `db:"expires_at" bson:"expires_at" json:"expires_at"`
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
