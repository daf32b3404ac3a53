package entity

import "time"

// User is the single account record. Local users carry Username and
// PasswordHash; users created through an OAuth callback carry OAuthID. The
// store does not enforce that exactly one of the two is populated, and a local
// and an OAuth account belonging to the same person are never merged.
type User struct {
	ID           string    `db:"id" bson:"_id"`
	Username     *string   `db:"username" bson:"username,omitempty"`
	PasswordHash *string   `db:"password_hash" bson:"password_hash,omitempty"`
	OAuthID      *string   `db:"oauth_id" bson:"oauth_id,omitempty"`
	Secret       *string   `db:"secret" bson:"secret,omitempty"`
	CreatedAt    time.Time `db:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" bson:"updated_at"`
}

// HasPassword reports whether the user registered locally.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// SecretValue returns the stored secret or "".
func (u *User) SecretValue() string {
	if u.Secret == nil {
		return ""
	}
	return *u.Secret
}

// DisplayName is used by views.
func (u *User) DisplayName() string {
	if u.Username != nil && *u.Username != "" {
		return *u.Username
	}
	return "Google user"
}
