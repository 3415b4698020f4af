package domain

import "time"

// VenueCredential is a user's decrypted API credential for one venue.
// The store keeps the secret material encrypted at rest and decrypts on
// read; nothing outside the store sees ciphertext.
type VenueCredential struct {
	ID         string
	UserID     string
	Venue      string
	APIKey     string
	APISecret  string
	Passphrase string // empty when the venue has none
	CreatedAt  time.Time
}
