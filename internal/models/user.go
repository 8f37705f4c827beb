package models

import "time"

type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash []byte
	Verified     bool
	CreatedAt    time.Time
}

// PersonalData is what a user sees and edits about themselves.
type PersonalData struct {
	Username  string  `json:"username"`
	Email     string  `json:"email"`
	Verified  bool    `json:"verified"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Country   *string `json:"country,omitempty"`
	City      *string `json:"city,omitempty"`
	BirthDate *string `json:"birth_date,omitempty"`
}

type PersonalDataPatch struct {
	FirstName Nullable[string] `json:"first_name"`
	LastName  Nullable[string] `json:"last_name"`
	Country   Nullable[string] `json:"country"`
	City      Nullable[string] `json:"city"`
	BirthDate Nullable[string] `json:"birth_date"`
}

// EmailVerifier is the stored hash of a single-use login token.
type EmailVerifier struct {
	UserID    int64
	Username  string
	Verifier  string
	CreatedAt time.Time
}

func (p PersonalDataPatch) Empty() bool {
	return !p.FirstName.Set && !p.LastName.Set && !p.Country.Set && !p.City.Set && !p.BirthDate.Set
}
