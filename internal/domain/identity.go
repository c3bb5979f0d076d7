package domain

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Identity is the caller as resolved once at the API boundary from a verified session token.
type Identity struct {
	ExternalID string `json:"external_id"`
	Role       Role   `json:"role"`
	Verified   bool   `json:"verified"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

func (i Identity) IsZero() bool { return i.ExternalID == "" }

// SystemIdentity acts for automatic transitions (e.g. completing a fully paid contract).
var SystemIdentity = Identity{ExternalID: "system", Role: RoleAdmin, Verified: true}

// IdentityRecord is the local mirror of an identity-provider subject.
type IdentityRecord struct {
	ExternalID string    `json:"external_id" db:"external_id"`
	Role       Role      `json:"role" db:"role"`
	Verified   bool      `json:"verified" db:"verified"`
	FirstSeen  time.Time `json:"first_seen" db:"first_seen"`
	LastSeen   time.Time `json:"last_seen" db:"last_seen"`
}
