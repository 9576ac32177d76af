// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.

// package model holds the shared data types passed between Keyturn's
// packages: the relationship being rotated, the generated key pair, and
// the journal records that describe past rotations.
package model

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// Relationship identifies one local principal authenticating to one
// remote account. Its fingerprint is stable across rotations.
type Relationship struct {
	LocalUser  string
	LocalHost  string
	RemoteUser string
	RemoteHost string
}

// String returns the remote endpoint as user@host.
func (r Relationship) String() string {
	return fmt.Sprintf("%s@%s", r.RemoteUser, r.RemoteHost)
}

// KeyPair is one generated issuance: both key halves persisted to disk,
// never mutated after creation.
type KeyPair struct {
	Algorithm      string
	Bits           int
	PrivateKeyPath string
	PublicKeyPath  string
	// PublicKeyLine is the full authorized_keys line including the
	// metadata comment.
	PublicKeyLine string
	IssuedAt      int64
}

// RotationRecord is one row of the rotation journal.
type RotationRecord struct {
	bun.BaseModel `bun:"table:rotations"`

	ID             int       `bun:"id,pk,autoincrement" json:"id"`
	RelationshipID string    `bun:"relationship_id" json:"relationship_id"`
	LocalUser      string    `bun:"local_user" json:"local_user"`
	LocalHost      string    `bun:"local_host" json:"local_host"`
	RemoteUser     string    `bun:"remote_user" json:"remote_user"`
	RemoteHost     string    `bun:"remote_host" json:"remote_host"`
	IssuedAt       int64     `bun:"issued_at" json:"issued_at"`
	Algorithm      string    `bun:"algorithm" json:"algorithm"`
	Bits           int       `bun:"bits" json:"bits"`
	PrivateKeyPath string    `bun:"private_key_path" json:"private_key_path"`
	PublicKeyLine  string    `bun:"public_key_line" json:"public_key_line"`
	Outcome        string    `bun:"outcome" json:"outcome"`
	Warnings       string    `bun:"warnings" json:"warnings"`
	CreatedAt      time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at"`
}

// String returns a short human-readable summary of the record.
func (r RotationRecord) String() string {
	return fmt.Sprintf("%s@%s (%s, serial %d)", r.RemoteUser, r.RemoteHost, r.Outcome, r.IssuedAt)
}

// BackupData is the serialization envelope for journal backups.
type BackupData struct {
	ExportedAt time.Time        `json:"exported_at"`
	Rotations  []RotationRecord `json:"rotations"`
}
