// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.

// adapters_cli.go binds the rotation engine's collaborator interfaces to
// their real implementations: on-disk key generation, SSH validation,
// the local SSH config file and the journal database.

package main

import (
	"github.com/spf13/cobra"
	"github.com/toeirei/keyturn/internal/authkeys"
	"github.com/toeirei/keyturn/internal/journal"
	"github.com/toeirei/keyturn/internal/keygen"
	"github.com/toeirei/keyturn/internal/metadata"
	"github.com/toeirei/keyturn/internal/model"
	"github.com/toeirei/keyturn/internal/rotate"
	"github.com/toeirei/keyturn/internal/sshconfig"
	"golang.org/x/crypto/ssh"
)

// diskKeyGenerator mints key pairs into a local directory. The
// relationship id for the filename comes out of the metadata comment,
// so the generator stays a pure function of its inputs.
type diskKeyGenerator struct {
	algorithm  string
	bits       int
	passphrase string
	dir        string
}

func (g *diskKeyGenerator) Generate(comment string, issuedAt int64) (*model.KeyPair, error) {
	tag, err := metadata.Parse(comment)
	if err != nil {
		return nil, err
	}
	return keygen.Generate(g.algorithm, g.bits, comment, g.passphrase, g.dir, tag.RelationshipID, issuedAt)
}

// sshValidator proves a freshly minted key can open a session on its
// own, with no agent and no fallback identities.
type sshValidator struct {
	host            string
	user            string
	passphrase      string
	hostKeyCallback ssh.HostKeyCallback
}

func (v *sshValidator) Validate(pair *model.KeyPair) error {
	return authkeys.ValidateKey(v.host, v.user, pair.PrivateKeyPath, v.passphrase, v.hostKeyCallback)
}

// sshConfigWriter points the local SSH client config at a new identity.
// A non-default port travels along so fresh stanzas dial the right place.
type sshConfigWriter struct {
	path string
	port int
}

func (w *sshConfigWriter) UpsertHostIdentity(hostName, remoteUser, identityFilePath string) error {
	return sshconfig.UpsertHostIdentity(w.path, hostName, remoteUser, identityFilePath, w.port)
}

// keepAllStore wraps a store and suppresses retirement, for --no-retire
// runs where the operator wants to prune the old keys by hand.
type keepAllStore struct {
	rotate.Store
}

func (keepAllStore) RetireOldEntries(relationshipID string, keepIssuedAt int64) (int, error) {
	return 0, nil
}

// recordRotation writes one attempt to the journal. Failed attempts are
// recorded too; an audit trail that only remembers successes is not
// much of an audit trail.
func recordRotation(cmd *cobra.Command, rel model.Relationship, result *rotate.Result, runErr error) error {
	if !journal.IsInitialized() {
		return nil
	}
	rec := &model.RotationRecord{
		RelationshipID: metadata.ComputeRelationshipID(rel.LocalUser, rel.LocalHost, rel.RemoteUser, rel.RemoteHost),
		LocalUser:      rel.LocalUser,
		LocalHost:      rel.LocalHost,
		RemoteUser:     rel.RemoteUser,
		RemoteHost:     rel.RemoteHost,
		Outcome:        outcomeString(runErr),
	}
	if result != nil {
		rec.IssuedAt = result.IssuedAt
		rec.Warnings = joinWarnings(result.Warnings)
		if result.KeyPair != nil {
			rec.Algorithm = result.KeyPair.Algorithm
			rec.Bits = result.KeyPair.Bits
			rec.PrivateKeyPath = result.KeyPair.PrivateKeyPath
			rec.PublicKeyLine = result.KeyPair.PublicKeyLine
		}
	}
	return journal.Record(cmd.Context(), rec)
}
