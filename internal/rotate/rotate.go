// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.

// package rotate sequences one key rotation as a linear state machine:
//
//	Generate → Bootstrap → Provision → Validate → Retire → UpdateConfig
//
// Every step before and including Validate is fatal on failure, leaving
// at most an extra unused key on the remote host. Retire and
// UpdateConfig run only after the new key has proven it can open a
// session on its own; their failures are reported as warnings, never
// rolled back, because the new credential is already confirmed working.
//
// The orchestrator performs no retries and no locking. A rotation is
// expected to be safely re-runnable: stale issuances stay identifiable
// by relationship id and are retired by whichever later run succeeds.
package rotate

import (
	"errors"
	"time"

	"github.com/toeirei/keyturn/internal/keygen"
	"github.com/toeirei/keyturn/internal/logging"
	"github.com/toeirei/keyturn/internal/metadata"
	"github.com/toeirei/keyturn/internal/model"
)

// Step names one transition of the rotation state machine.
type Step string

const (
	StepGenerate     Step = "generate"
	StepBootstrap    Step = "bootstrap"
	StepProvision    Step = "provision"
	StepValidate     Step = "validate"
	StepRetire       Step = "retire"
	StepUpdateConfig Step = "update-config"
)

// Generator mints and persists one key pair for the issuance identified
// by the metadata comment.
type Generator interface {
	Generate(comment string, issuedAt int64) (*model.KeyPair, error)
}

// Store is the remote authorized_keys abstraction (see authkeys).
type Store interface {
	EnsureBootstrap() error
	AppendKey(line string) error
	RetireOldEntries(relationshipID string, keepIssuedAt int64) (int, error)
}

// Validator confirms the freshly generated key can open a session on
// its own, with no fallback credentials.
type Validator interface {
	Validate(pair *model.KeyPair) error
}

// LocalConfig upserts the host stanza in the local SSH client config.
type LocalConfig interface {
	UpsertHostIdentity(hostName, remoteUser, identityFilePath string) error
}

// Config is the immutable run configuration, constructed once at
// startup and handed to Run.
type Config struct {
	Relationship model.Relationship
	ToolVersion  string
	// Now is the clock used for the issuance timestamp; nil means
	// time.Now.
	Now func() time.Time
}

// Deps are the injected collaborators, one per external surface, so
// every transition can be unit-tested without a live remote host.
type Deps struct {
	Generator   Generator
	Store       Store
	Validator   Validator
	LocalConfig LocalConfig
}

// Result describes a completed rotation. Warnings carry post-validation
// failures (cleanup, local config) that did not abort the run.
type Result struct {
	RelationshipID string
	IssuedAt       int64
	KeyPair        *model.KeyPair
	Retired        int
	Warnings       []error
}

// Run executes one rotation for the configured relationship.
func Run(cfg Config, deps Deps) (*Result, error) {
	rel := cfg.Relationship
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	rid := metadata.ComputeRelationshipID(rel.LocalUser, rel.LocalHost, rel.RemoteUser, rel.RemoteHost)
	issuedAt := now().Unix()
	comment := metadata.Encode(cfg.ToolVersion, rid, issuedAt)

	logging.Debugf("rotating %s (relationship %s, serial %d)", rel, rid, issuedAt)

	pair, err := deps.Generator.Generate(comment, issuedAt)
	if err != nil {
		kind := ErrGeneration
		if errors.Is(err, keygen.ErrKeyFileExists) {
			kind = ErrCollision
		}
		return nil, stepFail(StepGenerate, rel, kind, err)
	}
	logging.Debugf("generated %s key pair at %s", pair.Algorithm, pair.PrivateKeyPath)

	if err := deps.Store.EnsureBootstrap(); err != nil {
		return nil, stepFail(StepBootstrap, rel, ErrRemoteSetup, err)
	}

	if err := deps.Store.AppendKey(pair.PublicKeyLine); err != nil {
		return nil, stepFail(StepProvision, rel, ErrRemoteWrite, err)
	}
	logging.Debugf("provisioned new public key on %s", rel)

	// The safety gate: nothing is retired and nothing is reconfigured
	// until the new key has authenticated a session by itself.
	if err := deps.Validator.Validate(pair); err != nil {
		return nil, stepFail(StepValidate, rel, ErrValidation, err)
	}
	logging.Debugf("validated new key against %s", rel)

	result := &Result{
		RelationshipID: rid,
		IssuedAt:       issuedAt,
		KeyPair:        pair,
	}

	retired, err := deps.Store.RetireOldEntries(rid, issuedAt)
	if err != nil {
		// Old keys left behind are excess trust, not lost access. Report
		// loudly and keep going.
		warn := stepFail(StepRetire, rel, ErrRemoteCleanup, err)
		logging.Errorf("%v", warn)
		result.Warnings = append(result.Warnings, warn)
	} else {
		result.Retired = retired
		if retired > 0 {
			logging.Infof("retired %d stale key(s) for relationship %s on %s", retired, rid, rel)
		}
	}

	if err := deps.LocalConfig.UpsertHostIdentity(rel.RemoteHost, rel.RemoteUser, pair.PrivateKeyPath); err != nil {
		warn := stepFail(StepUpdateConfig, rel, ErrLocalConfig, err)
		logging.Errorf("%v", warn)
		result.Warnings = append(result.Warnings, warn)
	}

	return result, nil
}
