// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/toeirei/keyturn/internal/keygen"
	"github.com/toeirei/keyturn/internal/model"
	"github.com/toeirei/keyturn/internal/rotate"
)

func findSubcommand(root *cobra.Command, name string) *cobra.Command {
	for _, c := range root.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// TestRootCmd_Subcommands verifies the expected subcommands are wired in.
func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"history", "pubkey", "backup", "restore"} {
		if findSubcommand(cmd, name) == nil {
			t.Errorf("subcommand %q not found", name)
		}
	}
	if cmd.Version == "" {
		t.Errorf("root command has no version set")
	}
}

// TestRootCmd_Flags verifies the rotation flags exist with their defaults.
func TestRootCmd_Flags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"user", "host", "config", "db-type", "db-dsn", "lang", "verbose"} {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("persistent flag %q not found", name)
		}
	}
	for _, name := range []string{"port", "algorithm", "bits", "passphrase", "identity", "known-hosts", "insecure-host-key", "ssh-config", "no-retire"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("flag %q not found", name)
		}
	}
}

func TestOutcomeString(t *testing.T) {
	rel := model.Relationship{LocalUser: "alice", LocalHost: "laptop", RemoteUser: "deploy", RemoteHost: "server"}
	stepErr := &rotate.StepError{Step: rotate.StepValidate, Relationship: rel, Err: fmt.Errorf("%w: no session", rotate.ErrValidation)}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"success", nil, "rotated"},
		{"step failure", stepErr, "failed:validate"},
		{"wrapped step failure", fmt.Errorf("outer: %w", stepErr), "failed:validate"},
		{"plain failure", errors.New("boom"), "failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := outcomeString(tt.err); got != tt.want {
				t.Errorf("outcomeString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestJoinWarnings(t *testing.T) {
	if got := joinWarnings(nil); got != "" {
		t.Errorf("joinWarnings(nil) = %q, want empty", got)
	}
	got := joinWarnings([]error{errors.New("first"), errors.New("second")})
	if got != "first; second" {
		t.Errorf("joinWarnings() = %q", got)
	}
}

func TestHasConfigWarning(t *testing.T) {
	rel := model.Relationship{RemoteUser: "deploy", RemoteHost: "server"}
	configWarn := &rotate.StepError{Step: rotate.StepUpdateConfig, Relationship: rel, Err: fmt.Errorf("%w: denied", rotate.ErrLocalConfig)}
	retireWarn := &rotate.StepError{Step: rotate.StepRetire, Relationship: rel, Err: fmt.Errorf("%w: lost", rotate.ErrRemoteCleanup)}

	if hasConfigWarning([]error{retireWarn}) {
		t.Errorf("retire warning misidentified as config warning")
	}
	if !hasConfigWarning([]error{retireWarn, configWarn}) {
		t.Errorf("config warning not detected")
	}
}

// TestKeepAllStore verifies --no-retire suppresses retirement while
// the embedded store handles everything else.
func TestKeepAllStore(t *testing.T) {
	s := keepAllStore{nil}
	n, err := s.RetireOldEntries("6a5f2b9c01d3e7f4", 1700000000)
	if err != nil || n != 0 {
		t.Errorf("RetireOldEntries() = (%d, %v), want (0, nil)", n, err)
	}
}

func TestAlgorithmLabel(t *testing.T) {
	if got := algorithmLabel(keygen.AlgorithmRSA, 4096); got != "rsa-4096" {
		t.Errorf("algorithmLabel(rsa, 4096) = %q", got)
	}
	if got := algorithmLabel(keygen.AlgorithmEd25519, 0); got != keygen.AlgorithmEd25519 {
		t.Errorf("algorithmLabel(ed25519, 0) = %q", got)
	}
}

// TestRenderHistoryTable checks that the table carries the record data.
func TestRenderHistoryTable(t *testing.T) {
	records := []model.RotationRecord{
		{RemoteUser: "deploy", RemoteHost: "web01", Algorithm: "ed25519", IssuedAt: 1700000000, Outcome: "rotated"},
	}
	out := renderHistoryTable(records)
	for _, want := range []string{"deploy@web01", "ed25519", "rotated", "TARGET"} {
		if !strings.Contains(out, want) {
			t.Errorf("history table missing %q:\n%s", want, out)
		}
	}
}
