// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.
package sshkey

import "testing"

func TestParseEntry_NormalLine(t *testing.T) {
	line := "ssh-rsa AAAAB3NzaC1yc2EAAAADAQABAAABAQC3 keyturn:v=1.0.0:r=deadbeefdeadbeef:t=1700000000"
	entry, err := ParseEntry(line)
	if err != nil {
		t.Fatalf("ParseEntry failed: %v", err)
	}
	if entry.Algorithm != "ssh-rsa" {
		t.Fatalf("unexpected algorithm: %s", entry.Algorithm)
	}
	if entry.KeyData == "" {
		t.Fatalf("empty key data")
	}
	if entry.Comment != "keyturn:v=1.0.0:r=deadbeefdeadbeef:t=1700000000" {
		t.Fatalf("unexpected comment: %s", entry.Comment)
	}
	if entry.Options != "" {
		t.Fatalf("unexpected options: %s", entry.Options)
	}
}

func TestParseEntry_WithOptions(t *testing.T) {
	line := "no-agent-forwarding,command=\"echo hi\" ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIBk comment here"
	entry, err := ParseEntry(line)
	if err != nil {
		t.Fatalf("ParseEntry failed: %v", err)
	}
	if entry.Algorithm != "ssh-ed25519" {
		t.Fatalf("unexpected algorithm: %s", entry.Algorithm)
	}
	if entry.Options != "no-agent-forwarding,command=\"echo hi\"" {
		t.Fatalf("unexpected options: %s", entry.Options)
	}
	if entry.Comment != "comment here" {
		t.Fatalf("unexpected comment: %s", entry.Comment)
	}
}

func TestParseEntry_RawPreserved(t *testing.T) {
	line := "  ssh-ed25519 AAAAC3NzaC1lZDI1NTE5AAAAIBk trailing "
	entry, err := ParseEntry(line)
	if err != nil {
		t.Fatalf("ParseEntry failed: %v", err)
	}
	if entry.Raw != line {
		t.Fatalf("raw line was modified: %q", entry.Raw)
	}
}

func TestParseEntry_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"hash comment", "# a comment line"},
		{"no key type", "just-some-text"},
		{"algorithm without data", "ssh-ed25519"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseEntry(tt.line); err == nil {
				t.Fatalf("expected error for %q", tt.line)
			}
		})
	}
}
