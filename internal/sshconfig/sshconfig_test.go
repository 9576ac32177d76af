// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.

package sshconfig

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestUpsertCreatesFileAndStanza(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ssh", "config")

	if err := UpsertHostIdentity(path, "server1", "bob", "~/.ssh/keyturn_abc_1", 0); err != nil {
		t.Fatalf("UpsertHostIdentity failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	content := string(data)
	for _, want := range []string{"Host server1", "HostName server1", "User bob", "IdentityFile ~/.ssh/keyturn_abc_1"} {
		if !strings.Contains(content, want) {
			t.Errorf("config missing %q:\n%s", want, content)
		}
	}

	if runtime.GOOS != "windows" {
		info, _ := os.Stat(path)
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("config mode = %o, want 0600", perm)
		}
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")

	for i := 0; i < 2; i++ {
		if err := UpsertHostIdentity(path, "server1", "bob", "/keys/new", 0); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}

	data, _ := os.ReadFile(path)
	if got := strings.Count(string(data), "Host server1"); got != 1 {
		t.Errorf("expected exactly one stanza, found %d:\n%s", got, string(data))
	}
}

func TestUpsertRewritesOnlyIdentityFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	initial := strings.Join([]string{
		"# personal hosts",
		"Host gateway",
		"    HostName gw.example.com",
		"    User admin",
		"    IdentityFile /keys/gateway",
		"",
		"Host server1",
		"    HostName server1.internal",
		"    User bob",
		"    Port 2222",
		"    IdentityFile /keys/old",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(initial), 0600); err != nil {
		t.Fatal(err)
	}

	if err := UpsertHostIdentity(path, "server1", "bob", "/keys/new", 0); err != nil {
		t.Fatalf("UpsertHostIdentity failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	content := string(data)

	if !strings.Contains(content, "    IdentityFile /keys/new") {
		t.Errorf("identity file not updated:\n%s", content)
	}
	if strings.Contains(content, "/keys/old") {
		t.Errorf("old identity path still present:\n%s", content)
	}
	// Everything else must be untouched.
	for _, want := range []string{"# personal hosts", "IdentityFile /keys/gateway", "HostName server1.internal", "    Port 2222"} {
		if !strings.Contains(content, want) {
			t.Errorf("unrelated content disturbed, missing %q:\n%s", want, content)
		}
	}
}

func TestUpsertAddsIdentityFileToBareStanza(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	initial := "Host server1\n    User bob\n"
	if err := os.WriteFile(path, []byte(initial), 0600); err != nil {
		t.Fatal(err)
	}

	if err := UpsertHostIdentity(path, "server1", "bob", "/keys/new", 0); err != nil {
		t.Fatalf("UpsertHostIdentity failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	content := string(data)
	if !strings.Contains(content, "IdentityFile /keys/new") {
		t.Errorf("identity file not inserted:\n%s", content)
	}
	if strings.Count(content, "Host server1") != 1 {
		t.Errorf("stanza duplicated:\n%s", content)
	}
}

func TestUpsertAppendsNewStanzaAfterExistingOnes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	initial := "Host gateway\n    IdentityFile /keys/gateway\n"
	if err := os.WriteFile(path, []byte(initial), 0600); err != nil {
		t.Fatal(err)
	}

	if err := UpsertHostIdentity(path, "server1", "bob", "/keys/new", 0); err != nil {
		t.Fatalf("UpsertHostIdentity failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	content := string(data)
	if !strings.HasPrefix(content, "Host gateway") {
		t.Errorf("existing stanza no longer first:\n%s", content)
	}
	if !strings.Contains(content, "Host server1") {
		t.Errorf("new stanza missing:\n%s", content)
	}
}

func TestUpsertWritesPortForNonDefaultPort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")

	if err := UpsertHostIdentity(path, "server1", "bob", "/keys/new", 2222); err != nil {
		t.Fatalf("UpsertHostIdentity failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	content := string(data)
	if !strings.Contains(content, "    Port 2222\n") {
		t.Errorf("non-default port missing from fresh stanza:\n%s", content)
	}
	// The port belongs with the host, not dangling at the end.
	if strings.Index(content, "Port 2222") > strings.Index(content, "IdentityFile") {
		t.Errorf("Port written after IdentityFile:\n%s", content)
	}
}

func TestUpsertOmitsPortForDefaultPort(t *testing.T) {
	dir := t.TempDir()

	for _, port := range []int{0, 22} {
		path := filepath.Join(dir, "config")
		if err := os.RemoveAll(path); err != nil {
			t.Fatal(err)
		}
		if err := UpsertHostIdentity(path, "server1", "bob", "/keys/new", port); err != nil {
			t.Fatalf("port %d: UpsertHostIdentity failed: %v", port, err)
		}
		data, _ := os.ReadFile(path)
		if strings.Contains(string(data), "Port") {
			t.Errorf("port %d: unexpected Port line:\n%s", port, string(data))
		}
	}
}

func TestUpsertMatchesExactHostToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	initial := "Host server10\n    IdentityFile /keys/other\n"
	if err := os.WriteFile(path, []byte(initial), 0600); err != nil {
		t.Fatal(err)
	}

	if err := UpsertHostIdentity(path, "server1", "bob", "/keys/new", 0); err != nil {
		t.Fatalf("UpsertHostIdentity failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	content := string(data)
	if !strings.Contains(content, "IdentityFile /keys/other") {
		t.Errorf("prefix-similar host stanza was modified:\n%s", content)
	}
	if !strings.Contains(content, "Host server1\n") {
		t.Errorf("new stanza for server1 missing:\n%s", content)
	}
}
