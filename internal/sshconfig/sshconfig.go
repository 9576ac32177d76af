// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.

// package sshconfig upserts the IdentityFile of one host stanza in the
// local OpenSSH client configuration. Edits are surgical: every other
// field and stanza is preserved byte for byte. At most one
// authoritative stanza per host name is assumed; when two relationships
// share a host name with different remote users, the first stanza wins
// (a known limitation of this file format's keying).
package sshconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UpsertHostIdentity points the stanza for hostName at
// identityFilePath. A missing stanza is appended with Host, HostName,
// User and IdentityFile fields, plus a Port field when port names a
// non-default one; an existing stanza has only its IdentityFile line
// rewritten, everything else in it is left alone. The config file and
// its directory are created with restrictive permissions when absent.
// Re-running with the same arguments is a no-op.
func UpsertHostIdentity(path, hostName, remoteUser, identityFilePath string, port int) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	original := ""
	if data, err := os.ReadFile(path); err == nil {
		original = string(data)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read ssh config %s: %w", path, err)
	}

	updated := upsert(original, hostName, remoteUser, identityFilePath, port)
	if updated == original && original != "" {
		return nil
	}

	// Write through a temp file and rename so a reader never sees a
	// half-written config.
	tmpPath := path + ".keyturn.tmp"
	if err := writeRestricted(tmpPath, []byte(updated)); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace ssh config %s: %w", path, err)
	}
	return nil
}

// upsert performs the pure text transformation.
func upsert(content, hostName, remoteUser, identityFilePath string, port int) string {
	lines := strings.Split(content, "\n")
	start, end := findHostStanza(lines, hostName)
	if start == -1 {
		return appendStanza(content, hostName, remoteUser, identityFilePath, port)
	}

	for i := start + 1; i < end; i++ {
		indent, keyword, _ := splitDirective(lines[i])
		if strings.EqualFold(keyword, "IdentityFile") {
			lines[i] = indent + keyword + " " + identityFilePath
			return strings.Join(lines, "\n")
		}
	}

	// Stanza exists but has no IdentityFile line yet; insert one right
	// after the Host line.
	inserted := make([]string, 0, len(lines)+1)
	inserted = append(inserted, lines[:start+1]...)
	inserted = append(inserted, "    IdentityFile "+identityFilePath)
	inserted = append(inserted, lines[start+1:]...)
	return strings.Join(inserted, "\n")
}

// findHostStanza returns the line range [start, end) of the first
// stanza whose Host patterns include hostName, or start == -1.
func findHostStanza(lines []string, hostName string) (int, int) {
	start := -1
	for i, line := range lines {
		_, keyword, value := splitDirective(line)
		isHeader := strings.EqualFold(keyword, "Host") || strings.EqualFold(keyword, "Match")
		if start != -1 && isHeader {
			return start, i
		}
		if start == -1 && strings.EqualFold(keyword, "Host") {
			for _, pattern := range strings.Fields(value) {
				if pattern == hostName {
					start = i
					break
				}
			}
		}
	}
	if start != -1 {
		return start, len(lines)
	}
	return -1, -1
}

// splitDirective splits a config line into leading whitespace, keyword
// and value. Comment and blank lines return an empty keyword.
func splitDirective(line string) (indent, keyword, value string) {
	trimmed := strings.TrimLeft(line, " \t")
	indent = line[:len(line)-len(trimmed)]
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return indent, "", ""
	}
	fields := strings.Fields(trimmed)
	keyword = fields[0]
	if len(fields) > 1 {
		value = strings.Join(fields[1:], " ")
	}
	return indent, keyword, value
}

// appendStanza adds a fresh stanza for the host at the end of the file.
// The Port field is only written for non-default ports, so a later
// `ssh <host>` dials the same port the rotation validated against.
func appendStanza(content, hostName, remoteUser, identityFilePath string, port int) string {
	var b strings.Builder
	b.WriteString(content)
	if content != "" && !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	if content != "" {
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Host %s\n", hostName)
	fmt.Fprintf(&b, "    HostName %s\n", hostName)
	if port > 0 && port != 22 {
		fmt.Fprintf(&b, "    Port %d\n", port)
	}
	fmt.Fprintf(&b, "    User %s\n", remoteUser)
	fmt.Fprintf(&b, "    IdentityFile %s\n", identityFilePath)
	return b.String()
}

// writeRestricted creates path with owner-only permissions and writes
// data to it. The mode is set at creation time so the file is never
// visible with loose permissions.
func writeRestricted(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
