// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.

// package sshkey parses single authorized_keys entries. Keyturn never
// rewrites an entry it parsed; the parsed form is only used to read the
// comment field, so the raw line can always be preserved verbatim.
package sshkey

import (
	"fmt"
	"strings"
)

// Entry is one parsed authorized_keys line.
type Entry struct {
	// Options holds any leading option list (e.g. from="...",no-pty),
	// empty when the line starts directly with the algorithm.
	Options   string
	Algorithm string
	KeyData   string
	Comment   string
	// Raw is the original line, unmodified.
	Raw string
}

// ParseEntry splits a raw authorized_keys line into its components.
// It handles leading options in the line (e.g. from="...",command="...").
// Blank lines and comment lines return an error; callers keep such
// lines verbatim.
func ParseEntry(line string) (Entry, error) {
	entry := Entry{Raw: line}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return entry, fmt.Errorf("empty line")
	}
	if strings.HasPrefix(fields[0], "#") {
		return entry, fmt.Errorf("comment line")
	}

	keyStart := -1
	for i, field := range fields {
		if isKeyAlgorithm(field) {
			keyStart = i
			break
		}
	}
	if keyStart == -1 {
		return entry, fmt.Errorf("no valid SSH key type found in line")
	}
	if len(fields) < keyStart+2 {
		return entry, fmt.Errorf("invalid public key format: missing key data after algorithm")
	}

	if keyStart > 0 {
		entry.Options = strings.Join(fields[:keyStart], " ")
	}
	entry.Algorithm = fields[keyStart]
	entry.KeyData = fields[keyStart+1]
	if len(fields) > keyStart+2 {
		entry.Comment = strings.Join(fields[keyStart+2:], " ")
	}
	return entry, nil
}

// isKeyAlgorithm reports whether a field looks like an SSH public key
// algorithm identifier.
func isKeyAlgorithm(field string) bool {
	return strings.HasPrefix(field, "ssh-") ||
		strings.HasPrefix(field, "ecdsa-") ||
		strings.HasPrefix(field, "sk-")
}
