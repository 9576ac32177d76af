// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.

// package metadata encodes and decodes the identity tag Keyturn embeds
// in the comment field of every key it issues. The tag is what lets a
// later rotation find its own older keys inside a shared, hand-edited
// authorized_keys file without touching anything else.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// tagPrefix marks a comment as a Keyturn identity tag.
const tagPrefix = "keyturn"

// relationshipIDLen is the number of hex characters kept from the
// fingerprint digest. 16 chars (64 bits) keeps the tag short while
// making accidental collisions between unrelated endpoint pairs
// vanishingly unlikely; this is identification, not security.
const relationshipIDLen = 16

// Tag is the parsed form of an embedded identity tag.
type Tag struct {
	ToolVersion    string
	RelationshipID string
	IssuedAt       int64
}

// Encode renders a tag as a single comment-safe token with fixed field
// order and no whitespace: keyturn:v=<version>:r=<rid>:t=<unix>.
func Encode(toolVersion, relationshipID string, issuedAt int64) string {
	return fmt.Sprintf("%s:v=%s:r=%s:t=%d", tagPrefix, toolVersion, relationshipID, issuedAt)
}

// Parse decodes a comment string into a Tag. Foreign or malformed
// comments return an error; callers treating the error as "not ours"
// is the intended use.
func Parse(comment string) (Tag, error) {
	var tag Tag
	comment = strings.TrimSpace(comment)
	parts := strings.Split(comment, ":")
	if len(parts) != 4 || parts[0] != tagPrefix {
		return tag, fmt.Errorf("not a keyturn tag: %q", comment)
	}

	version, ok := strings.CutPrefix(parts[1], "v=")
	if !ok || version == "" {
		return tag, fmt.Errorf("malformed version field in tag: %q", comment)
	}
	rid, ok := strings.CutPrefix(parts[2], "r=")
	if !ok || rid == "" {
		return tag, fmt.Errorf("malformed relationship field in tag: %q", comment)
	}
	rawTS, ok := strings.CutPrefix(parts[3], "t=")
	if !ok {
		return tag, fmt.Errorf("malformed timestamp field in tag: %q", comment)
	}
	issuedAt, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return tag, fmt.Errorf("failed to parse tag timestamp %q: %w", rawTS, err)
	}

	tag.ToolVersion = version
	tag.RelationshipID = rid
	tag.IssuedAt = issuedAt
	return tag, nil
}

// MatchesRelationship reports whether the comment is a valid Keyturn
// tag for the given relationship, regardless of the tool version or
// issuance timestamp. Rotation must retire keys issued by any prior
// version of the tool, so only the relationship id is compared.
func MatchesRelationship(comment, relationshipID string) bool {
	tag, err := Parse(comment)
	if err != nil {
		return false
	}
	return tag.RelationshipID == relationshipID
}

// IsSameIssuance reports whether the comment identifies exactly the
// given issuance of the given relationship. Cleanup uses this to make
// itself self-exclusive: the key just installed is never deleted.
func IsSameIssuance(comment, relationshipID string, issuedAt int64) bool {
	tag, err := Parse(comment)
	if err != nil {
		return false
	}
	return tag.RelationshipID == relationshipID && tag.IssuedAt == issuedAt
}

// ComputeRelationshipID returns the stable fingerprint of the
// (local user, local host, remote user, remote host) tuple. The same
// tuple always yields the same id, across invocations and across
// machines running different Keyturn versions.
func ComputeRelationshipID(localUser, localHost, remoteUser, remoteHost string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{localUser, localHost, remoteUser, remoteHost}, " ")))
	return hex.EncodeToString(sum[:])[:relationshipIDLen]
}
