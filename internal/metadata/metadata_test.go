// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.

package metadata

import (
	"strings"
	"testing"
)

func TestComputeRelationshipIDDeterministic(t *testing.T) {
	a := ComputeRelationshipID("alice", "laptop", "bob", "server1")
	b := ComputeRelationshipID("alice", "laptop", "bob", "server1")
	if a != b {
		t.Errorf("expected identical ids for identical tuples, got %q and %q", a, b)
	}
	if len(a) != relationshipIDLen {
		t.Errorf("expected id length %d, got %d", relationshipIDLen, len(a))
	}
}

func TestComputeRelationshipIDDistinguishesTuples(t *testing.T) {
	base := ComputeRelationshipID("alice", "laptop", "bob", "server1")
	variants := [][4]string{
		{"alice2", "laptop", "bob", "server1"},
		{"alice", "laptop2", "bob", "server1"},
		{"alice", "laptop", "bob2", "server1"},
		{"alice", "laptop", "bob", "server2"},
	}
	for _, v := range variants {
		if got := ComputeRelationshipID(v[0], v[1], v[2], v[3]); got == base {
			t.Errorf("tuple %v produced the same id as the base tuple", v)
		}
	}
}

func TestEncodeIsCommentSafe(t *testing.T) {
	tag := Encode("1.2.3", "deadbeefdeadbeef", 1700000000)
	if strings.ContainsAny(tag, " \t\r\n") {
		t.Errorf("encoded tag contains whitespace: %q", tag)
	}
	if !strings.HasPrefix(tag, "keyturn:") {
		t.Errorf("encoded tag missing prefix: %q", tag)
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	tests := []struct {
		version  string
		rid      string
		issuedAt int64
	}{
		{"0.1.0", "0123456789abcdef", 0},
		{"1.0.0", "deadbeefdeadbeef", 1700000000},
		{"2.3.4-rc1", "cafebabecafebabe", 9999999999},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			encoded := Encode(tt.version, tt.rid, tt.issuedAt)
			tag, err := Parse(encoded)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", encoded, err)
			}
			if tag.ToolVersion != tt.version || tag.RelationshipID != tt.rid || tag.IssuedAt != tt.issuedAt {
				t.Errorf("round trip mismatch: got %+v", tag)
			}
			if !MatchesRelationship(encoded, tt.rid) {
				t.Errorf("MatchesRelationship(%q, %q) = false, want true", encoded, tt.rid)
			}
		})
	}
}

func TestMatchesRelationshipRejectsForeignComments(t *testing.T) {
	rid := ComputeRelationshipID("alice", "laptop", "bob", "server1")
	tests := []struct {
		name    string
		comment string
	}{
		{"empty", ""},
		{"plain comment", "alice@laptop"},
		{"email-like", "someone@example.com"},
		{"other relationship", Encode("1.0.0", "ffffffffffffffff", 1700000000)},
		{"truncated tag", "keyturn:v=1.0.0:r=abc"},
		{"wrong prefix", "keychain:v=1.0.0:r=" + rid + ":t=1700000000"},
		{"garbage timestamp", "keyturn:v=1.0.0:r=" + rid + ":t=soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if MatchesRelationship(tt.comment, rid) {
				t.Errorf("MatchesRelationship(%q) = true, want false", tt.comment)
			}
		})
	}
}

func TestIsSameIssuance(t *testing.T) {
	rid := "0123456789abcdef"
	comment := Encode("1.0.0", rid, 1700000000)

	if !IsSameIssuance(comment, rid, 1700000000) {
		t.Error("expected exact issuance to match")
	}
	if IsSameIssuance(comment, rid, 1700000001) {
		t.Error("different timestamp must not match the same issuance")
	}
	if IsSameIssuance(comment, "ffffffffffffffff", 1700000000) {
		t.Error("different relationship must not match")
	}
	if IsSameIssuance("not a tag", rid, 1700000000) {
		t.Error("unparseable comment must not match")
	}
}

func TestMatchesAcrossToolVersions(t *testing.T) {
	// Cleanup intentionally ignores the tool version so that keys minted
	// by older releases are still retired.
	rid := "0123456789abcdef"
	old := Encode("0.1.0", rid, 1600000000)
	if !MatchesRelationship(old, rid) {
		t.Error("tag from an older tool version should still match the relationship")
	}
}
