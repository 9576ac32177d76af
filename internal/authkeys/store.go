// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.

package authkeys

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/sftp"

	"github.com/toeirei/keyturn/internal/metadata"
	"github.com/toeirei/keyturn/internal/sshkey"
)

const (
	sshDirPath         = ".ssh"
	authKeysPath       = ".ssh/authorized_keys"
	authKeysBackup     = ".ssh/authorized_keys.keyturn.bak"
	authKeysTmpPattern = ".ssh/authorized_keys.keyturn.%d"
)

// remoteFS is the slice of remote filesystem operations the store
// needs. *sftp.Client is wrapped into it at connection time; tests
// substitute an in-memory implementation. Rename atomically replaces
// newPath, overwriting it when it already exists.
type remoteFS interface {
	Mkdir(path string) error
	Chmod(path string, mode os.FileMode) error
	Stat(path string) (os.FileInfo, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, mode os.FileMode) error
	AppendFile(path string, data []byte) error
	Rename(oldPath, newPath string) error
	Remove(path string) error
}

// Store edits the remote account's authorized_keys file. It is the only
// code in Keyturn that writes to the remote host.
type Store struct {
	fs remoteFS
}

// NewStore returns a Store operating through the client's SFTP session.
// This uses a pure-SFTP method to be compatible with restricted keys
// (e.g., command="internal-sftp").
func NewStore(c *Client) *Store {
	return &Store{fs: sftpFS{clientConn{c.sftp}}}
}

// newStoreWithFS is the test seam.
func newStoreWithFS(fs remoteFS) *Store {
	return &Store{fs: fs}
}

// EnsureBootstrap idempotently creates the remote .ssh directory (0700)
// and an empty authorized_keys file (0600) when either is missing.
func (s *Store) EnsureBootstrap() error {
	_ = s.fs.Mkdir(sshDirPath) // Ignore error if it already exists.
	if err := s.fs.Chmod(sshDirPath, 0700); err != nil {
		return fmt.Errorf("failed to chmod remote .ssh directory: %w", err)
	}
	if _, err := s.fs.Stat(authKeysPath); err != nil {
		if err := s.fs.WriteFile(authKeysPath, nil, 0600); err != nil {
			return fmt.Errorf("failed to create remote authorized_keys: %w", err)
		}
	}
	if err := s.fs.Chmod(authKeysPath, 0600); err != nil {
		return fmt.Errorf("failed to chmod remote authorized_keys: %w", err)
	}
	return nil
}

// AppendKey appends one public key line to authorized_keys without
// touching or reordering any existing entry.
func (s *Store) AppendKey(line string) error {
	if err := s.fs.AppendFile(authKeysPath, []byte(strings.TrimSpace(line)+"\n")); err != nil {
		return fmt.Errorf("failed to append key to remote authorized_keys: %w", err)
	}
	return nil
}

// RetireOldEntries removes every entry tagged with the given
// relationship except the issuance identified by keepIssuedAt. All
// other lines, including foreign keys and unparseable text, are
// preserved verbatim in their original order. The rewrite goes through
// a temporary file and a rename, so readers never observe a
// half-written authorized_keys, and the pre-edit state is kept at
// authorized_keys.keyturn.bak for manual recovery.
func (s *Store) RetireOldEntries(relationshipID string, keepIssuedAt int64) (int, error) {
	data, err := s.fs.ReadFile(authKeysPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read remote authorized_keys: %w", err)
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	kept, removed := FilterRetired(lines, relationshipID, keepIssuedAt)
	if removed == 0 {
		return 0, nil
	}

	if err := s.fs.WriteFile(authKeysBackup, data, 0600); err != nil {
		return 0, fmt.Errorf("failed to write authorized_keys backup: %w", err)
	}

	tmpPath := fmt.Sprintf(authKeysTmpPattern, time.Now().UnixNano())
	if err := s.fs.WriteFile(tmpPath, []byte(strings.Join(kept, "\n")), 0600); err != nil {
		_ = s.fs.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write temporary authorized_keys: %w", err)
	}
	if err := s.fs.Rename(tmpPath, authKeysPath); err != nil {
		_ = s.fs.Remove(tmpPath)
		return 0, fmt.Errorf("failed to atomically replace authorized_keys: %w", err)
	}
	return removed, nil
}

// FilterRetired is the pure retirement filter: it returns the lines to
// keep and the number of entries dropped. A line is dropped only when
// it parses as a key entry, its comment is a valid Keyturn tag for the
// relationship, and it is not the issuance being kept.
func FilterRetired(lines []string, relationshipID string, keepIssuedAt int64) (kept []string, removed int) {
	kept = make([]string, 0, len(lines))
	for _, line := range lines {
		entry, err := sshkey.ParseEntry(line)
		if err != nil {
			// Blank lines, comments, unparseable text: not ours to judge.
			kept = append(kept, line)
			continue
		}
		if metadata.MatchesRelationship(entry.Comment, relationshipID) &&
			!metadata.IsSameIssuance(entry.Comment, relationshipID, keepIssuedAt) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	return kept, removed
}

// ReadAll returns the raw authorized_keys content, mainly for
// diagnostics.
func (s *Store) ReadAll() ([]byte, error) {
	data, err := s.fs.ReadFile(authKeysPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote authorized_keys: %w", err)
	}
	return data, nil
}

// sftpConn is the slice of *sftp.Client the adapter talks to. Wrapping
// the client behind it lets tests verify wire-level behavior (rename
// strategy, permission ordering) without a live SFTP server.
type sftpConn interface {
	Mkdir(path string) error
	Chmod(path string, mode os.FileMode) error
	Stat(path string) (os.FileInfo, error)
	PosixRename(oldPath, newPath string) error
	Rename(oldPath, newPath string) error
	Remove(path string) error
	OpenRead(path string) (io.ReadCloser, error)
	CreateWrite(path string) (io.WriteCloser, error)
	OpenAppend(path string) (io.WriteCloser, error)
}

// sftpFS adapts an SFTP connection to the remoteFS interface.
type sftpFS struct {
	c sftpConn
}

func (s sftpFS) Mkdir(path string) error                { return s.c.Mkdir(path) }
func (s sftpFS) Chmod(path string, m os.FileMode) error { return s.c.Chmod(path, m) }
func (s sftpFS) Stat(path string) (os.FileInfo, error)  { return s.c.Stat(path) }
func (s sftpFS) Remove(path string) error               { return s.c.Remove(path) }

// Rename replaces newPath atomically. A plain SSH_FXP_RENAME is refused
// by OpenSSH's sftp-server when the target exists, and authorized_keys
// always exists at retire time, so the posix-rename@openssh.com
// extension (which overwrites) is tried first. The plain rename is only
// a fallback for servers that lack the extension.
func (s sftpFS) Rename(oldPath, newPath string) error {
	err := s.c.PosixRename(oldPath, newPath)
	if err == nil {
		return nil
	}
	var status *sftp.StatusError
	if errors.As(err, &status) && status.FxCode() == sftp.ErrSSHFxOpUnsupported {
		return s.c.Rename(oldPath, newPath)
	}
	return err
}

func (s sftpFS) ReadFile(path string) ([]byte, error) {
	f, err := s.c.OpenRead(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s sftpFS) WriteFile(path string, data []byte, mode os.FileMode) error {
	f, err := s.c.CreateWrite(path)
	if err != nil {
		return err
	}
	// Restrict permissions before any content lands in the file; the
	// SFTP open call cannot carry a mode, so the file briefly exists
	// empty with the server's default.
	if err := s.c.Chmod(path, mode); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s sftpFS) AppendFile(path string, data []byte) error {
	f, err := s.c.OpenAppend(path)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// clientConn adapts *sftp.Client to sftpConn.
type clientConn struct {
	c *sftp.Client
}

func (c clientConn) Mkdir(path string) error                { return c.c.Mkdir(path) }
func (c clientConn) Chmod(path string, m os.FileMode) error { return c.c.Chmod(path, m) }
func (c clientConn) Stat(path string) (os.FileInfo, error)  { return c.c.Stat(path) }
func (c clientConn) PosixRename(o, n string) error          { return c.c.PosixRename(o, n) }
func (c clientConn) Rename(o, n string) error               { return c.c.Rename(o, n) }
func (c clientConn) Remove(path string) error               { return c.c.Remove(path) }

func (c clientConn) OpenRead(path string) (io.ReadCloser, error) {
	return c.c.Open(path)
}

func (c clientConn) CreateWrite(path string) (io.WriteCloser, error) {
	return c.c.Create(path)
}

func (c clientConn) OpenAppend(path string) (io.WriteCloser, error) {
	return c.c.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE)
}
