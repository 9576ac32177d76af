// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.

// package keygen mints new SSH key pairs and persists them to local
// storage. File names embed the relationship id and the issuance
// timestamp, so two rotations can never collide on disk; an existing
// file at the target path is an error, never silently overwritten.
package keygen

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/toeirei/keyturn/internal/model"
)

// ErrKeyFileExists is returned when a key file already exists at the
// target path.
var ErrKeyFileExists = errors.New("key file already exists")

// Supported algorithm identifiers.
const (
	AlgorithmEd25519 = "ed25519"
	AlgorithmRSA     = "rsa"
)

// MinRSABits is the smallest accepted RSA modulus size.
const MinRSABits = 2048

// Generate creates a new key pair for the given relationship issuance
// and writes both halves into dir: the private key in OpenSSH PEM
// format with mode 0600, the public key as an authorized_keys line
// (including the comment) with mode 0644. If passphrase is non-empty
// the private key is encrypted with it.
func Generate(algorithm string, bits int, comment, passphrase, dir, relationshipID string, issuedAt int64) (*model.KeyPair, error) {
	signer, err := newPrivateKey(algorithm, bits)
	if err != nil {
		return nil, err
	}

	sshPubKey, err := ssh.NewPublicKey(signer.Public())
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}
	pubKeyBytes := ssh.MarshalAuthorizedKey(sshPubKey)
	publicKeyLine := fmt.Sprintf("%s %s\n", strings.TrimSpace(string(pubKeyBytes)), comment)

	var pemBlock *pem.Block
	if passphrase == "" {
		pemBlock, err = ssh.MarshalPrivateKey(signer, comment)
	} else {
		pemBlock, err = ssh.MarshalPrivateKeyWithPassphrase(signer, comment, []byte(passphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory %s: %w", dir, err)
	}

	privPath := filepath.Join(dir, fmt.Sprintf("keyturn_%s_%d", relationshipID, issuedAt))
	pubPath := privPath + ".pub"

	if err := writeExclusive(privPath, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		return nil, err
	}
	if err := writeExclusive(pubPath, []byte(publicKeyLine), 0644); err != nil {
		// Don't leave a half-written pair behind.
		_ = os.Remove(privPath)
		return nil, err
	}

	return &model.KeyPair{
		Algorithm:      algorithm,
		Bits:           bits,
		PrivateKeyPath: privPath,
		PublicKeyPath:  pubPath,
		PublicKeyLine:  strings.TrimSpace(publicKeyLine),
		IssuedAt:       issuedAt,
	}, nil
}

// newPrivateKey generates the raw key material for the requested
// algorithm. Bits is only meaningful for RSA.
func newPrivateKey(algorithm string, bits int) (crypto.Signer, error) {
	switch algorithm {
	case AlgorithmEd25519:
		_, privKey, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
		}
		return privKey, nil
	case AlgorithmRSA:
		if bits < MinRSABits {
			return nil, fmt.Errorf("rsa key size %d is below the minimum of %d bits", bits, MinRSABits)
		}
		privKey, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate rsa key pair: %w", err)
		}
		return privKey, nil
	default:
		return nil, fmt.Errorf("unsupported key algorithm %q", algorithm)
	}
}

// writeExclusive creates path with the given mode and writes data to it.
// The mode is set at creation time, so a private key is never visible
// with loose permissions, and an existing file is reported as
// ErrKeyFileExists rather than overwritten.
func writeExclusive(path string, data []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrKeyFileExists, path)
		}
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
