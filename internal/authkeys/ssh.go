// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.

// package authkeys manages the authorized_keys file of one account on a
// remote host over SSH/SFTP. All edits preserve foreign entries
// verbatim; only entries carrying a Keyturn tag for the relationship
// being rotated are ever touched.
package authkeys

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// dialTimeout bounds the TCP/SSH handshake for every connection.
const dialTimeout = 10 * time.Second

// Client is an authenticated SSH+SFTP connection to the remote account
// whose authorized_keys file is being rotated.
type Client struct {
	client *ssh.Client
	sftp   *sftp.Client
}

// HostKeyCallback returns the host key verification policy. With
// insecure set, verification is disabled entirely (first-contact
// bootstrap); otherwise the given known_hosts file is authoritative.
func HostKeyCallback(knownHostsPath string, insecure bool) (ssh.HostKeyCallback, error) {
	if insecure {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s: %w", knownHostsPath, err)
	}
	return cb, nil
}

// NewClient opens an SSH connection to user@host for provisioning. If
// identityFile is set, that key is tried first; on an authentication
// failure the local SSH agent is tried as a fallback. Any other dial
// error fails fast.
func NewClient(host, user, identityFile, passphrase string, hostKeyCallback ssh.HostKeyCallback) (*Client, error) {
	addr := withDefaultPort(host)

	var finalErr error
	if identityFile != "" {
		signer, err := loadSigner(identityFile, passphrase)
		if err != nil {
			return nil, err
		}

		config := &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         dialTimeout,
		}

		client, err := ssh.Dial("tcp", addr, config)
		if err == nil {
			return newClient(client)
		}
		// If the error was not an auth failure, we should fail fast.
		if !strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("connection with identity %s failed: %w", identityFile, err)
		}
		finalErr = err
	}

	agentClient := getSSHAgent()
	if agentClient == nil {
		if finalErr != nil {
			return nil, fmt.Errorf("identity authentication failed, and no SSH agent available for fallback: %w", finalErr)
		}
		return nil, fmt.Errorf("no authentication method available (no identity file provided and no ssh agent found)")
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(agentClient.Signers)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}

	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("connection with ssh agent failed: %w", err)
	}
	return newClient(client)
}

func newClient(client *ssh.Client) (*Client, error) {
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	return &Client{client: client, sftp: sftpClient}, nil
}

// Close closes the underlying SSH and SFTP clients.
func (c *Client) Close() {
	if c.sftp != nil {
		c.sftp.Close()
	}
	if c.client != nil {
		c.client.Close()
	}
}

// ValidateKey opens a fresh session to user@host authenticated ONLY
// with the given private key, with no agent and no fallback. This is
// the rotation safety gate: old keys are retired only after the new
// one has proven it can open a session on its own.
func ValidateKey(host, user, privateKeyPath, passphrase string, hostKeyCallback ssh.HostKeyCallback) error {
	signer, err := loadSigner(privateKeyPath, passphrase)
	if err != nil {
		return err
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}

	client, err := ssh.Dial("tcp", withDefaultPort(host), config)
	if err != nil {
		return fmt.Errorf("new key could not authenticate to %s@%s: %w", user, host, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("new key authenticated but could not open a session: %w", err)
	}
	return session.Close()
}

// loadSigner reads and parses a private key file, decrypting it with
// the passphrase when one is given.
func loadSigner(path, passphrase string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %s: %w", path, err)
	}
	var signer ssh.Signer
	if passphrase == "" {
		signer, err = ssh.ParsePrivateKey(keyData)
	} else {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	}
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key %s: %w", path, err)
	}
	return signer, nil
}

// withDefaultPort adds port 22 if the host has none.
func withDefaultPort(host string) string {
	if _, _, err := net.SplitHostPort(host); err != nil {
		return net.JoinHostPort(host, "22")
	}
	return host
}
