// Copyright 2026 The Periscope Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/crypto/ssh"
)

// Config describes how tunnel processes are spawned. The zero value is
// not usable; fill from lib/config or construct explicitly in tests.
type Config struct {
	// Binary is the ssh executable. Tests substitute a stub script
	// that mimics the exit behavior under test.
	Binary string

	// User is the login user on the device.
	User string

	// KeyPath is the bundled private key. Empty means no -i flag:
	// ssh falls back to its own identity resolution. When set, the
	// key is parsed locally before spawning so an unreadable or
	// corrupt key fails fast with a clear error instead of an opaque
	// ssh exit status.
	KeyPath string

	// ControlPort is the device's ssh port (22 in production).
	ControlPort int

	// DisplayPort is the fixed port of the display server on the
	// device (5900 in production).
	DisplayPort int
}

// ValidateKey parses the private key at path. Any parseable OpenSSH or
// PEM private key is accepted; passphrase-protected keys are rejected
// because the tunnel process runs non-interactively.
func ValidateKey(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading private key: %w", err)
	}
	if _, err := ssh.ParsePrivateKey(data); err != nil {
		return fmt.Errorf("parsing private key %s: %w", path, err)
	}
	return nil
}

// args builds the ssh argument list that forwards forwardPort on the
// loopback interface to the device's display port. The tunnel blocks
// without a remote command (-N), fails rather than prompting
// (BatchMode), and treats a refused forward as fatal
// (ExitOnForwardFailure) so the supervisor's exit watch fires instead
// of the process lingering uselessly. Host key checking is disabled:
// devices are re-imaged constantly and their host keys churn; the
// bundled key authenticates us to the device, and verifying the
// device is out of scope.
func (c Config) args(hostname string, forwardPort int) []string {
	arguments := []string{
		"-N",
		"-o", "StrictHostKeyChecking=no",
		"-o", "UserKnownHostsFile=/dev/null",
		"-o", "BatchMode=yes",
		"-o", "ExitOnForwardFailure=yes",
		"-p", strconv.Itoa(c.ControlPort),
		"-L", fmt.Sprintf("127.0.0.1:%d:127.0.0.1:%d", forwardPort, c.DisplayPort),
	}
	if c.KeyPath != "" {
		arguments = append(arguments, "-i", c.KeyPath)
	}
	arguments = append(arguments, c.User+"@"+hostname)
	return arguments
}
