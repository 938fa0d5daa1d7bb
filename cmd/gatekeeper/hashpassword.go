// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/credential"
)

// NewHashPasswordCmd creates the hash-password subcommand.
func NewHashPasswordCmd() *cobra.Command {
	var allowWeak bool

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin",
		Long: `Reads one line from stdin, checks it against the password policy, and
prints the argon2id hash record suitable for the identities table.

  printf '%s\n' "$PASSWORD" | gatekeeper hash-password`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHashPassword(cmd, credential.NewArgon2idHasher(), allowWeak)
		},
	}

	cmd.Flags().BoolVar(&allowWeak, "allow-weak", false, "hash even when the password violates the policy")

	return cmd
}

func runHashPassword(cmd *cobra.Command, hasher credential.Hasher, allowWeak bool) error {
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return oops.Code(credential.CodeInvalidInput).Errorf("no password on stdin")
	}
	password := strings.TrimRight(line, "\r\n")

	if result := credential.ScorePolicy(password); !result.Valid {
		if !allowWeak {
			return auth.ErrWeakPassword(result.Violations)
		}
		cmd.PrintErrf("warning: password violates policy: %s\n", strings.Join(result.Violations, "; "))
	}

	encoded, err := hasher.Hash(password)
	if err != nil {
		return err //nolint:wrapcheck // credential errors carry codes
	}
	_, _ = cmd.OutOrStdout().Write([]byte(encoded + "\n"))
	return nil
}
