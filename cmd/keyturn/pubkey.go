// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"github.com/toeirei/keyturn/internal/i18n"
	"github.com/toeirei/keyturn/internal/journal"
	"github.com/toeirei/keyturn/internal/metadata"
)

// pubkeyCmd represents the 'pubkey' command. It prints the public key
// line of the newest successful rotation for a relationship, ready to
// paste into an authorized_keys file somewhere else.
var pubkeyCmd = &cobra.Command{
	Use:   "pubkey",
	Short: "Print the current public key for a relationship",
	Long: `Prints the authorized_keys line of the most recent successful rotation
for --user at --host, including its identity comment. With --copy the
line is also placed on the system clipboard.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		remoteUser, _ := cmd.Flags().GetString("user")
		remoteHost, _ := cmd.Flags().GetString("host")
		if remoteUser == "" || remoteHost == "" {
			return fmt.Errorf("both --user and --host are required")
		}

		rel, err := localRelationship(remoteUser, remoteHost)
		if err != nil {
			return fmt.Errorf("%s", i18n.T("rotate.cli_error_principal", err))
		}
		rid := metadata.ComputeRelationshipID(rel.LocalUser, rel.LocalHost, rel.RemoteUser, rel.RemoteHost)

		rec, err := journal.Latest(cmd.Context(), rid)
		if err != nil {
			return fmt.Errorf("%s", i18n.T("history.cli_error", err))
		}
		if rec == nil {
			fmt.Println(i18n.T("pubkey.cli_none", rel.String()))
			return nil
		}

		fmt.Println(rec.PublicKeyLine)

		if doCopy, _ := cmd.Flags().GetBool("copy"); doCopy {
			if err := clipboard.WriteAll(rec.PublicKeyLine); err != nil {
				return fmt.Errorf("%s", i18n.T("pubkey.cli_error_clipboard", err))
			}
			fmt.Println(i18n.T("pubkey.cli_copied"))
		}
		return nil
	},
}

func init() {
	pubkeyCmd.Flags().Bool("copy", false, "Also copy the public key to the clipboard")
}
