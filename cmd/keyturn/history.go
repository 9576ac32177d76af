// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/toeirei/keyturn/internal/i18n"
	"github.com/toeirei/keyturn/internal/journal"
	"github.com/toeirei/keyturn/internal/keygen"
	"github.com/toeirei/keyturn/internal/metadata"
	"github.com/toeirei/keyturn/internal/model"
)

// historyCmd represents the 'history' command. It lists past rotations
// from the journal, newest first, optionally narrowed to one
// relationship via --user and --host.
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded rotations",
	Long: `Lists the rotations recorded in the local journal, newest first.
With --user and --host, only rotations for that relationship are shown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		remoteUser, _ := cmd.Flags().GetString("user")
		remoteHost, _ := cmd.Flags().GetString("host")

		var records []model.RotationRecord
		var err error
		if remoteUser != "" && remoteHost != "" {
			rel, relErr := localRelationship(remoteUser, remoteHost)
			if relErr != nil {
				return fmt.Errorf("%s", i18n.T("rotate.cli_error_principal", relErr))
			}
			rid := metadata.ComputeRelationshipID(rel.LocalUser, rel.LocalHost, rel.RemoteUser, rel.RemoteHost)
			records, err = journal.ForRelationship(cmd.Context(), rid, limit)
		} else {
			records, err = journal.List(cmd.Context(), limit)
		}
		if err != nil {
			return fmt.Errorf("%s", i18n.T("history.cli_error", err))
		}
		if len(records) == 0 {
			fmt.Println(i18n.T("history.cli_empty"))
			return nil
		}

		fmt.Println(renderHistoryTable(records))
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Maximum number of rotations to show (0 for all)")
}

// renderHistoryTable formats journal records as a bordered table.
func renderHistoryTable(records []model.RotationRecord) string {
	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	borderStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("WHEN", "TARGET", "ALGORITHM", "OUTCOME")

	for _, rec := range records {
		t.Row(
			time.Unix(rec.IssuedAt, 0).UTC().Format("2006-01-02 15:04"),
			rec.RemoteUser+"@"+rec.RemoteHost,
			algorithmLabel(rec.Algorithm, rec.Bits),
			rec.Outcome,
		)
	}
	return t.String()
}

// algorithmLabel renders the key type column, including the bit length
// for RSA keys where it actually matters.
func algorithmLabel(algorithm string, bits int) string {
	if algorithm == keygen.AlgorithmRSA && bits > 0 {
		return algorithm + "-" + strconv.Itoa(bits)
	}
	return algorithm
}
