package main

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"github.com/yanun0323/logs"

	errs "hftcore/internal/errors"
	"hftcore/internal/state"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect ledger snapshots",
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show <snapshot.json>",
	Short: "Print a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := state.ReadSnapshot(args[0])
		if err != nil {
			return errs.Wrap(err, "read snapshot")
		}
		return printSnapshot(cmd.OutOrStdout(), snap)
	},
}

var snapshotDiffCmd = &cobra.Command{
	Use:   "diff <expected.json> <actual.json>",
	Short: "Compare positions and realized P&L of two snapshots",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		expected, err := state.ReadSnapshot(args[0])
		if err != nil {
			return errs.Wrap(err, "read expected snapshot")
		}
		actual, err := state.ReadSnapshot(args[1])
		if err != nil {
			return errs.Wrap(err, "read actual snapshot")
		}
		if err := state.CompareSnapshots(expected, actual); err != nil {
			return err
		}
		logs.Infof("snapshots match, positions: %d", len(actual.Positions))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotShowCmd, snapshotDiffCmd)
}

func printSnapshot(w io.Writer, snap state.Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errs.Wrap(err, "marshal snapshot")
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
