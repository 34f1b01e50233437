// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"time"

	"github.com/spf13/cobra"
)

var leaveCmd = &cobra.Command{
	Use:   "leave <group_id>",
	Short: "tombstone this peer's membership and tear down local state",
	Args:  cobra.ExactArgs(1),
	RunE:  runLeave,
}

func init() { rootCmd.AddCommand(leaveCmd) }

func runLeave(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.LeaveGroup(args[0], time.Now()); err != nil {
		return err
	}

	cmd.Printf("left syncshell %s\n", args[0])
	return nil
}
