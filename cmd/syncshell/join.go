// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"time"

	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:   "join <invite>",
	Short: "join a syncshell from a NOSTR:/BOOTSTRAP: invite code",
	Args:  cobra.ExactArgs(1),
	RunE:  runJoin,
}

func init() { rootCmd.AddCommand(joinCmd) }

func runJoin(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	group, err := rt.JoinGroup(args[0], time.Now())
	if err != nil {
		return err
	}

	cmd.Printf("joined syncshell\n  group_id: %s\n  owner:    %s\n", group.GroupID, group.OwnerPeerID)
	return nil
}
