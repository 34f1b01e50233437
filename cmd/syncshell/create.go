// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"time"

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "create a brand-new syncshell owned by this peer",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate,
}

func init() { rootCmd.AddCommand(createCmd) }

func runCreate(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	group, err := rt.CreateGroup(args[0], time.Now())
	if err != nil {
		return err
	}

	cmd.Printf("created syncshell %q\n  group_id: %s\n  peer_id:  %s\n", group.Name, group.GroupID, rt.Identity().PeerID())
	return nil
}
