// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import "github.com/spf13/cobra"

var unblockCmd = &cobra.Command{
	Use:   "unblock <group_id> <peer_id>",
	Short: "remove a peer from this syncshell's local block list",
	Args:  cobra.ExactArgs(2),
	RunE:  runUnblock,
}

func init() { rootCmd.AddCommand(unblockCmd) }

func runUnblock(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Unblock(args[0], args[1]); err != nil {
		return err
	}

	cmd.Printf("unblocked %s in syncshell %s\n", args[1], args[0])
	return nil
}
