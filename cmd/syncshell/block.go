// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import "github.com/spf13/cobra"

var blockCmd = &cobra.Command{
	Use:   "block <group_id> <peer_id>",
	Short: "add a peer to this syncshell's local block list",
	Args:  cobra.ExactArgs(2),
	RunE:  runBlock,
}

func init() { rootCmd.AddCommand(blockCmd) }

func runBlock(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Block(args[0], args[1]); err != nil {
		return err
	}

	cmd.Printf("blocked %s in syncshell %s\n", args[1], args[0])
	return nil
}
