// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var resyncCmd = &cobra.Command{
	Use:   "resync [group_id]",
	Short: "force an immediate local recovery pass",
	Long: `resync purges expired phonebook entries and stale store rows
for one syncshell, or every syncshell this peer belongs to if no
group_id is given. It does not itself reopen a live transport session;
that is the host application's job once this peer is back online.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResync,
}

func init() { rootCmd.AddCommand(resyncCmd) }

func runResync(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	ids := args
	if len(ids) == 0 {
		ids = rt.GroupIDs()
	}

	ctx := context.Background()
	now := time.Now()
	for _, id := range ids {
		result, err := rt.Resync(ctx, id, now, nil, nil)
		if err != nil {
			return err
		}
		corrupt, err := rt.VerifyContent(ctx, id)
		if err != nil {
			return err
		}
		cmd.Printf("resynced %s: %d phonebook entries changed, %d recipes purged, %d player cache rows purged, %d corrupt chunks dropped\n",
			id, result.PhonebookChanged, result.RecipesPurged, result.PlayersPurged, len(corrupt))
	}
	return nil
}
