// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "report active/stale summaries for every syncshell this peer belongs to",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() { rootCmd.AddCommand(statusCmd) }

func runStatus(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	statuses, err := rt.Status(time.Now())
	if err != nil {
		return err
	}

	if len(statuses) == 0 {
		cmd.Println("not a member of any syncshell")
		return nil
	}

	active, stale := 0, 0
	for _, s := range statuses {
		if s.IsActive {
			active++
		}
		if s.Stale {
			stale++
		}
	}
	cmd.Printf("active %d/%d syncshells, %d stale\n\n", active, len(statuses), stale)

	for _, s := range statuses {
		role := "member"
		if s.IsOwner {
			role = "owner"
		}
		state := "active"
		if !s.IsActive {
			state = "inactive"
		}
		if s.Stale {
			state += ", stale (requires fresh invite)"
		}
		cmd.Printf("%s  %-20s %-7s %-8s members=%-3d host=%s last_sync=%s\n",
			s.GroupID, s.Name, role, state, s.MemberCount, s.Host, s.LastSyncAt.Format(time.RFC3339))
	}
	return nil
}
