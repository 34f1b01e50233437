// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyteclub/syncshell/scheduler"
	"github.com/fyteclub/syncshell/session"
	"github.com/fyteclub/syncshell/snapshot"
)

var serveTickInterval time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve <group_id> <snapshot_file>",
	Short: "drive the proximity scheduler against a replayed snapshot file",
	Long: `serve replays newline-delimited JSON Snapshot records from
snapshot_file through the proximity scheduler, printing every outbound
sync it would enqueue. It is a local testing harness standing in for a
live game client's player scanner; it never opens a transport session.`,
	Args: cobra.ExactArgs(2),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&serveTickInterval, "tick-interval", time.Second, "snapshot replay pacing")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	groupID, snapshotPath := args[0], args[1]

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	gs, err := rt.Group(groupID)
	if err != nil {
		return err
	}

	source, closeFile, err := snapshot.OpenFileReplay(snapshotPath, serveTickInterval)
	if err != nil {
		return err
	}
	defer closeFile()

	resolve := func(peerGameID string) (string, bool) { return peerGameID, true }
	blocked := func(peerID string) bool {
		b, err := gs.IsBlocked(peerID)
		return err == nil && b
	}
	// registry stays empty here: serve never opens a transport session
	// (see RunE's doc comment), so enqueue always falls through to the
	// Printf stand-in. A host application that does hold live sessions
	// registers each Peer here and enqueue drives its
	// TriggerOutboundSync instead, the real scheduler-to-transfer wiring exercised by
	// session.Peer's own tests.
	registry := session.NewRegistry()
	enqueue := func(peerID string) {
		if peer, ok := registry.Get(peerID); ok {
			if err := peer.TriggerOutboundSync(cmd.Context()); err != nil {
				cmd.PrintErrf("sync: peer=%s group=%s error=%v\n", peerID, groupID, err)
			}
			return
		}
		cmd.Printf("sync: peer=%s group=%s\n", peerID, groupID)
	}
	selfResync := func(ctx context.Context) { cmd.Printf("self-resync: group=%s\n", groupID) }

	sched := scheduler.New(source, resolve, blocked, enqueue, selfResync)

	if err := sched.Run(cmd.Context()); err != nil {
		return err
	}
	cmd.Println("snapshot replay finished")
	return nil
}
