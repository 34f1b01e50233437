// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyteclub/syncshell/identity"
	"github.com/fyteclub/syncshell/invite"
)

var (
	flagInviteOffer  string
	flagInviteRelays []string
)

var inviteCmd = &cobra.Command{
	Use:   "invite <group_id> <recipient_peer_id>",
	Short: "issue an invite code addressed to another peer",
	Long: `invite produces a NOSTR: live invite carrying the --offer
signaling blob, sealed so only the recipient peer can recover the group
secret. If the syncshell has gone stale (no successful sync for 30
days) a BOOTSTRAP: invite is produced instead and --offer is ignored.`,
	Args: cobra.ExactArgs(2),
	RunE: runInvite,
}

func init() {
	inviteCmd.Flags().StringVar(&flagInviteOffer, "offer", "", "session offer blob to embed in a live invite")
	inviteCmd.Flags().StringSliceVar(&flagInviteRelays, "relay", nil, "relay hint host:port (repeatable)")
	rootCmd.AddCommand(inviteCmd)
}

func runInvite(cmd *cobra.Command, args []string) error {
	groupID, recipient := args[0], args[1]

	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	recipientPub, err := identity.PublicKeyFromPeerID(strings.TrimSpace(recipient))
	if err != nil {
		return err
	}

	code, kind, err := rt.NewInvite(groupID, recipientPub, flagInviteOffer, flagInviteRelays, time.Now())
	if err != nil {
		return err
	}

	if kind == invite.KindBootstrap {
		cmd.PrintErrln("syncshell is stale; issued a bootstrap invite (consumer must initiate fresh signaling)")
	}
	cmd.Println(code)
	return nil
}
