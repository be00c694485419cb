package main

import (
	"fmt"
	"strings"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	leasing "github.com/equipcloud/leasing-go"
)

func init() {
	chatCmd.AddCommand(chatPeersCmd, chatShowCmd, chatSendCmd, chatRmCmd)
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Read and send direct messages",
	Long:  "Read and send direct messages. Thread history is kept locally per account under ~/.leasectl.",
}

var chatPeersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List conversations, unread first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}

		// Refresh the unread summary before listing.
		sum, err := console.Client().Messages.Unread(cmd.Context(), console.Session().AuthToken())
		if err != nil {
			console.HandleError(err, "/messages")
			return err
		}
		console.Messages().MergeUnreadSummary(sum)

		threads := console.Messages().Threads()
		if len(threads) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		table := uitable.New()
		table.AddRow("PEER", "USERNAME", "UNREAD", "LAST MESSAGE")
		for _, t := range threads {
			table.AddRow(t.PeerID, t.Username, t.Total, when(t.LastMessageTime()))
		}
		fmt.Println(table)
		return nil
	},
}

var chatShowCmd = &cobra.Command{
	Use:   "show <peer-id>",
	Short: "Show a conversation and mark it read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		peerID, err := parseID(args[0])
		if err != nil {
			return err
		}

		thread, err := console.Client().Messages.Thread(cmd.Context(), peerID, console.Session().AuthToken())
		if err != nil {
			console.HandleError(err, "/messages")
			return err
		}
		console.Messages().Append(peerID, "", "", thread.Messages...)
		if err := console.Client().Messages.MarkRead(cmd.Context(), peerID, console.Session().AuthToken()); err != nil {
			return err
		}
		console.Messages().MarkRead(peerID)
		console.Cache().Invalidate(leasing.ResourceMessages, map[string]any{"unread": true})

		local := console.Messages().Thread(peerID)
		if local == nil || len(local.Messages) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		me := console.Session().ID
		for _, m := range local.Messages {
			who := local.Username
			if m.SenderID == me {
				who = "me"
			}
			fmt.Printf("[%s] %s: %s\n", when(m.MessageTime), who, m.Content)
		}
		return nil
	},
}

var chatSendCmd = &cobra.Command{
	Use:   "send <peer-id> <message...>",
	Short: "Send a message to a peer",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		peerID, err := parseID(args[0])
		if err != nil {
			return err
		}
		msg, err := console.SendMessage(cmd.Context(), peerID, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Printf("Sent message %d\n", msg.ID)
		return nil
	},
}

var chatRmCmd = &cobra.Command{
	Use:   "rm <peer-id>",
	Short: "Delete a conversation's local history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		console, err := requireSession()
		if err != nil {
			return err
		}
		peerID, err := parseID(args[0])
		if err != nil {
			return err
		}
		console.Messages().Remove(peerID)
		fmt.Printf("Removed conversation with peer %d\n", peerID)
		return nil
	},
}
