package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func roomCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "room <peer-id>",
		Short: "Create or resolve a conversation room with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := client.StartConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Room id:        %s\n", handle.RoomID)
			if handle.AlreadyExists {
				fmt.Println("Room already existed; redirected to it.")
			}
			if !handle.PeerKeyKnown {
				fmt.Println("Peer key not yet available; encryption degraded until it arrives.")
			}
			return nil
		},
	}
}
