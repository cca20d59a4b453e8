package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sable-im/chatcore/transport"
)

func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Connect to the realtime transport and print incoming messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client.OnMessage(func(msg *transport.MessageEvent, showPreview bool) {
				if showPreview {
					fmt.Printf("[%s] %s: %s\n", msg.RoomID, msg.SenderID, string(msg.Payload))
				} else {
					fmt.Printf("[%s] %s: (preview suppressed)\n", msg.RoomID, msg.SenderID)
				}
			})
			client.OnConnection(func(event transport.Event, err error) {
				if err != nil {
					fmt.Fprintf(os.Stderr, "transport %s: %v\n", event, err)
					return
				}
				fmt.Fprintf(os.Stderr, "transport %s\n", event)
			})

			if err := client.Connect(cmd.Context()); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sig)

			select {
			case <-sig:
			case <-cmd.Context().Done():
			}
			return nil
		},
	}
}
