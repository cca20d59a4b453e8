package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sable-im/chatcore/verification"
)

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <verification-id>",
		Short: "Poll a verification id until it reaches a terminal status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			done := make(chan verification.Status, 1)

			poller := client.Verification()
			poller.OnStatus = func(id string, update verification.Update) {
				fmt.Printf("%s: %s", id, update.Status)
				if update.Message != "" {
					fmt.Printf(" (%s)", update.Message)
				}
				fmt.Println()
				if update.Status != verification.StatusPending {
					select {
					case done <- update.Status:
					default:
					}
				}
			}
			poller.OnAlert = func(id, reason string, trialsSoFar int) {
				fmt.Fprintf(os.Stderr, "verification %s failed after %d trials: %s\n", id, trialsSoFar, reason)
			}
			poller.OnReadyPrompt = func(id string) {
				fmt.Printf("verification %s is ready for use\n", id)
			}

			if err := client.WatchVerification(cmd.Context(), args[0]); err != nil {
				return err
			}

			select {
			case status := <-done:
				if status == verification.StatusFailed {
					return fmt.Errorf("verification %s failed", args[0])
				}
				return nil
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
		},
	}
}
