package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

func identityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "Print the device identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			pub, err := client.PublicKey(ctx)
			if err != nil {
				return err
			}
			regID, err := client.RegistrationID(ctx)
			if err != nil {
				return err
			}
			devID, err := client.DeviceID(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Public key:      %s\n", hex.EncodeToString(pub[:]))
			fmt.Printf("Registration id: %d\n", regID)
			fmt.Printf("Device id:       %s\n", devID)
			return nil
		},
	}
}
