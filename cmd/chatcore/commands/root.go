package commands

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sable-im/chatcore"
)

var (
	home       string
	passphrase string
	userID     string
	brokerURL  string
	rtURL      string
	authToken  string
	verbose    bool

	client *chatcore.Client
)

func Execute() error {
	root := &cobra.Command{
		Use:   "chatcore",
		Short: "Secure-messaging core client",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".chatcore")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			opts := chatcore.NewOptions()
			opts.DataDir = home
			opts.MasterPassword = []byte(passphrase)
			opts.UserID = userID
			opts.BrokerURL = brokerURL
			opts.TransportURL = rtURL
			opts.AuthToken = authToken

			var err error
			client, err = chatcore.New(opts)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if client != nil {
				client.Kill()
			}
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.chatcore)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "chatcore", "passphrase protecting the key vault")
	root.PersistentFlags().StringVarP(&userID, "user", "u", "", "authenticated user id")
	root.PersistentFlags().StringVar(&brokerURL, "broker", "http://127.0.0.1:8080", "backend API base URL")
	root.PersistentFlags().StringVar(&rtURL, "transport", "ws://127.0.0.1:8080/v1/stream", "realtime transport URL")
	root.PersistentFlags().StringVar(&authToken, "token", "", "bearer token for backend calls")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	_ = root.MarkPersistentFlagRequired("user")

	root.AddCommand(identityCmd(), roomCmd(), listenCmd(), verifyCmd())

	return root.Execute()
}
