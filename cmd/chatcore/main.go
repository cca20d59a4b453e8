package main

import (
	"os"

	"github.com/sable-im/chatcore/cmd/chatcore/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
