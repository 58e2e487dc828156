package main

import (
	"os"

	"brokerlink/cmd/brokerlink/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
