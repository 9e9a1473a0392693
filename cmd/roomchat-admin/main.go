package main

import (
	"os"
)

// A very simple CLI tool for the administration of roomchat rooms, users and messages.

func main() {
	rootCmd := newRootCmd(&admin{})
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
