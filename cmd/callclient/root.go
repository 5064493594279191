package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "callclient",
	Short: "Join a roomcall room from the terminal",
	Long: `callclient connects to a roomcall signaling server, joins a room and
negotiates a WebRTC session with every other member of that room.`,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
