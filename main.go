package main

import (
	"os"

	"github.com/pagebus/pagebus/cmd"
)

func main() {
	// Execute the root command
	cmd.Execute()

	// Ensure clean exit
	os.Exit(0)
}
