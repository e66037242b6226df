package main

import (
	"os"

	"github.com/scribefs/scribefs/cmd/scribefs/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
