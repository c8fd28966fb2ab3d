package main

import (
	"os"

	"github.com/appdockio/appdock/client/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
