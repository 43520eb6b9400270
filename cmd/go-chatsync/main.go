package main

import (
	"os"

	"github.com/a-essam23/go-chatsync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
