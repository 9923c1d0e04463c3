package main

import (
	"os"

	"github.com/danielpatrickdp/magi/go-controller/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
