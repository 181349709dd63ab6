package main

import (
	"os"

	"github.com/arloliu/go-msbridge/cmd/msbridge/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
