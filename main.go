package main

import (
	"os"

	"github.com/intentops/intent-eval/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
