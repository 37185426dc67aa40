package main

import (
	"os"

	"github.com/casebridge/casebridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
