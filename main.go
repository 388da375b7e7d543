package main

import (
	"os"

	"github.com/strixsec/strix/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
