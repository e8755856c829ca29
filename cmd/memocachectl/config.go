package main

import (
	"fmt"
	"os"

	"github.com/allaspectsdev/memocache/internal/config"
)

func cmdInitConfig() {
	if err := config.InitConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "error writing config: %v\n", err)
		os.Exit(1)
	}
}
