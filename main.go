package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/Cirilcetra/agentbackend/cmd"
)

func main() {
	// A local .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
