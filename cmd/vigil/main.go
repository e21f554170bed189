package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/vigil-ops/vigil/pkg/cli"
)

func main() {
	// Best-effort: a missing .env just means pure-environment config.
	_ = godotenv.Load()

	os.Exit(cli.Execute())
}
