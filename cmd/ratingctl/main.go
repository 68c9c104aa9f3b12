package main

import (
	"os"

	"lead_rating_engine/cmd/ratingctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
