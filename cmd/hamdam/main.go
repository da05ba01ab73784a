// Command hamdam is the entry point for the bilingual CBT therapist
// chatbot. It provides an interactive terminal chat, one-shot questions, an
// HTTP API and the corpus build tooling, all via Cobra.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/54b3r/hamdam-go/cmd/hamdam/commands"
)

func main() {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
