package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"api-runner/internal/app"
	"api-runner/internal/logging"
)

// main is the entry point of the application.
func main() {
	runner := app.NewAppRunner()

	err := runner.Run(os.Args[1:])
	if err != nil {
		log.Printf("[ERROR] %v", err)
		if errors.Is(err, app.ErrUsage) || errors.Is(err, app.ErrConfigNotFound) {
			fmt.Fprintln(os.Stderr, "")
			runner.Usage(os.Stderr)
		}
		if logging.GetLevel() < logging.Error {
			logging.SetLevel(logging.Error)
		}
		os.Exit(1)
	}

	logging.Logf(logging.Debug, "Application completed successfully.")
}
