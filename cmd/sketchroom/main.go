// Package main is the entry point for the Sketchroom whiteboard server.
package main

import (
	"os"

	"github.com/sketchroom/sketchroom/cmd/sketchroom/app"
	"github.com/sketchroom/sketchroom/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
