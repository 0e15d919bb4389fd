// Command capped runs batches of tasks under a concurrency cap, either once
// from the command line or as a server with an HTTP API and cron schedules.
package main

import (
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
