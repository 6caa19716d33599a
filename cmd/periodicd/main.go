// Command periodicd runs a periodic scheduler node: the scheduler loop, a
// worker pool, peer wake transports and the management HTTP API.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
