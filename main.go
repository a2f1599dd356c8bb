// Command actionforge-scheduler runs the two-tier build and recording
// scheduler: it claims build jobs, generates recording tasks per site
// version, and drives the Recording Executor against each one until the
// site's action capabilities are built and published.
package main

import (
	"fmt"
	"os"

	"actionforge.dev/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
