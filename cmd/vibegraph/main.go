// Command vibegraph runs the cultural signal graph: the HTTP API, ingest
// cycles, decay passes and scenario matching.
package main

import (
	"os"

	"github.com/scrypster/vibegraph/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
