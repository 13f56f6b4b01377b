// Command lbproxy runs the layer-7 load balancer: request routing,
// health probing, DNS discovery, and the admin/metrics surfaces, wired
// together by the cli package.
package main

import (
	"os"

	"github.com/lbproxy/lbproxy/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
