// Package main is the driverd entrypoint.
package main

import "github.com/mudforge/driver/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
