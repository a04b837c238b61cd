// Command partnum assigns and tracks deterministic part numbers for CAD
// files. See "partnum --help".
package main

import (
	"os"

	"github.com/roach88/partnum/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
