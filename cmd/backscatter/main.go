package main

import (
	"fmt"
	"os"

	"github.com/HerbHall/backscatter/internal/version"
)

const usage = `usage: backscatter <command> [flags]

commands:
  run      fetch, reconcile, fit and flag one AOI
  version  print version information
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "run":
		os.Exit(runPipeline(os.Args[2:]))
	case "version", "-version", "--version":
		fmt.Println(version.Info())
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}
