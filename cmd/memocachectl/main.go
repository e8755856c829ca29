package main

import (
	"fmt"
	"os"

	"github.com/allaspectsdev/memocache/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init-config":
		cmdInitConfig()
	case "stats":
		cmdStats(os.Args[2:])
	case "invalidate":
		cmdInvalidate(os.Args[2:])
	case "watch":
		cmdWatchConfig(os.Args[2:])
	case "version":
		fmt.Println(version.String())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: memocachectl <command> [options]

Commands:
  init-config              Generate default config file
  stats --addr <addr>      Fetch call/backend stats from a running admin server
  invalidate --addr <addr> [--keys k1,k2] [--tags t1,t2] [--all]
                            Invalidate cache entries via the admin server
  watch [--path <file>]    Watch the config file and log changes on reload
  version                  Print version information
  help                     Show this help message

Options:
  --addr       Admin server address, e.g. http://127.0.0.1:7681 (default 127.0.0.1:7681)
  --keys       Comma-separated explicit keys to delete (with 'invalidate')
  --tags       Comma-separated tags to invalidate (with 'invalidate')
  --all        Clear the entire backend (with 'invalidate')
  --path       Config file path to watch (with 'watch'; defaults to the
               standard search path)`)
}
