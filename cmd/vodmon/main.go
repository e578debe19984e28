// Vodmon is the command-line client for observing a running vodpipe
// batch. It connects over HTTP and WebSocket to query the run summary
// and stream live pipeline events.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/canopysense/gnssvod/internal/mon"
)

func main() {
	var (
		host    = pflag.StringP("host", "H", "http://127.0.0.1:8787", "Monitor base URL (e.g. http://fieldpc:8787)")
		jsonOut = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter  = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter file,interval)")
	)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	var err error
	switch pflag.Arg(0) {
	case "summary":
		err = mon.Summary(*host)

	case "health":
		err = mon.Health(*host)

	case "watch":
		err = mon.Watch(*host, mon.WatchOptions{
			Filter: *filter,
			JSON:   *jsonOut,
		})

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  vodmon - vodpipe monitor CLI

  USAGE
    vodmon [flags] <command>

  COMMANDS
    summary         Show the run's phase, uptime, and latest summary
    health          Check the monitor endpoint
    watch           Stream live pipeline events (Ctrl-C to stop)

  FLAGS
    -H, --host URL      Monitor base URL (default: http://127.0.0.1:8787)
        --json          Output raw JSON instead of formatted text
        --filter TYPE   Event types to show in watch (comma-separated)
`)
}
