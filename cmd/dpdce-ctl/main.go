// Command dpdce-ctl is a small command-line client for a running dpdce
// engine, speaking its UDP YAML-RPC protocol.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/kb3bmv/dpdce/internal/rpcclient"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := pflag.StringP("engine", "e", "localhost:9999", "Engine RPC address (host:port).")
	status := pflag.Bool("status", false, "Print current engine status (get_results) and exit.")
	help := pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "dpdce-ctl - control a running dpdce engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands: calibrate, reset, trigger_run, adapt, restore_dump <id>\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		return 0
	}

	client := rpcclient.NewClient(*addr)

	if *status {
		return printStatus(client)
	}

	args := pflag.Args()
	if len(args) == 0 {
		pflag.Usage()
		return 1
	}

	var err error
	switch args[0] {
	case "calibrate":
		err = client.Calibrate()
	case "reset":
		err = client.Reset()
	case "trigger_run":
		err = client.TriggerRun()
	case "adapt":
		err = client.Adapt()
	case "restore_dump":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "dpdce-ctl: restore_dump requires a dump id")
			return 1
		}
		err = client.RestoreDump(args[1])
	default:
		fmt.Fprintf(os.Stderr, "dpdce-ctl: unknown command %q\n", args[0])
		return 1
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "dpdce-ctl: %v\n", err)
		return 1
	}
	fmt.Println("ok")
	return 0
}

func printStatus(client *rpcclient.Client) int {
	result, err := client.GetResults()
	if err != nil {
		fmt.Fprintf(os.Stderr, "dpdce-ctl: %v\n", err)
		return 1
	}
	fmt.Printf("%+v\n", result)
	return 0
}
