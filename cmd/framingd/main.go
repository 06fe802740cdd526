package main

import (
	"fmt"
	"os"
)

const usage = `framingd - message framing server

Usage:
  framingd <command> [flags]

Commands:
  serve   Run the server (TCP, pipe and queue receivers)
  init    Write a default configuration file
  send    Send one framed message to a server or spool directory

Run 'framingd <command> -h' for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "serve":
		err = runServe(args)
	case "init":
		err = runInit(args)
	case "send":
		err = runSend(args)
	case "-h", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
