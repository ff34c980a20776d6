package main

import (
	"fmt"
	"os"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "doctor":
		err = runDoctor(os.Args[2:])
	case "configure":
		err = runConfigure(os.Args[2:])
	case "version", "--version":
		fmt.Printf("pgsafe %s\n", version)
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("pgsafe - PostgreSQL MCP server with a read-only query gate")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  pgsafe serve       Start the MCP server (--transport, --host, --port)")
	fmt.Println("  pgsafe doctor      Check the configuration and print agent snippets")
	fmt.Println("  pgsafe configure   Run interactive configuration wizard")
	fmt.Println("  pgsafe version     Print the version")
	fmt.Println("  pgsafe --help      Show this help message")
}
