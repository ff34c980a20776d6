package main

import (
	"fmt"
	"io"

	"golang.org/x/term"
)

// isTTY returns true if the given file descriptor is a terminal.
func isTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// printBanner prints the pgsafe ASCII art banner, with a green-to-cyan
// gradient when useColor is true.
func printBanner(w io.Writer, useColor bool) {
	lines := []string{
		`                                     `,
		`  _ __   __ _ ___  __ _ / _| ___     `,
		` | '_ \ / _' / __|/ _' | |_ / _ \    `,
		` | |_) | (_| \__ \ (_| |  _|  __/    `,
		` | .__/ \__, |___/\__,_|_|  \___|    `,
		` |_|    |___/                        `,
		`                                     `,
	}
	if !useColor {
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
		return
	}

	colors := []string{
		"\033[1;32m",
		"\033[1;32m",
		"\033[1;92m",
		"\033[1;36m",
		"\033[1;96m",
		"\033[1;34m",
		"\033[0m",
	}
	for i, line := range lines {
		fmt.Fprintf(w, "%s%s\033[0m\n", colors[i%len(colors)], line)
	}
}
