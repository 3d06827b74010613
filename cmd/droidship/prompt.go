package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// promptRelease asks whether to build in release mode. Anything other
// than y or yes, including EOF, selects debug.
func promptRelease(in io.Reader, out io.Writer) bool {
	fmt.Fprint(out, "Build in release mode? (y/n [default]): ")
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
