package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/ligustah/dlpool/internal/naming"
)

// runName prints a random filename that does not exist in -dir.
func runName(args []string) int {
	fs := flag.NewFlagSet("name", flag.ExitOnError)

	dir := fs.String("dir", ".", "Directory the name must be unused in")
	length := fs.Int("length", naming.DefaultLength, "Name length")
	charset := fs.String("charset", naming.DefaultCharset, "Characters to draw from")
	attempts := fs.Int("attempts", 10000, "Give up after this many collisions (0 = never)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: dlpool name [options]

Print a random filename that is not taken in -dir.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	name, err := naming.RandomUniqueName(afero.NewOsFs(), *dir, *charset, *length, *attempts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	fmt.Fprintln(stdout, name)
	return ExitSuccess
}
