// Command fieldctl runs the field configuration pipeline offline: it
// normalizes schema documents, previews grouping and exports templates.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
