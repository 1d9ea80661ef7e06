// Command compose runs one composition locally from a JSON request file.
package main

import (
	"fmt"
	"os"

	"ShortsComposer-server/composer"
)

func main() {
	if err := Execute(os.Stdout, os.Stderr); err != nil {
		if kind := composer.KindOf(err); kind != "" {
			fmt.Fprintf(os.Stderr, "error_code: %s\n", kind)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
