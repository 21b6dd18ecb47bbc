// Command inatq retrieves iNaturalist data through a paced, cached client.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	root, closeApp := newRootCmd(os.Stdout, os.Stderr)

	err := root.ExecuteContext(context.Background())
	if cerr := closeApp(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
