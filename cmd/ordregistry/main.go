// Command ordregistry runs the ORD capability registry.
//
//	ordregistry serve                      run the HTTP API and scheduled tasks
//	ordregistry discover capabilities      one-shot discovery query
//	ordregistry validate [id]              compliance report
//	ordregistry stats                      registry statistics
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
