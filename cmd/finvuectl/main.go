// Command finvuectl runs administrative tasks against a FinVue backend:
// schema migrations, provisioning and annual reports.
package main

import (
	"context"
	"fmt"
	"os"

	"finvue/internal/cli"
)

func main() {
	cli.LoadEnvFile()
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
