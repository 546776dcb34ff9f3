package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/snapflowio/mongocdc/publisher/sink"
)

func main() {
	root := &cobra.Command{
		Use:           "mongocdc",
		Short:         "stream MongoDB oplog changes to a sink",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCmd(), checkCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
