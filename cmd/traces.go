package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cpyref/refscan/check"
	"github.com/cpyref/refscan/internal"
	"github.com/cpyref/refscan/internal/cfg"
	"github.com/cpyref/refscan/internal/cpython"
)

var tracesCmd = &cobra.Command{
	Use:   "traces [paths...]",
	Short: "Dump every explored trace without verifying it",
	Long: `Explores each function and prints its feasible traces: the described
transitions, and either the returned value or the error that ended the trace.
Useful for understanding why the verifier reached a conclusion.`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			fmt.Println("error: Please provide file paths")
			os.Exit(1)
		}

		engine, err := check.New(cfgFile)
		if err != nil {
			logger.Fatal("Failed to initialize analysis engine", zap.Error(err))
		}

		for _, path := range args {
			dumpTraces(engine, path)
		}
	},
}

func dumpTraces(engine *internal.Engine, path string) {
	fns, err := cfg.LoadFile(path, cpython.Types())
	if err != nil {
		logger.Error("Failed to load document", zap.String("path", path), zap.Error(err))
		return
	}

	for _, fn := range fns {
		traces, err := engine.Traces(fn)
		if err != nil {
			fmt.Printf("%s: %v\n", fn.Name, err)
			continue
		}
		for i, tr := range traces {
			fmt.Printf("Trace %d of %s:\n", i, fn.Name)
			for _, t := range tr.Transitions {
				if t.Desc != "" {
					fmt.Printf("  %s: %s\n", t.Src.Loc(), t.Desc)
				}
			}
			if tr.Err != nil {
				fmt.Printf("  error: %v\n", tr.Err)
			} else if rv := tr.ReturnValue(); rv != nil {
				fmt.Printf("  returns: %s\n", rv)
			}
		}
	}
}
