package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cpyref/refscan/check"
	"github.com/cpyref/refscan/formatter"
	"github.com/cpyref/refscan/internal"
	tt "github.com/cpyref/refscan/internal/types"
)

var (
	ignoreChecks      string
	checkJsonOutput   bool
	outPath           string
	cacheDir          string
	watchMode         bool
	traceBudget       int
	showPossibleNulls bool
)

var checkCmd = &cobra.Command{
	Use:   "check [paths...]",
	Short: "Run the normal analysis process",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			fmt.Println("error: Please provide file or directory paths")
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		config, err := check.LoadConfig(cfgFile)
		if err != nil {
			logger.Fatal("Failed to load configuration", zap.Error(err))
		}
		if cmd.Flags().Changed("budget") {
			config.Budget = traceBudget
		}
		if cmd.Flags().Changed("show-possible-null-derefs") {
			config.ShowPossibleNullDerefs = showPossibleNulls
		}

		engine, err := check.NewFromConfig(config)
		if err != nil {
			logger.Fatal("Failed to initialize analysis engine", zap.Error(err))
		}

		if ignoreChecks != "" {
			checks := strings.Split(ignoreChecks, ",")
			for _, c := range checks {
				engine.IgnoreCheck(strings.TrimSpace(c))
			}
		}

		if watchMode {
			runWatchProcess(logger, engine, args)
			return
		}

		runNormalCheckProcess(ctx, logger, engine, args, checkJsonOutput, outPath)
	},
}

func init() {
	checkCmd.Flags().StringVar(&ignoreChecks, "ignore", "", "Comma-separated list of checks to ignore")
	checkCmd.Flags().BoolVar(&checkJsonOutput, "json", false, "Output findings in JSON format")
	checkCmd.Flags().StringVarP(&outPath, "output", "o", "", "Output path (when using JSON)")
	checkCmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Directory for the result cache (disabled when empty)")
	checkCmd.Flags().BoolVar(&watchMode, "watch", false, "Re-run the analysis when documents change")
	checkCmd.Flags().IntVar(&traceBudget, "budget", 0, "Per-function transition budget (0 uses the default)")
	checkCmd.Flags().BoolVar(&showPossibleNulls, "show-possible-null-derefs", false, "Report dereferences that are possibly but not provably NULL")
}

// processorFor wraps check.ProcessFile with the result cache when one is
// configured.
func processorFor(logger *zap.Logger) func(check.CheckEngine, string) ([]tt.FunctionResult, error) {
	if cacheDir == "" {
		return check.ProcessFile
	}
	cache, err := internal.NewCache(cacheDir)
	if err != nil {
		logger.Warn("Failed to open result cache, proceeding without it", zap.Error(err))
		return check.ProcessFile
	}
	if cfgFile != "" {
		if err := cache.AddDependency(cfgFile); err != nil {
			logger.Warn("Failed to track configuration file in cache", zap.Error(err))
		}
	}
	return func(engine check.CheckEngine, filePath string) ([]tt.FunctionResult, error) {
		if results, ok := cache.Get(filePath); ok {
			return results, nil
		}
		results, err := check.ProcessFile(engine, filePath)
		if err != nil {
			return nil, err
		}
		if err := cache.Set(filePath, results); err != nil {
			logger.Warn("Failed to store results in cache", zap.Error(err))
		}
		return results, nil
	}
}

func runWatchProcess(logger *zap.Logger, engine check.CheckEngine, paths []string) {
	watcher, err := check.NewWatcher(engine, func(filename string, results []tt.FunctionResult) {
		fmt.Println(formatter.GenerateFormattedFindings(results))
	})
	if err != nil {
		logger.Fatal("Failed to create watcher", zap.Error(err))
	}
	if err := watcher.StartWatching(paths); err != nil {
		logger.Fatal("Failed to start watching", zap.Error(err))
	}
	defer watcher.StopWatching()
	select {} // watch until interrupted
}

func runNormalCheckProcess(ctx context.Context, logger *zap.Logger, engine check.CheckEngine, paths []string, isJson bool, jsonOutput string) {
	results, err := check.ProcessFiles(ctx, logger, engine, paths, processorFor(logger))
	if err != nil {
		logger.Error("Error processing files", zap.Error(err))
		os.Exit(1)
	}

	printResults(logger, results, isJson, jsonOutput)

	if hasFindings(results) {
		os.Exit(1)
	}
}

func hasFindings(results []tt.FunctionResult) bool {
	for _, res := range results {
		if res.Abandoned || len(res.Findings) > 0 {
			return true
		}
	}
	return false
}

func printResults(logger *zap.Logger, results []tt.FunctionResult, isJson bool, jsonOutput string) {
	resultsByFile := make(map[string][]tt.FunctionResult)
	for _, res := range results {
		resultsByFile[res.File] = append(resultsByFile[res.File], res)
	}

	sortedFiles := make([]string, 0, len(resultsByFile))
	for filename := range resultsByFile {
		sortedFiles = append(sortedFiles, filename)
	}
	sort.Strings(sortedFiles)

	if !isJson {
		// text output
		for _, filename := range sortedFiles {
			output := formatter.GenerateFormattedFindings(resultsByFile[filename])
			fmt.Println(output)
		}
	} else {
		// JSON output
		d, err := json.Marshal(resultsByFile)
		if err != nil {
			logger.Error("Error marshalling results to JSON", zap.Error(err))
			return
		}
		if jsonOutput == "" {
			fmt.Println(string(d))
		} else {
			f, err := os.Create(jsonOutput)
			if err != nil {
				logger.Error("Error creating JSON output file", zap.Error(err))
				return
			}
			defer f.Close()
			_, err = f.Write(d)
			if err != nil {
				logger.Error("Error writing JSON output file", zap.Error(err))
				return
			}
		}
	}
}
