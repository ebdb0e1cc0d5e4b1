// Package check is the public entry point: it loads control-flow-graph
// documents, runs the analysis engine over every function they define, and
// aggregates the per-function results.
package check

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/cpyref/refscan/internal"
	"github.com/cpyref/refscan/internal/cfg"
	"github.com/cpyref/refscan/internal/cpython"
	tt "github.com/cpyref/refscan/internal/types"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const maxShowRecentFiles = 25

// CheckEngine is the engine surface the file processors need.
type CheckEngine interface {
	Run(fn *cfg.Function) (tt.FunctionResult, error)
	IgnoreCheck(name string)
}

// New creates an engine from the configuration file at configurationPath.
// An empty path yields the default configuration.
func New(configurationPath string) (*internal.Engine, error) {
	config, err := LoadConfig(configurationPath)
	if err != nil {
		return nil, err
	}

	return NewFromConfig(config)
}

// LoadConfig reads the configuration file at configurationPath. An empty
// path yields the default configuration. Callers that need to override
// individual settings load the configuration, adjust it, and hand it to
// NewFromConfig.
func LoadConfig(configurationPath string) (tt.Config, error) {
	return parseConfigurationFile(configurationPath)
}

// NewFromConfig creates an engine from an already-assembled configuration.
func NewFromConfig(config tt.Config) (*internal.Engine, error) {
	return internal.NewEngine(config)
}

// ProcessFunctions analyzes already-loaded functions sequentially.
func ProcessFunctions(
	ctx context.Context,
	logger *zap.Logger,
	engine CheckEngine,
	fns []*cfg.Function,
) ([]tt.FunctionResult, error) {
	var results []tt.FunctionResult
	for _, fn := range fns {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		res, err := engine.Run(fn)
		if err != nil {
			if logger != nil {
				logger.Error("Error analyzing function", zap.String("function", fn.Name), zap.Error(err))
			}
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func ProcessFiles(
	ctx context.Context,
	logger *zap.Logger,
	engine CheckEngine,
	paths []string,
	processor func(CheckEngine, string) ([]tt.FunctionResult, error),
) ([]tt.FunctionResult, error) {
	var allResults []tt.FunctionResult
	for _, path := range paths {
		results, err := ProcessPath(ctx, logger, engine, path, processor)
		if err != nil {
			if logger != nil {
				logger.Error("Error processing path", zap.String("path", path), zap.Error(err))
			}
			return nil, err
		}
		allResults = append(allResults, results...)
	}

	return allResults, nil
}

func ProcessPath(
	ctx context.Context,
	logger *zap.Logger,
	engine CheckEngine,
	path string,
	processor func(CheckEngine, string) ([]tt.FunctionResult, error),
) ([]tt.FunctionResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("error accessing %s: %w", path, err)
	}

	var results []tt.FunctionResult
	if info.IsDir() {
		files, err := collectFiles(path)
		if err != nil {
			return nil, err
		}

		// mutex for recent files
		var recentFilesMutex sync.Mutex
		recentFiles := make([]string, maxShowRecentFiles)

		// make space for recent files
		for i := 0; i < maxShowRecentFiles+1; i++ {
			fmt.Println()
		}
		fmt.Printf("\033[%dA", maxShowRecentFiles+1)

		// channels for results and errors
		resultChan := make(chan []tt.FunctionResult, len(files))
		errorChan := make(chan error, len(files))

		// limit the number of workers
		maxWorkers := runtime.NumCPU()
		sem := make(chan struct{}, maxWorkers)

		bar := progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription(path),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}))

		// update recent files
		updateRecentFiles := func(filename string) {
			recentFilesMutex.Lock()
			defer recentFilesMutex.Unlock()

			// update the list
			for j := maxShowRecentFiles - 1; j > 0; j-- {
				recentFiles[j] = recentFiles[j-1]
			}
			recentFiles[0] = filename

			// move the cursor up
			fmt.Printf("\033[%dA", maxShowRecentFiles)

			// print the list
			for j := range recentFiles {
				if recentFiles[j] != "" {
					// \033[2k: clear the line
					// \r: move the cursor to the beginning of the line
					fmt.Printf("\033[2K\r%s\n", recentFiles[j])
				} else {
					fmt.Printf("\033[2K\r\n")
				}
			}
		}

		// for each file, run a goroutine
		for _, filePath := range files {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
				sem <- struct{}{}
				go func(fp string) {
					defer func() { <-sem }()

					// show the start of file processing
					updateRecentFiles(filepath.Base(fp))

					fileResults, err := processor(engine, fp)
					if err != nil {
						if logger != nil {
							logger.Error("Error processing file", zap.String("file", fp), zap.Error(err))
						}
						errorChan <- err
						resultChan <- nil
					} else {
						resultChan <- fileResults
						errorChan <- nil
					}
					bar.Add(1)
				}(filePath)
			}
		}

		// collect all results
		for range files {
			if err := <-errorChan; err != nil {
				continue
			}
			if result := <-resultChan; result != nil {
				results = append(results, result...)
			}
		}

		fmt.Println()
		return results, nil
	} else if hasDesiredExtension(path) {
		fileResults, err := processor(engine, path)
		if err != nil {
			return nil, err
		}
		results = append(results, fileResults...)
	}

	return results, nil
}

// collectFiles gathers every document under root. Walk hands the callback a
// nil FileInfo together with the error for unreadable entries, so the error
// check has to come first.
func collectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && hasDesiredExtension(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking %s: %w", root, err)
	}
	return files, nil
}

// ProcessFile analyzes every function defined in one document.
func ProcessFile(engine CheckEngine, filePath string) ([]tt.FunctionResult, error) {
	fns, err := cfg.LoadFile(filePath, cpython.Types())
	if err != nil {
		return nil, err
	}

	var results []tt.FunctionResult
	for _, fn := range fns {
		res, err := engine.Run(fn)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ProcessSource analyzes functions defined in an in-memory document.
func ProcessSource(engine CheckEngine, source []byte) ([]tt.FunctionResult, error) {
	fns, err := cfg.Load(source, cpython.Types())
	if err != nil {
		return nil, err
	}

	var results []tt.FunctionResult
	for _, fn := range fns {
		res, err := engine.Run(fn)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

var desiredExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
}

func hasDesiredExtension(path string) bool {
	return desiredExtensions[filepath.Ext(path)]
}

func parseConfigurationFile(configurationPath string) (tt.Config, error) {
	var config tt.Config
	if configurationPath == "" {
		return config, nil
	}

	// Read the configuration file
	f, err := os.Open(configurationPath)
	if err != nil {
		return config, err
	}
	defer f.Close()

	// Parse the configuration file
	decoder := yaml.NewDecoder(f)
	err = decoder.Decode(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}
