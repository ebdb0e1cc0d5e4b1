package check

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	tt "github.com/cpyref/refscan/internal/types"
	"github.com/fsnotify/fsnotify"
)

// Watcher re-analyzes documents as they change on disk.
type Watcher struct {
	engine     CheckEngine
	watcher    *fsnotify.Watcher
	isWatching bool
	onResults  func(filename string, results []tt.FunctionResult)
}

// NewWatcher creates a watcher reporting results through onResults; a nil
// callback logs a summary instead.
func NewWatcher(engine CheckEngine, onResults func(string, []tt.FunctionResult)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("error creating file watcher: %w", err)
	}
	return &Watcher{engine: engine, watcher: fsw, onResults: onResults}, nil
}

func (w *Watcher) StartWatching(dirs []string) error {
	if w.isWatching {
		return fmt.Errorf("already watching")
	}

	for _, dir := range dirs {
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				return w.watcher.Add(path)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("error adding directory to watcher: %w", err)
		}
	}

	w.isWatching = true
	go w.watchLoop()
	return nil
}

func (w *Watcher) StopWatching() error {
	if !w.isWatching {
		log.Println("not watching")
	}

	w.isWatching = false
	return w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	for w.isWatching {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFileEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("error: %v", err)
		}
	}
}

func (w *Watcher) handleFileEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Write == fsnotify.Write {
		// process file when detect change
		if strings.HasSuffix(event.Name, ".yaml") || strings.HasSuffix(event.Name, ".yml") {
			// wait for a while after file change to consider multiple changes as one
			time.Sleep(100 * time.Millisecond)
			results, err := ProcessFile(w.engine, event.Name)
			if err != nil {
				log.Printf("error: %v", err)
				return
			}
			w.reportResults(event.Name, results)
		}
	}
}

func (w *Watcher) reportResults(filename string, results []tt.FunctionResult) {
	if w.onResults != nil {
		w.onResults(filename, results)
		return
	}

	total := 0
	for _, res := range results {
		total += len(res.Findings)
	}
	if total == 0 {
		log.Printf("no findings in %s", filename)
		return
	}

	log.Printf("found %d findings in %s", total, filename)
	for _, res := range results {
		for _, f := range res.Findings {
			log.Printf("- %s: %s", f.Check, f.Message)
		}
	}
}
