package orchestrator

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

const policyDriftDebounce = 500 * time.Millisecond

// driftWatcher watches the loaded config's companion files for changes
// during a long-running stage sequence and logs a warning when one is
// touched. It never reloads the policy mid-run: §4.9 requires a snapshot
// taken once at classify time to stay in effect for the rest of the run,
// so a drifted file only gets flagged for the next invocation.
type driftWatcher struct {
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// startDriftWatch begins watching paths (targets.yaml plus its resolved
// companion_files) for writes or renames, logging "policy_drift_detected"
// through logger on each debounced change. Callers must call Stop when the
// run completes.
func startDriftWatch(logger interface {
	Warn(string, ...map[string]interface{})
}, paths []string) (*driftWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := w.Add(p); err != nil {
			w.Close()
			return nil, err
		}
	}

	dw := &driftWatcher{watcher: w, stop: make(chan struct{})}
	go dw.loop(logger)
	return dw, nil
}

func (dw *driftWatcher) loop(logger interface {
	Warn(string, ...map[string]interface{})
}) {
	var debounceTimer *time.Timer
	for {
		select {
		case event, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Rename|fsnotify.Create) == 0 {
				continue
			}
			path := event.Name
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(policyDriftDebounce, func() {
				logger.Warn("policy_drift_detected", map[string]interface{}{"path": path})
			})
		case _, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
		case <-dw.stop:
			return
		}
	}
}

// Stop tears down the underlying fsnotify watcher.
func (dw *driftWatcher) Stop() {
	close(dw.stop)
	dw.watcher.Close()
}
