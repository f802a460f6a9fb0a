package kernel

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// CheckpointStatus is the completion state of one (stage, target) unit of
// work.
type CheckpointStatus string

const (
	CheckpointDone   CheckpointStatus = "done"
	CheckpointFailed CheckpointStatus = "failed"
)

type checkpointEntry struct {
	Status      CheckpointStatus `json:"status"`
	CompletedAt time.Time        `json:"completed_at_utc"`
}

// CheckpointStore tracks per-(stage, target) completion under a single
// atomically-written JSON file, one per stage (§6 "--resume resumes from
// the last completed checkpoint; --no-resume wipes and restarts").
type CheckpointStore struct {
	path    string
	entries map[string]checkpointEntry
}

// LoadCheckpointStore reads the checkpoint file at path, or starts empty
// if it does not exist yet. If resume is false the on-disk file (if any)
// is ignored and will be overwritten on first Save, matching --no-resume.
func LoadCheckpointStore(path string, resume bool) (*CheckpointStore, error) {
	s := &CheckpointStore{path: path, entries: map[string]checkpointEntry{}}
	if !resume {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return nil, err
	}
	return s, nil
}

// IsDone reports whether targetID already completed successfully under
// this checkpoint store — callers skip re-doing the work when true.
func (s *CheckpointStore) IsDone(targetID string) bool {
	e, ok := s.entries[targetID]
	return ok && e.Status == CheckpointDone
}

// Mark records targetID's outcome and persists the whole store
// atomically. Failed targets are recorded too (not skipped on the next
// resume) so repeated failures remain visible in the summary rather than
// silently retried forever without signal.
func (s *CheckpointStore) Mark(targetID string, status CheckpointStatus) error {
	s.entries[targetID] = checkpointEntry{Status: status, CompletedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return err
	}
	return WriteAtomic(s.path, data)
}

// CheckpointPath builds the conventional checkpoint file path for a
// stage under the pipeline's state root.
func CheckpointPath(stateRoot, stage string) string {
	return filepath.Join(stateRoot, "checkpoints", stage+".json")
}
