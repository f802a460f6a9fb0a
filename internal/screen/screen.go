// Package screen implements the YELLOW screener (C5): signoff gating
// followed by per-record canonicalization of raw YELLOW acquisitions
// into screened, deduped-within-target shards.
package screen

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/FoilMiser/dataset-collector/internal/kernel"
	"github.com/FoilMiser/dataset-collector/internal/model"
	"github.com/FoilMiser/dataset-collector/internal/policy"
)

// Roots bundles the filesystem locations the screener reads from and
// writes to, mirroring globals.{screened_yellow_root,ledger_root,pitches_root}.
type Roots struct {
	ScreenedYellowRoot string
	LedgerRoot         string
	PitchesRoot        string
}

const defaultSampleCap = 25

// Screener implements C5.
type Screener struct {
	store     *policy.Store
	roots     Roots
	sampleCap int
}

// New builds a Screener. sampleCap <= 0 is normalized to the spec's
// default of 25 full-payload samples per (target, reason).
func New(store *policy.Store, roots Roots, sampleCap int) *Screener {
	if sampleCap <= 0 {
		sampleCap = defaultSampleCap
	}
	return &Screener{store: store, roots: roots, sampleCap: sampleCap}
}

// Summary is the per-target outcome of ScreenTarget.
type Summary struct {
	TargetID          string
	Passed            int
	PitchedByReason   map[model.PitchReason]int
	TargetPitched     bool
	TargetPitchReason model.PitchReason
}

// SignoffState carries the already-resolved signoff gate inputs for a
// target (§4.5 "Signoff gating"); the orchestrator loads the signoff file
// and recomputes the current evidence hash, then calls CheckSignoffGate.
type SignoffState struct {
	Present        bool
	Signoff        *model.Signoff
	EvidenceStale  bool
}

// CheckSignoffGate applies §4.5's signoff gating rule, returning the
// pitch reason if the entire target must be pitched, or "" if screening
// should proceed.
func (s *Screener) CheckSignoffGate(target model.Target, state SignoffState) model.PitchReason {
	requireSignoff := s.store.Snapshot().Globals.RequireYellowSignoff
	allowWithout := target.YellowScreen != nil && target.YellowScreen.AllowWithoutSignoff
	if !requireSignoff || allowWithout {
		return ""
	}
	if !state.Present || state.Signoff == nil {
		return model.ReasonSignoffMissing
	}
	switch state.Signoff.Status {
	case model.SignoffRejected:
		return model.ReasonSignoffRejected
	case model.SignoffApproved:
		if state.EvidenceStale {
			return model.ReasonSignoffStale
		}
		return ""
	default:
		return model.ReasonSignoffMissing
	}
}

// ScreenTarget runs the signoff gate and, if it passes, canonicalizes
// every raw YELLOW record under rawDir into shards under
// roots.ScreenedYellowRoot/{pool}/{target_id}/, writing ledger and pitch
// sample entries as it goes.
func (s *Screener) ScreenTarget(runID string, row model.QueueRow, target model.Target, state SignoffState, rawDir string) (Summary, error) {
	summary := Summary{TargetID: row.TargetID, PitchedByReason: map[model.PitchReason]int{}}

	if reason := s.CheckSignoffGate(target, state); reason != "" {
		summary.TargetPitched = true
		summary.TargetPitchReason = reason
		if err := s.appendPitchLedger(runID, row.TargetID, "", reason, ""); err != nil {
			return summary, err
		}
		return summary, nil
	}

	files, err := discoverRawRecordFiles(rawDir)
	if err != nil {
		return summary, model.NewError("screen.discover_inputs", model.ClassResource, row.TargetID, err)
	}

	shardDir := filepath.Join(s.roots.ScreenedYellowRoot, string(row.LicensePool), row.TargetID)
	next, err := kernel.NextShardSequence(shardDir, "yellow_shard")
	if err != nil {
		return summary, model.NewError("screen.shard_sequence", model.ClassResource, row.TargetID, err)
	}
	writer, err := kernel.NewShardWriter(shardDir, "yellow_shard", s.maxRecordsPerShard(), next)
	if err != nil {
		return summary, model.NewError("screen.open_shard_writer", model.ClassResource, row.TargetID, err)
	}

	idx := 0
	for _, path := range files {
		records, err := readJSONLRecords(path)
		if err != nil {
			return summary, model.NewError("screen.read_input", model.ClassResource, row.TargetID, err)
		}
		for _, raw := range records {
			idx++
			recordID := fmt.Sprintf("%s_%06d", row.TargetID, idx)
			record, pitchReason := s.canonicalize(recordID, raw, row, target)
			if pitchReason != "" {
				summary.PitchedByReason[pitchReason]++
				sampleHash := ""
				if b, err := json.Marshal(raw); err == nil {
					sampleHash = kernel.SHA256Hex(b)
				}
				if err := s.appendPitchLedger(runID, row.TargetID, recordID, pitchReason, sampleHash); err != nil {
					return summary, err
				}
				if err := s.appendPitchSample(row.TargetID, pitchReason, raw); err != nil {
					return summary, err
				}
				continue
			}

			shard, err := writer.Write(record)
			if err != nil {
				return summary, model.NewError("screen.write_shard", model.ClassResource, row.TargetID, err)
			}
			summary.Passed++
			if err := s.appendPassedLedger(runID, row.TargetID, recordID, shard, record.Hash.ContentSHA256); err != nil {
				return summary, err
			}
		}
	}

	if err := writer.Close(); err != nil {
		return summary, model.NewError("screen.close_shard_writer", model.ClassResource, row.TargetID, err)
	}
	return summary, nil
}

func (s *Screener) maxRecordsPerShard() int {
	return s.store.Snapshot().Globals.Sharding.MaxRecordsPerShard
}

// canonicalize applies §4.5 steps 1-6 to one raw record, returning either
// a populated CanonicalRecord or a non-empty pitch reason.
func (s *Screener) canonicalize(recordID string, raw map[string]interface{}, row model.QueueRow, target model.Target) (model.CanonicalRecord, model.PitchReason) {
	thresholds := s.store.ScreeningThresholds()

	text, ok := firstNonEmptyString(raw, thresholds.TextFieldCandidates)
	if !ok {
		return model.CanonicalRecord{}, model.ReasonTextMissing
	}
	if len(text) < thresholds.MinChars {
		return model.CanonicalRecord{}, model.ReasonTextTooShort
	}
	if thresholds.MaxChars > 0 && len(text) > thresholds.MaxChars {
		return model.CanonicalRecord{}, model.ReasonTextTooLong
	}

	var recordSPDX string
	requireLicense := thresholds.RequireRecordLicense
	allowedSPDX := thresholds.AllowSPDX
	if target.YellowScreen != nil && len(target.YellowScreen.RecordLicenseAllow) > 0 {
		requireLicense = true
		allowedSPDX = target.YellowScreen.RecordLicenseAllow
	}
	if requireLicense {
		spdx, found := firstNonEmptyString(raw, thresholds.RecordLicenseFieldCandidates)
		if !found {
			return model.CanonicalRecord{}, model.ReasonRecordLicenseMissing
		}
		if !containsString(allowedSPDX, spdx) {
			return model.CanonicalRecord{}, model.ReasonRecordLicenseDenied
		}
		recordSPDX = spdx
	}

	scanFields := append([]string{text}, stringValues(raw, thresholds.TextFieldCandidates)...)
	scanFields = append(scanFields, stringValues(raw, thresholds.RecordLicenseFieldCandidates)...)
	if hitDenyPhrase(scanFields, thresholds.DenyPhrases) {
		return model.CanonicalRecord{}, model.ReasonDenyPhraseHit
	}

	routing := row.Routing
	if routing.Granularity == "" {
		routing.Granularity = "target"
	}

	record := model.CanonicalRecord{
		RecordID: recordID,
		Text:     text,
		License:  model.RecordLicense{SPDX: recordSPDX, Profile: row.LicenseProfile},
		Routing:  routing,
		Source: model.RecordSource{
			TargetID:       row.TargetID,
			RetrievedAtUTC: time.Now().UTC(),
		},
		Hash:        model.RecordHash{ContentSHA256: kernel.ContentSHA256(text)},
		LicensePool: row.LicensePool,
	}
	return record, ""
}

func (s *Screener) appendPitchLedger(runID, targetID, recordID string, reason model.PitchReason, sampleHash string) error {
	entry := model.YellowPitchedEntry{RunID: runID, TargetID: targetID, RecordID: recordID, Reason: reason, SampleHash: sampleHash}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return kernel.AppendLine(filepath.Join(s.roots.LedgerRoot, "yellow_pitched.jsonl"), line)
}

func (s *Screener) appendPassedLedger(runID, targetID, recordID, shard, contentSHA256 string) error {
	entry := model.YellowPassedEntry{RunID: runID, TargetID: targetID, RecordID: recordID, Shard: shard, ContentSHA256: contentSHA256}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return kernel.AppendLine(filepath.Join(s.roots.LedgerRoot, "yellow_passed.jsonl"), line)
}

// pitchSampleCounts tracks per-(target,reason) full-payload sample counts
// in process memory; a run-scoped Screener is never shared across runs.
var pitchSampleCounts = map[string]int{}

func (s *Screener) appendPitchSample(targetID string, reason model.PitchReason, raw map[string]interface{}) error {
	key := targetID + "|" + string(reason)
	if pitchSampleCounts[key] >= s.sampleCap {
		return nil
	}
	pitchSampleCounts[key]++

	payload := map[string]interface{}{"target_id": targetID, "reason": reason, "record": raw}
	line, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return kernel.AppendLine(filepath.Join(s.roots.PitchesRoot, "yellow_pitch.jsonl"), line)
}

// discoverRawRecordFiles returns every *.jsonl file under dir in sorted
// path order (§4.5 "Determinism: inputs processed in sorted path order").
func discoverRawRecordFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func readJSONLRecords(path string) ([]map[string]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []map[string]interface{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec map[string]interface{}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func firstNonEmptyString(raw map[string]interface{}, candidates []string) (string, bool) {
	for _, field := range candidates {
		if v, ok := raw[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func stringValues(raw map[string]interface{}, fields []string) []string {
	var out []string
	for _, field := range fields {
		if v, ok := raw[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func hitDenyPhrase(fields []string, phrases []string) bool {
	for _, field := range fields {
		lower := strings.ToLower(field)
		for _, phrase := range phrases {
			if phrase == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(phrase)) {
				return true
			}
		}
	}
	return false
}
