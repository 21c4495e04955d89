package locker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/logger"
	"github.com/Dicklesworthstone/doodlestein-self-releaser-sub001/pkg/types"
)

// Run records live next to the locks so a crashed run can be inspected and
// swept. Records are written whole with write-then-rename so a partially
// written record is never read as valid.

// WriteRunRecord persists the run record for crash recovery and inspection
func (m *Manager) WriteRunRecord(record *types.RunRecord) error {
	if record.RunID == "" {
		return fmt.Errorf("run record has no run id")
	}
	return writeAtomic(m.runPath(record.RunID), record)
}

// ReadRunRecord loads one run record by identifier
func (m *Manager) ReadRunRecord(runID string) (*types.RunRecord, error) {
	data, err := os.ReadFile(m.runPath(runID))
	if err != nil {
		return nil, err
	}
	var record types.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to parse run record: %w", err)
	}
	return &record, nil
}

// ListRunRecords returns all run records for a repository, newest first.
// Records that fail to parse are skipped: a torn write must never surface
// as a valid record.
func (m *Manager) ListRunRecords(repo string) ([]*types.RunRecord, error) {
	entries, err := os.ReadDir(runsDir(m.stateDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var records []*types.RunRecord
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		record, err := m.ReadRunRecord(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			if m.logger != nil {
				m.logger.Warn("Skipping unreadable run record",
					logger.WithField("file", entry.Name()),
					logger.WithField("error", err))
			}
			continue
		}
		if repo == "" || record.Repo == repo {
			records = append(records, record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	return records, nil
}

// ArchiveRuns moves terminal run records for a repository out of the active
// runs directory. Called when a new run for the same repository begins.
func (m *Manager) ArchiveRuns(repo string) error {
	records, err := m.ListRunRecords(repo)
	if err != nil {
		return err
	}
	for _, record := range records {
		if record.Status == types.RunStatusRunning {
			continue
		}
		src := m.runPath(record.RunID)
		dst := filepath.Join(archiveDir(m.stateDir), record.RunID+".json")
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to archive run %s: %w", record.RunID, err)
		}
	}
	return nil
}

func (m *Manager) runPath(runID string) string {
	return filepath.Join(runsDir(m.stateDir), runID+".json")
}
