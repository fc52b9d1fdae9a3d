package task

import (
	"errors"
	"log"

	"danmuhub/models"
)

// RebuildFunc reconstructs a submission from a persisted history row.
// Returning (nil, nil) means the task type is not recoverable.
type RebuildFunc func(record models.TaskRecord) (*Spec, error)

// Recover scans history for rows a previous process left behind. Rows
// caught mid-run are failed with the restart message; recoverable pending
// rows are re-submitted from their stored parameters (a Conflict on replay
// counts as success); everything else is failed as unrecoverable.
func (m *Manager) Recover(rebuild RebuildFunc) error {
	rows, err := m.repo.InterruptedTasks()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	log.Printf("[task] recovering %d interrupted tasks", len(rows))

	for _, row := range rows {
		switch row.Status {
		case models.TaskStatusRunning, models.TaskStatusPaused:
			_ = m.repo.UpdateProgress(row.TaskID, models.TaskStatusFailed, row.Progress, msgRestart)
			continue
		case models.TaskStatusPending:
		default:
			continue
		}

		var spec *Spec
		if rebuild != nil && row.TaskType != "" && row.Parameters != "" {
			spec, err = rebuild(row)
			if err != nil {
				log.Printf("[task] rebuild %s (%s): %v", row.TaskID, row.TaskType, err)
				spec = nil
			}
		}
		if spec == nil {
			_ = m.repo.UpdateProgress(row.TaskID, models.TaskStatusFailed, 0, msgUnrecoverable)
			continue
		}

		if _, _, err := m.Submit(*spec); err != nil {
			if errors.Is(err, ErrTaskConflict) {
				// an equivalent task is already queued; the old row is done
				_ = m.repo.UpdateProgress(row.TaskID, models.TaskStatusFailed, 0, msgRestart)
				continue
			}
			_ = m.repo.UpdateProgress(row.TaskID, models.TaskStatusFailed, 0, lastLine(err))
			continue
		}
		_ = m.repo.UpdateProgress(row.TaskID, models.TaskStatusFailed, 0, msgRestart)
		log.Printf("[task] replayed %s as a new task", row.TaskID)
	}
	return nil
}
