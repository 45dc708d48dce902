package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Task states. A task is created pending, taken by the processor, and ends
// finished, failed or cancelled.
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusFinished   = "finished"
	TaskStatusFailed     = "failed"
	// cancelled: the project changed or was deleted while the task ran
	TaskStatusCancelled = "cancelled"
)

var terminalStatuses = []string{TaskStatusFinished, TaskStatusFailed, TaskStatusCancelled}

// ErrTaskSettled is returned by writes against a task that already reached a
// terminal state. The row is left as it was.
var ErrTaskSettled = errors.New("task already settled")

// TaskTerminal reports whether status is final.
func TaskTerminal(status string) bool {
	return status == TaskStatusFinished || status == TaskStatusFailed || status == TaskStatusCancelled
}

// Task is one feature analysis request for a project.
type Task struct {
	ID         string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ProjectID  string     `gorm:"type:varchar(64);index" json:"project_id"`
	Feature    string     `gorm:"type:varchar(64)" json:"feature"`
	Status     string     `gorm:"type:varchar(32);index" json:"status"`
	Progress   int        `json:"progress"`
	Message    string     `gorm:"type:varchar(255)" json:"message,omitempty"`
	JobID      string     `gorm:"type:varchar(128)" json:"job_id,omitempty"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	Result     JSON       `gorm:"type:json" json:"result,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (Task) TableName() string {
	return "task"
}

func CreateTask(db *gorm.DB, t *Task) error {
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	return db.Create(t).Error
}

func GetTask(db *gorm.DB, id string) (*Task, error) {
	var t Task
	if err := db.First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateStatus moves t to status. result and errMsg are only written when set;
// terminal states stamp finished_at. A task that is already terminal is not
// touched and ErrTaskSettled is returned.
func (t *Task) UpdateStatus(db *gorm.DB, status string, result JSON, errMsg string) error {
	now := time.Now()
	updates := map[string]any{
		"status":     status,
		"updated_at": now,
	}
	switch {
	case status == TaskStatusProcessing && t.StartedAt == nil:
		updates["started_at"] = now
	case TaskTerminal(status):
		updates["finished_at"] = now
	}
	if status == TaskStatusFinished {
		updates["progress"] = 100
	}
	if len(result) > 0 {
		updates["result"] = result
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	if err := t.updateUnsettled(db, updates); err != nil {
		return err
	}
	t.Status = status
	return nil
}

// updateUnsettled applies updates only while the stored row is not terminal.
func (t *Task) updateUnsettled(db *gorm.DB, updates map[string]any) error {
	res := db.Model(t).Where("status NOT IN ?", terminalStatuses).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// MySQL counts changed rows only, so a no-op write also lands here.
	var cur Task
	if err := db.Select("status").First(&cur, "id = ?", t.ID).Error; err != nil {
		return err
	}
	if TaskTerminal(cur.Status) {
		t.Status = cur.Status
		return ErrTaskSettled
	}
	return nil
}

// SetJob records the worker's job id once the request was accepted.
func (t *Task) SetJob(db *gorm.DB, jobID string) error {
	if err := t.updateUnsettled(db, map[string]any{"job_id": jobID, "updated_at": time.Now()}); err != nil {
		return err
	}
	t.JobID = jobID
	return nil
}

// SetProgress stores the worker's progress report.
func (t *Task) SetProgress(db *gorm.DB, progress int, message string) error {
	updates := map[string]any{"progress": progress, "updated_at": time.Now()}
	if message != "" {
		updates["message"] = message
	}
	if err := t.updateUnsettled(db, updates); err != nil {
		return err
	}
	t.Progress = progress
	return nil
}

// ListTasks returns a project's tasks in the given states, newest first. No
// states means every state.
func ListTasks(db *gorm.DB, projectID string, statuses ...string) ([]Task, error) {
	q := db.Where("project_id = ?", projectID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var tasks []Task
	if err := q.Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// LatestTasks returns the newest task per feature for a project.
func LatestTasks(db *gorm.DB, projectID string) (map[string]Task, error) {
	tasks, err := ListTasks(db, projectID)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]Task, len(tasks))
	for _, t := range tasks {
		if _, ok := latest[t.Feature]; !ok {
			latest[t.Feature] = t
		}
	}
	return latest, nil
}
