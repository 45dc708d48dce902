package models

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func ptr[T any](v T) *T { return &v }

func TestProjectLifecycle(t *testing.T) {
	db := newTestDB(t)

	p := &Project{ID: "p-1", Title: "Ocean's Edge", TargetGenres: StringList{"drama", "thriller"}, FundingGoal: 250000}
	require.NoError(t, CreateProject(db, p))
	require.Equal(t, ProjectStatusDraft, p.Status)
	require.Equal(t, TierFree, p.Tier)

	got, err := GetProject(db, "p-1")
	require.NoError(t, err)
	require.Equal(t, StringList{"drama", "thriller"}, got.TargetGenres)
	require.False(t, got.HasScript())

	updated, err := UpdateProject(db, "p-1", ProjectPatch{
		Status:       ptr(ProjectStatusInProgress),
		Tier:         ptr(TierStudio),
		ScriptText:   ptr("INT. LIGHTHOUSE - NIGHT"),
		TargetGenres: ptr([]string{"mystery"}),
	})
	require.NoError(t, err)
	require.Equal(t, ProjectStatusInProgress, updated.Status)
	require.Equal(t, TierStudio, updated.Tier)
	require.Equal(t, StringList{"mystery"}, updated.TargetGenres)
	require.Equal(t, "Ocean's Edge", updated.Title, "unset fields are kept")
	require.True(t, updated.HasScript())

	require.NoError(t, DeleteProject(db, "p-1"))
	_, err = GetProject(db, "p-1")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.ErrorIs(t, DeleteProject(db, "p-1"), gorm.ErrRecordNotFound)
}

func TestProjectPatchValidate(t *testing.T) {
	tests := []struct {
		name  string
		patch ProjectPatch
		ok    bool
	}{
		{"empty", ProjectPatch{}, true},
		{"published", ProjectPatch{Status: ptr(ProjectStatusPublished)}, true},
		{"unknown status", ProjectPatch{Status: ptr("archived")}, false},
		{"unknown tier", ProjectPatch{Tier: ptr("enterprise")}, false},
		{"blank title", ProjectPatch{Title: ptr("  ")}, false},
		{"funding below minimum", ProjectPatch{FundingGoal: ptr(int64(999))}, false},
		{"funding at minimum", ProjectPatch{FundingGoal: ptr(int64(1000))}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.patch.Validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.True(t, errors.Is(err, ErrInvalidProject), "got %v", err)
		})
	}
}

func TestCreateProjectRequiresTitle(t *testing.T) {
	db := newTestDB(t)
	require.ErrorIs(t, CreateProject(db, &Project{ID: "p-2"}), ErrInvalidProject)
}

func TestTaskStatusTransitions(t *testing.T) {
	db := newTestDB(t)
	task := &Task{ID: "t-1", ProjectID: "p-1", Feature: "vfx_analysis"}
	require.NoError(t, CreateTask(db, task))
	require.Equal(t, TaskStatusPending, task.Status)

	require.NoError(t, task.UpdateStatus(db, TaskStatusProcessing, nil, ""))
	require.NoError(t, task.SetJob(db, "job-9"))
	require.NoError(t, task.SetProgress(db, 40, "rendering"))

	got, err := GetTask(db, "t-1")
	require.NoError(t, err)
	require.Equal(t, TaskStatusProcessing, got.Status)
	require.Equal(t, "job-9", got.JobID)
	require.Equal(t, 40, got.Progress)
	require.NotNil(t, got.StartedAt)
	require.Nil(t, got.FinishedAt)

	require.NoError(t, got.UpdateStatus(db, TaskStatusFinished, JSON(`{"shots":12}`), ""))
	got, err = GetTask(db, "t-1")
	require.NoError(t, err)
	require.Equal(t, 100, got.Progress)
	require.NotNil(t, got.FinishedAt)
	require.JSONEq(t, `{"shots":12}`, string(got.Result))
	require.True(t, TaskTerminal(got.Status))
}

func TestSettledTaskIgnoresLateWrites(t *testing.T) {
	db := newTestDB(t)
	task := &Task{ID: "t-1", ProjectID: "p-1", Feature: "vfx_analysis"}
	require.NoError(t, CreateTask(db, task))

	stale, err := GetTask(db, "t-1")
	require.NoError(t, err)
	require.NoError(t, task.UpdateStatus(db, TaskStatusCancelled, nil, "script changed"))

	require.ErrorIs(t, stale.UpdateStatus(db, TaskStatusProcessing, nil, ""), ErrTaskSettled)
	require.ErrorIs(t, stale.SetJob(db, "job-1"), ErrTaskSettled)
	require.ErrorIs(t, stale.SetProgress(db, 50, "half"), ErrTaskSettled)
	require.ErrorIs(t, stale.UpdateStatus(db, TaskStatusFinished, JSON(`{"shots":1}`), ""), ErrTaskSettled)
	require.Equal(t, TaskStatusCancelled, stale.Status)

	got, err := GetTask(db, "t-1")
	require.NoError(t, err)
	require.Equal(t, TaskStatusCancelled, got.Status)
	require.Equal(t, "script changed", got.Error)
	require.Empty(t, got.JobID)
	require.True(t, got.Result.Empty())
}

func TestDeleteAnalysisResults(t *testing.T) {
	db := newTestDB(t)
	for _, r := range []AnalysisResult{
		{ProjectID: "p-1", Feature: "vfx_analysis", TaskID: "a", Payload: JSON(`{"shots":1}`)},
		{ProjectID: "p-1", Feature: "scene_extraction", TaskID: "b", Payload: JSON(`{"scenes":2}`)},
		{ProjectID: "p-2", Feature: "vfx_analysis", TaskID: "c", Payload: JSON(`{"shots":3}`)},
	} {
		require.NoError(t, SaveAnalysisResult(db, &r))
	}

	require.NoError(t, DeleteAnalysisResults(db, "p-1"))
	left, err := ListAnalysisResults(db, "p-1")
	require.NoError(t, err)
	require.Empty(t, left)
	other, err := ListAnalysisResults(db, "p-2")
	require.NoError(t, err)
	require.Len(t, other, 1)
}

func TestLatestTasksPerFeature(t *testing.T) {
	db := newTestDB(t)
	base := time.Now().Add(-time.Hour)
	for i, tk := range []Task{
		{ID: "a", ProjectID: "p-1", Feature: "scene_extraction", Status: TaskStatusFailed},
		{ID: "b", ProjectID: "p-1", Feature: "scene_extraction", Status: TaskStatusProcessing},
		{ID: "c", ProjectID: "p-1", Feature: "vfx_analysis", Status: TaskStatusFinished},
		{ID: "d", ProjectID: "p-2", Feature: "vfx_analysis", Status: TaskStatusPending},
	} {
		tk.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, CreateTask(db, &tk))
	}

	latest, err := LatestTasks(db, "p-1")
	require.NoError(t, err)
	require.Len(t, latest, 2)
	require.Equal(t, "b", latest["scene_extraction"].ID)
	require.Equal(t, "c", latest["vfx_analysis"].ID)

	processing, err := ListTasks(db, "p-1", TaskStatusProcessing, TaskStatusPending)
	require.NoError(t, err)
	require.Len(t, processing, 1)
}

func TestSaveAnalysisResultLastWriteWins(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, SaveAnalysisResult(db, &AnalysisResult{ProjectID: "p-1", Feature: "casting_suggestions", TaskID: "t-1", Payload: JSON(`{"v":1}`)}))
	require.NoError(t, SaveAnalysisResult(db, &AnalysisResult{ProjectID: "p-1", Feature: "casting_suggestions", TaskID: "t-2", Payload: JSON(`{"v":2}`)}))
	require.NoError(t, SaveAnalysisResult(db, &AnalysisResult{ProjectID: "p-1", Feature: "location_analysis", TaskID: "t-3", Payload: JSON(`[]`)}))

	results, err := ListAnalysisResults(db, "p-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		if r.Feature == "casting_suggestions" {
			require.Equal(t, "t-2", r.TaskID)
			require.JSONEq(t, `{"v":2}`, string(r.Payload))
		}
	}
}

func TestJSONEmpty(t *testing.T) {
	require.True(t, JSON(nil).Empty())
	require.True(t, JSON("null").Empty())
	require.False(t, JSON("{}").Empty())
}
