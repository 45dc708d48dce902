package api

import (
	"errors"
	"net/http"

	"ScriptSuite-server/analysis"
	"ScriptSuite-server/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// TriggerAnalysis handles POST /projects/:project_id/analysis/:feature. The
// task is queued and the response returns before the worker sees it.
func (h *Handler) TriggerAnalysis(c *gin.Context) {
	feature, err := analysis.ParseFeature(c.Param("feature"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, CodeUnknownFeature, err)
		return
	}
	project := h.loadProject(c)
	if project == nil {
		return
	}
	if !project.HasScript() {
		RespondError(c, http.StatusConflict, CodeScriptRequired, errors.New("project has no script to analyze"))
		return
	}

	task := &models.Task{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Feature:   feature.Key(),
		Status:    models.TaskStatusPending,
		Message:   "queued",
	}
	if err := models.CreateTask(h.DB, task); err != nil {
		h.Log.Error("Create task failed", "project_id", project.ID, "feature", feature.Key(), "error", err)
		RespondError(c, http.StatusInternalServerError, CodeInternal, errors.New("failed to create task"))
		return
	}
	if err := h.Queue.EnqueueAnalysis(c.Request.Context(), task.ID); err != nil {
		h.Log.Error("Enqueue task failed", "task_id", task.ID, "error", err)
		if err := task.UpdateStatus(h.DB, models.TaskStatusFailed, nil, "enqueue failed"); err != nil {
			h.Log.Error("Mark task failed after enqueue error failed", "task_id", task.ID, "error", err)
		}
		RespondError(c, http.StatusServiceUnavailable, CodeQueueUnavailable, errors.New("analysis queue unavailable"))
		return
	}
	h.Log.Info("Analysis queued", "task_id", task.ID, "project_id", project.ID, "feature", feature.Key())
	c.JSON(http.StatusAccepted, gin.H{"task": task})
}

// GetAnalysis handles GET /projects/:project_id/analysis and reports every
// feature that has been requested for the project.
func (h *Handler) GetAnalysis(c *gin.Context) {
	project := h.loadProject(c)
	if project == nil {
		return
	}
	results, err := models.ListAnalysisResults(h.DB, project.ID)
	if err != nil {
		h.Log.Error("List results failed", "project_id", project.ID, "error", err)
		RespondError(c, http.StatusInternalServerError, CodeInternal, errors.New("failed to load analysis"))
		return
	}
	latest, err := models.LatestTasks(h.DB, project.ID)
	if err != nil {
		h.Log.Error("List tasks failed", "project_id", project.ID, "error", err)
		RespondError(c, http.StatusInternalServerError, CodeInternal, errors.New("failed to load analysis"))
		return
	}
	RespondOK(c, analysis.NewReport(project.ID, resultSet(results, latest)))
}

// resultSet merges stored results with the newest task per feature. A stored
// result only counts while it belongs to that task; a newer task decides the
// state on its own. A finished task whose result was cleared by a script
// change is reported as never run.
func resultSet(results []models.AnalysisResult, latest map[string]models.Task) analysis.ResultSet {
	stored := make(map[string]models.AnalysisResult, len(results))
	for _, r := range results {
		stored[r.Feature] = r
	}

	rs := analysis.ResultSet{}
	for _, f := range analysis.All() {
		task, hasTask := latest[f.Key()]
		result, hasResult := stored[f.Key()]
		switch {
		case hasTask && !models.TaskTerminal(task.Status):
			rs[f] = analysis.Entry{State: analysis.StateInFlight}
		case hasResult && (!hasTask || result.TaskID == task.ID):
			rs[f] = analysis.Entry{State: analysis.StateSucceeded, Result: []byte(result.Payload)}
		case hasTask && task.Status == models.TaskStatusFinished:
		case hasTask:
			msg := task.Error
			if msg == "" {
				msg = "analysis " + task.Status
			}
			rs[f] = analysis.Entry{State: analysis.StateFailed, Err: msg}
		}
	}
	return rs
}
