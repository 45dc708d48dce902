package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"ScriptSuite-server/analysis"
	"ScriptSuite-server/models"
)

type taskEnvelope struct {
	Task models.Task `json:"task"`
}

// TriggerAnalysis queues one feature for a project.
func (c *Client) TriggerAnalysis(ctx context.Context, projectID string, f analysis.Feature) (*models.Task, error) {
	var out taskEnvelope
	if err := c.doJSON(ctx, http.MethodPost, c.url("projects", projectID, "analysis", f.Key()), nil, &out); err != nil {
		return nil, err
	}
	return &out.Task, nil
}

func (c *Client) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	var out taskEnvelope
	if err := c.doJSON(ctx, http.MethodGet, c.url("tasks", taskID), nil, &out); err != nil {
		return nil, err
	}
	return &out.Task, nil
}

// Run triggers f and polls its task until it settles. It is the aggregator's
// Runner; cancelling ctx stops the poll.
func (c *Client) Run(ctx context.Context, projectID string, f analysis.Feature) (json.RawMessage, error) {
	task, err := c.TriggerAnalysis(ctx, projectID, f)
	if err != nil {
		return nil, err
	}
	log := c.log.With("task_id", task.ID, "project_id", projectID, "feature", f.Key())

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		if done, payload, err := settled(task); done {
			return payload, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("analysis %s: %w", f.Key(), ctx.Err())
		case <-ticker.C:
		}
		next, err := c.GetTask(ctx, task.ID)
		var apiErr *APIError
		switch {
		case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
			return nil, err
		case err != nil:
			if ctx.Err() == nil {
				log.Debug("Task poll failed, retrying", "error", err)
			}
			continue
		}
		task = next
	}
}

func settled(t *models.Task) (bool, json.RawMessage, error) {
	switch t.Status {
	case models.TaskStatusFinished:
		return true, json.RawMessage(t.Result), nil
	case models.TaskStatusFailed, models.TaskStatusCancelled:
		msg := t.Error
		if msg == "" {
			msg = "analysis " + t.Status
		}
		return true, nil, errors.New(msg)
	}
	return false, nil, nil
}

// FetchAnalysis reads every stored feature result for a project.
func (c *Client) FetchAnalysis(ctx context.Context, projectID string) (analysis.ResultSet, error) {
	var report analysis.Report
	if err := c.doJSON(ctx, http.MethodGet, c.url("projects", projectID, "analysis"), nil, &report); err != nil {
		return nil, err
	}
	return report.ResultSet(), nil
}
