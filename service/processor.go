package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ScriptSuite-server/analysis"
	"ScriptSuite-server/logger"
	"ScriptSuite-server/models"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"
)

// Processor consumes analysis tasks: it dispatches each one to the AI worker,
// polls the worker job until it settles and stores the outcome.
type Processor struct {
	DB             *gorm.DB
	Store          ScriptStore
	WorkerEndpoint string
	HTTP           *http.Client
	PollInterval   time.Duration
	PollTimeout    time.Duration
	Polls          *PollRegistry
	Log            *logger.Logger
}

func NewProcessor(db *gorm.DB, store ScriptStore, workerEndpoint string, log *logger.Logger) *Processor {
	return &Processor{
		DB:             db,
		Store:          store,
		WorkerEndpoint: strings.TrimRight(workerEndpoint, "/"),
		HTTP:           &http.Client{Timeout: 30 * time.Second},
		PollInterval:   3 * time.Second,
		PollTimeout:    30 * time.Minute,
		Polls:          NewPollRegistry(),
		Log:            log.With("component", "AnalysisProcessor"),
	}
}

func (p *Processor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAnalysisTask, p.HandleAnalysisTask)
	return mux
}

// Start runs the task consumer in the background. Stop it with Shutdown on
// the returned server.
func (p *Processor) Start(redis asynq.RedisClientOpt, concurrency int) (*asynq.Server, error) {
	srv := asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 1,
		},
	})
	if err := srv.Start(p.Mux()); err != nil {
		return nil, fmt.Errorf("start processor: %w", err)
	}
	p.Log.Info("Processor started", "concurrency", concurrency)
	return srv, nil
}

// HandleAnalysisTask runs one feature analysis end to end. Worker failures are
// recorded on the task and not retried; only a failed dispatch is retried.
func (p *Processor) HandleAnalysisTask(ctx context.Context, t *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	task, err := models.GetTask(p.DB, payload.TaskID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		p.Log.Warn("Task vanished before processing", "task_id", payload.TaskID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if models.TaskTerminal(task.Status) {
		return nil
	}
	log := p.Log.With("task_id", task.ID, "project_id", task.ProjectID, "feature", task.Feature)

	feature, err := analysis.ParseFeature(task.Feature)
	if err != nil {
		p.fail(task, log, err.Error())
		return nil
	}
	project, err := models.GetProject(p.DB, task.ProjectID)
	if err != nil {
		p.fail(task, log, fmt.Sprintf("project unavailable: %v", err))
		return nil
	}

	// Registered before dispatch so a cancel also aborts the worker request.
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.Polls.Register(task.ID, cancel)
	defer p.Polls.Unregister(task.ID)
	cancelled := func() bool { return pollCtx.Err() != nil && ctx.Err() == nil }

	if err := task.UpdateStatus(p.DB, models.TaskStatusProcessing, nil, ""); errors.Is(err, models.ErrTaskSettled) {
		log.Info("Task settled before dispatch", "status", task.Status)
		return nil
	} else if err != nil {
		log.Warn("Mark processing failed", "error", err)
	}

	jobID, err := p.dispatch(pollCtx, task, project, feature)
	if err != nil {
		if cancelled() {
			log.Info("Dispatch cancelled")
			return nil
		}
		log.Warn("Worker request failed", "error", err)
		if errors.Is(err, asynq.SkipRetry) || lastAttempt(ctx) {
			p.fail(task, log, fmt.Sprintf("worker request failed: %v", err))
			return err
		}
		if uerr := task.UpdateStatus(p.DB, models.TaskStatusPending, nil, fmt.Sprintf("worker request failed, retrying: %v", err)); uerr != nil {
			log.Warn("Mark pending failed", "error", uerr)
		}
		return err
	}
	if err := task.SetJob(p.DB, jobID); errors.Is(err, models.ErrTaskSettled) {
		// The canceller saw no job id yet, so the worker job is ours to drop.
		log.Info("Task settled during dispatch, dropping job", "job_id", jobID, "status", task.Status)
		if err := p.CancelWorkerJob(context.WithoutCancel(ctx), jobID); err != nil {
			log.Warn("Worker cancel failed", "job_id", jobID, "error", err)
		}
		return nil
	} else if err != nil {
		log.Warn("Store job id failed", "job_id", jobID, "error", err)
	}
	log.Info("Job accepted, polling", "job_id", jobID)

	result, err := p.pollJob(pollCtx, task, jobID)
	if err != nil {
		if cancelled() {
			log.Info("Poll cancelled", "job_id", jobID)
			return nil
		}
		if errors.Is(err, models.ErrTaskSettled) {
			log.Info("Task settled while polling", "job_id", jobID, "status", task.Status)
			return nil
		}
		p.fail(task, log, err.Error())
		return nil
	}
	if result.Empty() {
		p.fail(task, log, "worker returned an empty result")
		return nil
	}

	// The result is only stored if the task is still unsettled when it lands.
	err = p.DB.Transaction(func(tx *gorm.DB) error {
		if err := task.UpdateStatus(tx, models.TaskStatusFinished, result, ""); err != nil {
			return err
		}
		return models.SaveAnalysisResult(tx, &models.AnalysisResult{
			ProjectID: task.ProjectID,
			Feature:   task.Feature,
			TaskID:    task.ID,
			Payload:   result,
		})
	})
	switch {
	case errors.Is(err, models.ErrTaskSettled):
		log.Info("Task settled while polling, result dropped", "job_id", jobID, "status", task.Status)
		return nil
	case err != nil:
		p.fail(task, log, fmt.Sprintf("store result: %v", err))
		return nil
	}
	log.Info("Analysis completed", "job_id", jobID)
	return nil
}

// lastAttempt reports whether asynq will not retry the running task. Outside
// a queue handler every attempt is the last.
func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return !ok || retried >= maxRetry
}

func (p *Processor) fail(task *models.Task, log *logger.Logger, msg string) {
	log.Warn("Analysis failed", "error", msg)
	err := task.UpdateStatus(p.DB, models.TaskStatusFailed, nil, msg)
	switch {
	case errors.Is(err, models.ErrTaskSettled):
		log.Info("Task already settled, failure not recorded", "status", task.Status)
	case err != nil:
		log.Error("Mark failed failed", "error", err)
	}
}

type analyzeRequest struct {
	TaskID     string `json:"task_id"`
	ProjectID  string `json:"project_id"`
	Feature    string `json:"feature"`
	ScriptURL  string `json:"script_url,omitempty"`
	ScriptText string `json:"script_text,omitempty"`
}

// dispatch posts the job to the worker and returns its job id.
func (p *Processor) dispatch(ctx context.Context, task *models.Task, project *models.Project, feature analysis.Feature) (string, error) {
	if !project.HasScript() {
		return "", fmt.Errorf("project %s has no script: %w", project.ID, asynq.SkipRetry)
	}
	body := analyzeRequest{
		TaskID:     task.ID,
		ProjectID:  project.ID,
		Feature:    feature.Key(),
		ScriptText: project.ScriptText,
	}
	if project.ScriptObject != "" && p.Store != nil {
		u, err := p.Store.PresignScript(ctx, project.ScriptObject)
		if err != nil {
			return "", err
		}
		body.ScriptURL = u
	}

	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request failed: %w", err)
	}
	fullURL := p.WorkerEndpoint + "/v1/analyze/" + feature.Endpoint()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("worker status code: %d", resp.StatusCode)
	}

	var accepted struct {
		ID    string `json:"id"`
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return "", fmt.Errorf("decode response failed: %w", err)
	}
	if accepted.ID != "" {
		return accepted.ID, nil
	}
	if accepted.JobID != "" {
		return accepted.JobID, nil
	}
	return "", fmt.Errorf("response missing 'id'")
}

type jobStatus struct {
	Status   string          `json:"status"`
	Progress int             `json:"progress"`
	Message  string          `json:"message"`
	Result   json.RawMessage `json:"result"`
	Error    string          `json:"error"`
}

func (j jobStatus) succeeded() bool {
	switch j.Status {
	case models.TaskStatusFinished, "success", "completed", "succeeded":
		return true
	}
	return false
}

func (j jobStatus) failed() bool {
	switch j.Status {
	case models.TaskStatusFailed, "error", models.TaskStatusCancelled:
		return true
	}
	return false
}

var errJobNotFound = errors.New("worker job not found")

// pollJob polls GET /v1/jobs/{id} until the job settles, the timeout passes or
// ctx is cancelled.
func (p *Processor) pollJob(ctx context.Context, task *models.Task, jobID string) (models.JSON, error) {
	jobURL := fmt.Sprintf("%s/v1/jobs/%s", p.WorkerEndpoint, jobID)

	timeout := time.NewTimer(p.PollTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()

	lastProgress := task.Progress
	for {
		select {
		case <-timeout.C:
			return nil, fmt.Errorf("polling timeout after %s", p.PollTimeout)
		case <-ctx.Done():
			return nil, fmt.Errorf("polling canceled: %w", ctx.Err())
		case <-ticker.C:
			status, err := p.fetchJob(ctx, jobURL)
			if errors.Is(err, errJobNotFound) {
				return nil, err
			}
			if err != nil {
				if ctx.Err() == nil {
					p.Log.Debug("Poll error, retrying", "job_id", jobID, "error", err)
				}
				continue
			}
			switch {
			case status.succeeded():
				return models.JSON(status.Result), nil
			case status.failed():
				msg := status.Error
				if msg == "" {
					msg = "job " + status.Status
				}
				return nil, fmt.Errorf("worker reported failure: %s", msg)
			}
			if status.Progress != lastProgress {
				if err := task.SetProgress(p.DB, status.Progress, status.Message); errors.Is(err, models.ErrTaskSettled) {
					return nil, err
				} else if err != nil {
					p.Log.Warn("Store progress failed", "task_id", task.ID, "error", err)
				}
				lastProgress = status.Progress
			}
		}
	}
}

func (p *Processor) fetchJob(ctx context.Context, jobURL string) (jobStatus, error) {
	var status jobStatus
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jobURL, nil)
	if err != nil {
		return status, err
	}
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return status, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return status, errJobNotFound
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return status, err
	}
	if resp.StatusCode != http.StatusOK {
		return status, fmt.Errorf("worker status code: %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &status); err != nil {
		if len(body) > 512 {
			body = append(body[:512], "..."...)
		}
		return status, fmt.Errorf("decode job status: %w, body: %s", err, body)
	}
	return status, nil
}

// CancelWorkerJob asks the worker to drop a job.
func (p *Processor) CancelWorkerJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("empty job id")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.WorkerEndpoint+"/v1/jobs/"+jobID, nil)
	if err != nil {
		return fmt.Errorf("create delete request failed: %w", err)
	}
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("worker delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("worker delete status: %d", resp.StatusCode)
	}
	return nil
}

// CancelProjectTasks stops every unfinished analysis of a project: the worker
// job is dropped, the local poll cancelled and the task marked cancelled.
func (p *Processor) CancelProjectTasks(ctx context.Context, projectID, reason string) (int, error) {
	tasks, err := models.ListTasks(p.DB, projectID, models.TaskStatusPending, models.TaskStatusProcessing)
	if err != nil {
		return 0, err
	}
	for i := range tasks {
		t := &tasks[i]
		log := p.Log.With("task_id", t.ID, "project_id", projectID)
		if t.JobID != "" {
			if err := p.CancelWorkerJob(ctx, t.JobID); err != nil {
				log.Warn("Worker cancel failed", "job_id", t.JobID, "error", err)
			}
		}
		if p.Polls.Cancel(t.ID) {
			log.Debug("Poll cancelled")
		}
		if err := t.UpdateStatus(p.DB, models.TaskStatusCancelled, nil, reason); err != nil && !errors.Is(err, models.ErrTaskSettled) {
			log.Warn("Mark cancelled failed", "error", err)
		}
	}
	if len(tasks) > 0 {
		p.Log.Info("Project tasks cancelled", "project_id", projectID, "count", len(tasks), "reason", reason)
	}
	return len(tasks), nil
}
