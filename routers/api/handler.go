package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ScriptSuite-server/intake"
	"ScriptSuite-server/logger"
	"ScriptSuite-server/models"
	"ScriptSuite-server/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// TaskCanceller stops a project's unfinished analyses.
type TaskCanceller interface {
	CancelProjectTasks(ctx context.Context, projectID, reason string) (int, error)
}

// Handler serves the project and analysis API.
type Handler struct {
	DB        *gorm.DB
	Queue     service.Queue
	Store     service.ScriptStore
	Canceller TaskCanceller
	Limits    intake.FileLimits
	Log       *logger.Logger
	// WSPoll is how often the websocket re-reads a task.
	WSPoll time.Duration
}

func NewHandler(db *gorm.DB, queue service.Queue, store service.ScriptStore, canceller TaskCanceller, limits intake.FileLimits, log *logger.Logger) *Handler {
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = intake.DefaultMaxFileBytes
	}
	if limits.AcceptedType == "" {
		limits.AcceptedType = intake.DefaultAcceptedType
	}
	return &Handler{
		DB:        db,
		Queue:     queue,
		Store:     store,
		Canceller: canceller,
		Limits:    limits,
		Log:       log.With("component", "API"),
		WSPoll:    time.Second,
	}
}

func (h *Handler) rules() intake.Rules {
	return intake.Rules{MinFundingGoal: models.MinFundingGoal, Files: h.Limits}
}

// loadProject writes a 404 envelope and returns nil when the project is missing.
func (h *Handler) loadProject(c *gin.Context) *models.Project {
	id := c.Param("project_id")
	p, err := models.GetProject(h.DB, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		RespondError(c, http.StatusNotFound, CodeProjectNotFound, errors.New("project not found"))
		return nil
	}
	if err != nil {
		h.Log.Error("Load project failed", "project_id", id, "error", err)
		RespondError(c, http.StatusInternalServerError, CodeInternal, errors.New("failed to load project"))
		return nil
	}
	return p
}
