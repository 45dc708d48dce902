package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"ScriptSuite-server/intake"
	"ScriptSuite-server/models"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// multipartOverhead is the room left for form fields around the script part.
const multipartOverhead = 1 << 20

// CreateProject handles POST /projects: a multipart form with the project
// fields and an optional "script" file part.
func (h *Handler) CreateProject(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.Limits.MaxBytes+multipartOverhead)
	if _, err := c.MultipartForm(); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		if bodyTooLarge(err) {
			RespondError(c, http.StatusRequestEntityTooLarge, string(intake.RejectTooLarge), errors.New("script file exceeds the upload limit"))
			return
		}
		RespondError(c, http.StatusBadRequest, CodeInvalidRequest, fmt.Errorf("invalid form: %w", err))
		return
	}

	draft := intake.Draft{
		Title:        strings.TrimSpace(c.PostForm("title")),
		Logline:      c.PostForm("logline"),
		Synopsis:     c.PostForm("synopsis"),
		Genre:        c.PostForm("genre"),
		BudgetRange:  c.PostForm("budget_range"),
		FundingGoal:  c.PostForm("funding_goal"),
		Timeline:     c.PostForm("timeline"),
		TargetGenres: c.PostFormArray("target_genres"),
		ScriptText:   c.PostForm("script_text"),
	}
	if err := h.rules().ValidateInfo(draft); err != nil {
		RespondError(c, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}
	goal, _, _ := draft.FundingGoalValue()

	project := &models.Project{
		ID:           uuid.NewString(),
		Title:        draft.Title,
		Logline:      draft.Logline,
		Synopsis:     draft.Synopsis,
		Genre:        draft.Genre,
		BudgetRange:  draft.BudgetRange,
		FundingGoal:  goal,
		Timeline:     draft.Timeline,
		TargetGenres: models.StringList(draft.TargetGenres),
		ScriptText:   draft.ScriptText,
	}

	fh, err := c.FormFile("script")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	case err != nil:
		RespondError(c, http.StatusBadRequest, CodeInvalidRequest, fmt.Errorf("invalid script part: %w", err))
		return
	default:
		if !h.storeScript(c, project, fh) {
			return
		}
	}

	if err := models.CreateProject(h.DB, project); err != nil {
		h.Log.Error("Create project failed", "title", project.Title, "error", err)
		if project.ScriptObject != "" {
			if rmErr := h.Store.RemoveScript(c.Request.Context(), project.ScriptObject); rmErr != nil {
				h.Log.Warn("Remove orphaned script failed", "object", project.ScriptObject, "error", rmErr)
			}
		}
		RespondError(c, http.StatusInternalServerError, CodeInternal, errors.New("failed to create project"))
		return
	}
	h.Log.Info("Project created", "project_id", project.ID, "title", project.Title, "script", project.ScriptName)
	c.JSON(http.StatusCreated, gin.H{"project": project})
}

// storeScript validates the uploaded part and puts it in the script store.
func (h *Handler) storeScript(c *gin.Context, project *models.Project, fh *multipart.FileHeader) bool {
	f, err := fh.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, CodeInvalidRequest, fmt.Errorf("read script: %w", err))
		return false
	}
	defer f.Close()

	sniffed, err := mimetype.DetectReader(f)
	if err != nil {
		RespondError(c, http.StatusBadRequest, CodeInvalidRequest, fmt.Errorf("read script: %w", err))
		return false
	}
	declared := fh.Header.Get("Content-Type")
	if declared == "" || strings.HasPrefix(declared, "application/octet-stream") {
		declared = sniffed.String()
	}
	if err := intake.ValidateScriptFile(fh.Filename, fh.Size, declared, h.Limits); err != nil {
		respondFileError(c, err)
		return false
	}
	if !sniffed.Is(h.Limits.AcceptedType) {
		respondFileError(c, &intake.FileError{Reason: intake.RejectInvalidType, Name: fh.Filename})
		return false
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		RespondError(c, http.StatusInternalServerError, CodeInternal, fmt.Errorf("rewind script: %w", err))
		return false
	}

	object, err := h.Store.PutScript(c.Request.Context(), project.ID, fh.Filename, f, fh.Size, h.Limits.AcceptedType)
	if err != nil {
		h.Log.Error("Store script failed", "project_id", project.ID, "error", err)
		RespondError(c, http.StatusBadGateway, CodeStorageFailed, errors.New("failed to store script"))
		return false
	}
	project.ScriptObject = object
	project.ScriptName = fh.Filename
	project.ScriptSize = fh.Size
	return true
}

func respondFileError(c *gin.Context, err error) {
	var fe *intake.FileError
	if !errors.As(err, &fe) {
		RespondError(c, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}
	status := http.StatusBadRequest
	if fe.Reason == intake.RejectTooLarge {
		status = http.StatusRequestEntityTooLarge
	}
	RespondError(c, status, string(fe.Reason), err)
}

func bodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

// GetProject handles GET /projects/:project_id.
func (h *Handler) GetProject(c *gin.Context) {
	p := h.loadProject(c)
	if p == nil {
		return
	}
	RespondOK(c, gin.H{"project": p})
}

// UpdateProject handles PATCH /projects/:project_id. A changed script cancels
// every analysis still running against the old one and drops stored results.
func (h *Handler) UpdateProject(c *gin.Context) {
	id := c.Param("project_id")
	var patch models.ProjectPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		RespondError(c, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}
	if err := patch.Validate(); err != nil {
		RespondError(c, http.StatusBadRequest, CodeInvalidRequest, err)
		return
	}
	if h.loadProject(c) == nil {
		return
	}

	// Running analyses are stopped before the stored results are cleared so
	// none of them can land a payload for the old script afterwards.
	if patch.ScriptText != nil && h.Canceller != nil {
		if _, err := h.Canceller.CancelProjectTasks(c.Request.Context(), id, "cancelled due to script change"); err != nil {
			h.Log.Warn("Cancel tasks before update failed", "project_id", id, "error", err)
		}
	}
	p, err := models.UpdateProject(h.DB, id, patch)
	if err != nil {
		h.Log.Error("Update project failed", "project_id", id, "error", err)
		RespondError(c, http.StatusInternalServerError, CodeInternal, errors.New("failed to update project"))
		return
	}
	RespondOK(c, gin.H{"project": p})
}

// DeleteProject handles DELETE /projects/:project_id.
func (h *Handler) DeleteProject(c *gin.Context) {
	p := h.loadProject(c)
	if p == nil {
		return
	}
	ctx := c.Request.Context()
	if h.Canceller != nil {
		if _, err := h.Canceller.CancelProjectTasks(ctx, p.ID, "project deleted"); err != nil {
			h.Log.Warn("Cancel tasks before delete failed", "project_id", p.ID, "error", err)
		}
	}
	if err := models.DeleteProject(h.DB, p.ID); err != nil {
		h.Log.Error("Delete project failed", "project_id", p.ID, "error", err)
		RespondError(c, http.StatusInternalServerError, CodeInternal, errors.New("failed to delete project"))
		return
	}
	if p.ScriptObject != "" {
		if err := h.Store.RemoveScript(ctx, p.ScriptObject); err != nil {
			h.Log.Warn("Remove script failed", "object", p.ScriptObject, "error", err)
		}
	}
	h.Log.Info("Project deleted", "project_id", p.ID)
	RespondOK(c, gin.H{"project_id": p.ID, "deleted": true})
}
