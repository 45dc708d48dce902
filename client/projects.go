package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"ScriptSuite-server/intake"
	"ScriptSuite-server/models"
)

type projectEnvelope struct {
	Project models.Project `json:"project"`
}

// CreateProject sends the draft and the optional script as one multipart
// request. It is the intake controller's Creator.
func (c *Client) CreateProject(ctx context.Context, d intake.Draft, file *intake.ScriptFile) (intake.Created, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"title", d.Title},
		{"logline", d.Logline},
		{"synopsis", d.Synopsis},
		{"genre", d.Genre},
		{"budget_range", d.BudgetRange},
		{"funding_goal", d.FundingGoal},
		{"timeline", d.Timeline},
		{"script_text", d.ScriptText},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := mw.WriteField(f.name, f.value); err != nil {
			return intake.Created{}, err
		}
	}
	for _, g := range d.TargetGenres {
		if err := mw.WriteField("target_genres", g); err != nil {
			return intake.Created{}, err
		}
	}
	if file != nil {
		if err := writeScriptPart(mw, file); err != nil {
			return intake.Created{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return intake.Created{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("projects"), &buf)
	if err != nil {
		return intake.Created{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out projectEnvelope
	if err := c.do(req, &out); err != nil {
		return intake.Created{}, err
	}
	c.log.Info("Project created", "project_id", out.Project.ID, "title", out.Project.Title)
	return intake.Created{ID: out.Project.ID, Title: out.Project.Title}, nil
}

func writeScriptPart(mw *multipart.Writer, file *intake.ScriptFile) error {
	if file.Open == nil {
		return fmt.Errorf("script %q has no content", file.Name)
	}
	r, err := file.Open()
	if err != nil {
		return fmt.Errorf("open script: %w", err)
	}
	defer r.Close()

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="script"; filename=%q`, file.Name))
	hdr.Set("Content-Type", file.MIMEType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	return nil
}

func (c *Client) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var out projectEnvelope
	if err := c.doJSON(ctx, http.MethodGet, c.url("projects", id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Project, nil
}

// UpdateProject sends a partial update; nil fields are left alone.
func (c *Client) UpdateProject(ctx context.Context, id string, patch models.ProjectPatch) (*models.Project, error) {
	var out projectEnvelope
	if err := c.doJSON(ctx, http.MethodPatch, c.url("projects", id), patch, &out); err != nil {
		return nil, err
	}
	return &out.Project, nil
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, c.url("projects", id), nil, nil)
}
