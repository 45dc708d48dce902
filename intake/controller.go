package intake

import (
	"context"
	"fmt"
	"sync"

	"ScriptSuite-server/analysis"
	"ScriptSuite-server/logger"
)

// Created is what the server echoes back after creating a project.
type Created struct {
	ID    string
	Title string
}

// Creator sends the single create-with-attachment request.
type Creator interface {
	CreateProject(ctx context.Context, draft Draft, file *ScriptFile) (Created, error)
}

// Phase is the controller's lifecycle: Editing -> Submitting -> Created, or
// back to Editing when creation fails.
type Phase string

const (
	PhaseEditing    Phase = "editing"
	PhaseSubmitting Phase = "submitting"
	PhaseCreated    Phase = "created"
)

// Snapshot is a consistent copy of the controller state.
type Snapshot struct {
	Phase       Phase
	Step        Step
	Draft       Draft
	File        *ScriptFile
	FieldErrors map[Field]string
	LastError   string
	ProjectID   string
}

// Controller drives the intake wizard for one project draft.
type Controller struct {
	rules   Rules
	creator Creator
	log     *logger.Logger

	mu        sync.Mutex
	phase     Phase
	step      Step
	draft     Draft
	file      *ScriptFile
	fieldErrs map[Field]*FieldError
	lastErr   string
	projectID string
}

func NewController(rules Rules, creator Creator, log *logger.Logger) *Controller {
	return &Controller{
		rules:     rules.withDefaults(),
		creator:   creator,
		log:       log.With("component", "IntakeController"),
		phase:     PhaseEditing,
		step:      firstStep,
		fieldErrs: map[Field]*FieldError{},
	}
}

// SetField stores value and returns its field-level problem, if any. The value
// is kept either way; problems only block Advance and Submit.
func (c *Controller) SetField(f Field, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseEditing {
		return fmt.Errorf("intake: cannot edit while %s", c.phase)
	}
	if !c.draft.set(f, value) {
		return fmt.Errorf("intake: unknown field %q", f)
	}
	if fe := c.rules.validateField(c.draft, f); fe != nil {
		c.fieldErrs[f] = fe
		return fe
	}
	delete(c.fieldErrs, f)
	return nil
}

// SetTargetGenres replaces the target genre set, dropping blanks and repeats.
func (c *Controller) SetTargetGenres(genres []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseEditing {
		return
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(genres))
	for _, g := range genres {
		if g == "" || seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	c.draft.TargetGenres = out
}

// SelectFile holds f when it is within limits. A rejected file leaves the
// previous selection in place.
func (c *Controller) SelectFile(f ScriptFile) error {
	if err := ValidateScriptFile(f.Name, f.Size, f.MIMEType, c.rules.Files); err != nil {
		c.log.Debug("Script file rejected", "name", f.Name, "size", f.Size, "mime", f.MIMEType, "error", err)
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseEditing {
		return fmt.Errorf("intake: cannot change file while %s", c.phase)
	}
	c.file = &f
	return nil
}

// ClearFile discards the held file.
func (c *Controller) ClearFile() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseEditing {
		c.file = nil
	}
}

// SelectFeatures records which analyses to run once the project exists. An
// empty selection means all of them.
func (c *Controller) SelectFeatures(features []analysis.Feature) error {
	for _, f := range features {
		if !f.Valid() {
			return fmt.Errorf("%w: %d", analysis.ErrUnknownFeature, uint8(f))
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseEditing {
		return fmt.Errorf("intake: cannot change features while %s", c.phase)
	}
	c.draft.Features = append([]analysis.Feature(nil), features...)
	return nil
}

// Advance moves to the next step when the current one validates.
func (c *Controller) Advance() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseEditing {
		return fmt.Errorf("intake: cannot advance while %s", c.phase)
	}
	if c.step == lastStep {
		return fmt.Errorf("intake: already on the last step")
	}
	if err := c.rules.validateStep(c.step, c.draft, c.file); err != nil {
		return err
	}
	c.step++
	return nil
}

// GoBack moves to the previous step without validating or discarding anything.
func (c *Controller) GoBack() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseEditing {
		return fmt.Errorf("intake: cannot go back while %s", c.phase)
	}
	if c.step == firstStep {
		return ErrFirstStep
	}
	c.step--
	return nil
}

// Submit sends the creation request. Only one request is ever in flight: a
// call made while another is pending returns ErrSubmitInFlight and sends
// nothing. On failure the controller returns to editing with every value
// intact and LastError holding the transport's message.
func (c *Controller) Submit(ctx context.Context) (string, error) {
	c.mu.Lock()
	switch c.phase {
	case PhaseSubmitting:
		c.mu.Unlock()
		return "", ErrSubmitInFlight
	case PhaseCreated:
		id := c.projectID
		c.mu.Unlock()
		return id, ErrAlreadyCreated
	}
	if c.step != lastStep {
		c.mu.Unlock()
		return "", ErrNotFinalStep
	}
	for s := firstStep; s <= lastStep; s++ {
		if err := c.rules.validateStep(s, c.draft, c.file); err != nil {
			c.lastErr = err.Error()
			c.mu.Unlock()
			return "", err
		}
	}
	draft := c.draft.clone()
	var file *ScriptFile
	if c.file != nil {
		f := *c.file
		file = &f
	}
	c.phase = PhaseSubmitting
	c.lastErr = ""
	c.mu.Unlock()

	created, err := c.create(ctx, draft, file)
	if err == nil && created.ID == "" {
		err = ErrNoProjectID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.phase = PhaseEditing
		c.lastErr = err.Error()
		if c.lastErr == "" {
			c.lastErr = FallbackCreateMessage
		}
		c.log.Warn("Project creation failed", "title", draft.Title, "error", err)
		return "", err
	}
	c.phase = PhaseCreated
	c.projectID = created.ID
	c.file = nil
	c.log.Info("Project created", "project_id", created.ID, "title", created.Title)
	return created.ID, nil
}

// create calls the Creator, turning a panic into an error so the controller
// never stays stuck submitting.
func (c *Controller) create(ctx context.Context, draft Draft, file *ScriptFile) (created Created, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("project creation panicked: %v", r)
		}
	}()
	return c.creator.CreateProject(ctx, draft, file)
}

// Features is the analysis selection to hand to the aggregator.
func (c *Controller) Features() []analysis.Feature {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.draft.Features) == 0 {
		return analysis.All()
	}
	return append([]analysis.Feature(nil), c.draft.Features...)
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	errs := make(map[Field]string, len(c.fieldErrs))
	for f, fe := range c.fieldErrs {
		errs[f] = fe.Error()
	}
	var file *ScriptFile
	if c.file != nil {
		f := *c.file
		file = &f
	}
	return Snapshot{
		Phase:       c.phase,
		Step:        c.step,
		Draft:       c.draft.clone(),
		File:        file,
		FieldErrors: errs,
		LastError:   c.lastErr,
		ProjectID:   c.projectID,
	}
}

// Analyze hands the created project to agg and runs the selected features.
func (c *Controller) Analyze(ctx context.Context, agg *analysis.Aggregator) (analysis.ResultSet, error) {
	c.mu.Lock()
	if c.phase != PhaseCreated {
		phase := c.phase
		c.mu.Unlock()
		return nil, fmt.Errorf("intake: no project to analyze while %s", phase)
	}
	projectID := c.projectID
	c.mu.Unlock()
	return agg.RunSelected(ctx, projectID, c.Features())
}
