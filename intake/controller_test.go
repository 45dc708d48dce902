package intake_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ScriptSuite-server/analysis"
	"ScriptSuite-server/intake"
	"ScriptSuite-server/logger"

	"github.com/stretchr/testify/require"
)

const (
	timeout = time.Second
	tick    = 5 * time.Millisecond
)

type fakeCreator struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
	id    string

	mu        sync.Mutex
	lastDraft intake.Draft
	lastFile  *intake.ScriptFile
}

func (f *fakeCreator) CreateProject(_ context.Context, d intake.Draft, file *intake.ScriptFile) (intake.Created, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastDraft, f.lastFile = d, file
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return intake.Created{}, f.err
	}
	return intake.Created{ID: f.id, Title: d.Title}, nil
}

func pdf(size int64) intake.ScriptFile {
	return intake.ScriptFile{Name: "oceans-edge.pdf", Size: size, MIMEType: "application/pdf"}
}

func toLastStep(t *testing.T, c *intake.Controller) {
	t.Helper()
	require.NoError(t, c.Advance())
	require.NoError(t, c.Advance())
	require.Equal(t, intake.StepFeatureSelection, c.Snapshot().Step)
}

func TestSubmitCreatesProjectFromLatestDraft(t *testing.T) {
	creator := &fakeCreator{id: "p-42"}
	c := intake.NewController(intake.ProductionRules, creator, logger.NewNop())

	require.NoError(t, c.SetField(intake.FieldTitle, "Working Title"))
	require.NoError(t, c.SetField(intake.FieldTitle, "Ocean's Edge"))
	require.NoError(t, c.SetField(intake.FieldLogline, "A lighthouse keeper finds a map."))
	require.NoError(t, c.SetField(intake.FieldFundingGoal, "250,000"))
	c.SetTargetGenres([]string{"drama", "", "thriller", "drama"})
	require.NoError(t, c.SelectFile(pdf(2<<20)))
	toLastStep(t, c)
	require.NoError(t, c.SelectFeatures([]analysis.Feature{analysis.SceneExtraction, analysis.VFXAnalysis}))

	id, err := c.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, "p-42", id)

	snap := c.Snapshot()
	require.Equal(t, intake.PhaseCreated, snap.Phase)
	require.Equal(t, "p-42", snap.ProjectID)
	require.Nil(t, snap.File, "file is consumed by submission")

	require.Equal(t, "Ocean's Edge", creator.lastDraft.Title)
	require.Equal(t, []string{"drama", "thriller"}, creator.lastDraft.TargetGenres)
	require.NotNil(t, creator.lastFile)
	require.Equal(t, int64(2<<20), creator.lastFile.Size)

	goal, ok, err := creator.lastDraft.FundingGoalValue()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(250000), goal)
}

func TestAdvanceRequiresLogline(t *testing.T) {
	c := intake.NewController(intake.ProductionRules, &fakeCreator{id: "x"}, logger.NewNop())
	require.NoError(t, c.SetField(intake.FieldTitle, "Ocean's Edge"))
	before := c.Snapshot()

	err := c.Advance()
	require.EqualError(t, err, "logline required")
	var stepErr *intake.StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, intake.StepProjectInfo, stepErr.Step)

	var fieldErr *intake.FieldError
	require.ErrorAs(t, err, &fieldErr)
	require.Equal(t, intake.FieldLogline, fieldErr.Field)
	require.Equal(t, before, c.Snapshot(), "failed advance changes nothing")
}

func TestSetFieldFlagsButKeepsValue(t *testing.T) {
	rules := intake.ProductionRules
	rules.SynopsisMinLen = 20
	c := intake.NewController(rules, &fakeCreator{id: "x"}, logger.NewNop())

	tests := []struct {
		field  intake.Field
		value  string
		reason string
	}{
		{intake.FieldTitle, "   ", "title required"},
		{intake.FieldSynopsis, "too short", "synopsis must be at least 20 characters"},
		{intake.FieldFundingGoal, "lots", "funding_goal must be a whole number"},
		{intake.FieldFundingGoal, "999", "funding_goal must be at least 1000"},
	}
	for _, tt := range tests {
		t.Run(string(tt.field)+"/"+tt.value, func(t *testing.T) {
			err := c.SetField(tt.field, tt.value)
			require.EqualError(t, err, tt.reason)
			require.Equal(t, tt.reason, c.Snapshot().FieldErrors[tt.field])
		})
	}
	require.Equal(t, "999", c.Snapshot().Draft.FundingGoal)

	require.NoError(t, c.SetField(intake.FieldFundingGoal, "1000"))
	require.NotContains(t, c.Snapshot().FieldErrors, intake.FieldFundingGoal)

	require.Error(t, c.SetField(intake.Field("director"), "x"))
}

func TestSelectFileRejectionKeepsPreviousFile(t *testing.T) {
	c := intake.NewController(intake.ProductionRules, &fakeCreator{id: "x"}, logger.NewNop())
	require.NoError(t, c.SelectFile(pdf(1024)))

	tests := []struct {
		name   string
		file   intake.ScriptFile
		reason intake.FileRejection
	}{
		{"11 MiB pdf", pdf(11 << 20), intake.RejectTooLarge},
		{"word document", intake.ScriptFile{Name: "draft.docx", Size: 1024, MIMEType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document"}, intake.RejectInvalidType},
		{"empty pdf", pdf(0), intake.RejectEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.SelectFile(tt.file)
			var fileErr *intake.FileError
			require.ErrorAs(t, err, &fileErr)
			require.Equal(t, tt.reason, fileErr.Reason)
			require.Equal(t, int64(1024), c.Snapshot().File.Size)
		})
	}

	require.NoError(t, c.SelectFile(intake.ScriptFile{Name: "v2.pdf", Size: 10 << 20, MIMEType: "application/pdf; charset=binary"}))
	require.Equal(t, "v2.pdf", c.Snapshot().File.Name)

	c.ClearFile()
	require.Nil(t, c.Snapshot().File)
}

func TestOversizeFileThenSubmitWithoutFile(t *testing.T) {
	creator := &fakeCreator{id: "p-1"}
	c := intake.NewController(intake.ProductionRules, creator, logger.NewNop())
	require.NoError(t, c.SetField(intake.FieldTitle, "Ocean's Edge"))
	require.NoError(t, c.SetField(intake.FieldLogline, "Storm season."))

	var fileErr *intake.FileError
	require.ErrorAs(t, c.SelectFile(pdf(11<<20)), &fileErr)
	require.Equal(t, intake.RejectTooLarge, fileErr.Reason)
	require.Nil(t, c.Snapshot().File)

	toLastStep(t, c)
	id, err := c.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, "p-1", id)
	require.Nil(t, creator.lastFile)
}

func TestScriptAnalysisFlowNeedsScript(t *testing.T) {
	c := intake.NewController(intake.ScriptAnalysisRules, &fakeCreator{id: "x"}, logger.NewNop())
	require.NoError(t, c.SetField(intake.FieldTitle, "Ocean's Edge"))
	require.NoError(t, c.Advance())

	err := c.Advance()
	require.Error(t, err)
	require.Equal(t, intake.StepScriptUpload, c.Snapshot().Step)

	require.NoError(t, c.SetField(intake.FieldScriptText, "INT. LIGHTHOUSE - NIGHT"))
	require.NoError(t, c.Advance())
}

func TestGoBackKeepsData(t *testing.T) {
	c := intake.NewController(intake.ProductionRules, &fakeCreator{id: "x"}, logger.NewNop())
	require.ErrorIs(t, c.GoBack(), intake.ErrFirstStep)

	require.NoError(t, c.SetField(intake.FieldTitle, "Ocean's Edge"))
	require.NoError(t, c.SetField(intake.FieldLogline, "Storm season."))
	require.NoError(t, c.SelectFile(pdf(100)))
	toLastStep(t, c)

	require.NoError(t, c.GoBack())
	require.NoError(t, c.GoBack())
	snap := c.Snapshot()
	require.Equal(t, intake.StepProjectInfo, snap.Step)
	require.Equal(t, "Ocean's Edge", snap.Draft.Title)
	require.NotNil(t, snap.File)
}

func TestSubmitOnlyFromLastStep(t *testing.T) {
	creator := &fakeCreator{id: "x"}
	c := intake.NewController(intake.ProductionRules, creator, logger.NewNop())
	_, err := c.Submit(context.Background())
	require.ErrorIs(t, err, intake.ErrNotFinalStep)
	require.Zero(t, creator.calls.Load())
}

func TestDoubleSubmitSendsOneRequest(t *testing.T) {
	creator := &fakeCreator{id: "p-7", gate: make(chan struct{})}
	c := intake.NewController(intake.ProductionRules, creator, logger.NewNop())
	require.NoError(t, c.SetField(intake.FieldTitle, "Ocean's Edge"))
	require.NoError(t, c.SetField(intake.FieldLogline, "Storm season."))
	toLastStep(t, c)

	first := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background())
		first <- err
	}()
	require.Eventually(t, func() bool { return c.Snapshot().Phase == intake.PhaseSubmitting }, timeout, tick)

	_, err := c.Submit(context.Background())
	require.ErrorIs(t, err, intake.ErrSubmitInFlight)
	require.Error(t, c.SetField(intake.FieldTitle, "changed"), "draft is frozen while submitting")

	close(creator.gate)
	require.NoError(t, <-first)
	require.Equal(t, int32(1), creator.calls.Load())

	id, err := c.Submit(context.Background())
	require.ErrorIs(t, err, intake.ErrAlreadyCreated)
	require.Equal(t, "p-7", id)
	require.Equal(t, int32(1), creator.calls.Load())
}

func TestSubmitFailureKeepsDraftAndAllowsRetry(t *testing.T) {
	creator := &fakeCreator{id: "p-9", err: errors.New("title already used by another project")}
	c := intake.NewController(intake.ProductionRules, creator, logger.NewNop())
	require.NoError(t, c.SetField(intake.FieldTitle, "Ocean's Edge"))
	require.NoError(t, c.SetField(intake.FieldLogline, "Storm season."))
	require.NoError(t, c.SelectFile(pdf(4096)))
	toLastStep(t, c)

	_, err := c.Submit(context.Background())
	require.Error(t, err)

	snap := c.Snapshot()
	require.Equal(t, intake.PhaseEditing, snap.Phase)
	require.Equal(t, intake.StepFeatureSelection, snap.Step)
	require.Equal(t, "title already used by another project", snap.LastError)
	require.Equal(t, "Ocean's Edge", snap.Draft.Title)
	require.NotNil(t, snap.File)

	creator.err = nil
	id, err := c.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, "p-9", id)
	require.Empty(t, c.Snapshot().LastError)
}

type silentErr struct{}

func (silentErr) Error() string { return "" }

type panickingCreator struct {
	fakeCreator
	panics atomic.Bool
}

func (p *panickingCreator) CreateProject(ctx context.Context, d intake.Draft, file *intake.ScriptFile) (intake.Created, error) {
	if p.panics.Load() {
		p.calls.Add(1)
		panic("multipart writer exploded")
	}
	return p.fakeCreator.CreateProject(ctx, d, file)
}

func TestSubmitRecoversFromCreatorPanic(t *testing.T) {
	creator := &panickingCreator{fakeCreator: fakeCreator{id: "p-9"}}
	creator.panics.Store(true)
	c := intake.NewController(intake.ProductionRules, creator, logger.NewNop())
	require.NoError(t, c.SetField(intake.FieldTitle, "Ocean's Edge"))
	require.NoError(t, c.SetField(intake.FieldLogline, "Storm season."))
	toLastStep(t, c)

	_, err := c.Submit(context.Background())
	require.ErrorContains(t, err, "multipart writer exploded")
	snap := c.Snapshot()
	require.Equal(t, intake.PhaseEditing, snap.Phase)
	require.Contains(t, snap.LastError, "panicked")
	require.Equal(t, "Ocean's Edge", snap.Draft.Title)

	creator.panics.Store(false)
	id, err := c.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, "p-9", id)
	require.Equal(t, int32(2), creator.calls.Load())
}

func TestSubmitFailureFallbackMessage(t *testing.T) {
	c := intake.NewController(intake.ProductionRules, &fakeCreator{err: silentErr{}}, logger.NewNop())
	require.NoError(t, c.SetField(intake.FieldTitle, "Ocean's Edge"))
	require.NoError(t, c.SetField(intake.FieldLogline, "Storm season."))
	toLastStep(t, c)

	_, err := c.Submit(context.Background())
	require.Error(t, err)
	require.Equal(t, intake.FallbackCreateMessage, c.Snapshot().LastError)
}

func TestSubmitRejectsMissingID(t *testing.T) {
	c := intake.NewController(intake.ProductionRules, &fakeCreator{}, logger.NewNop())
	require.NoError(t, c.SetField(intake.FieldTitle, "Ocean's Edge"))
	require.NoError(t, c.SetField(intake.FieldLogline, "Storm season."))
	toLastStep(t, c)

	_, err := c.Submit(context.Background())
	require.ErrorIs(t, err, intake.ErrNoProjectID)
	require.Equal(t, intake.PhaseEditing, c.Snapshot().Phase)
}

func TestAnalyzeHandsOffCreatedProject(t *testing.T) {
	c := intake.NewController(intake.ProductionRules, &fakeCreator{id: "p-3"}, logger.NewNop())
	var seen sync.Map
	agg := analysis.NewAggregator(analysis.RunnerFunc(func(_ context.Context, projectID string, f analysis.Feature) (json.RawMessage, error) {
		seen.Store(f, projectID)
		return json.RawMessage(`{"ok":true}`), nil
	}), logger.NewNop(), 0)

	_, err := c.Analyze(context.Background(), agg)
	require.Error(t, err, "nothing to analyze before creation")

	require.NoError(t, c.SetField(intake.FieldTitle, "Ocean's Edge"))
	require.NoError(t, c.SetField(intake.FieldLogline, "Storm season."))
	toLastStep(t, c)
	require.NoError(t, c.SelectFeatures([]analysis.Feature{analysis.ProjectSummary}))
	require.ErrorIs(t, c.SelectFeatures([]analysis.Feature{0}), analysis.ErrUnknownFeature)
	_, err = c.Submit(context.Background())
	require.NoError(t, err)

	rs, err := c.Analyze(context.Background(), agg)
	require.NoError(t, err)
	require.Equal(t, []analysis.Feature{analysis.ProjectSummary}, rs.Completed())
	pid, ok := seen.Load(analysis.ProjectSummary)
	require.True(t, ok)
	require.Equal(t, "p-3", pid)
}
