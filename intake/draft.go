package intake

import (
	"io"
	"strconv"
	"strings"

	"ScriptSuite-server/analysis"
)

// Step is a position in the intake wizard.
type Step int

const (
	StepProjectInfo Step = iota + 1
	StepScriptUpload
	StepFeatureSelection
)

const (
	firstStep = StepProjectInfo
	lastStep  = StepFeatureSelection
)

func (s Step) String() string {
	switch s {
	case StepProjectInfo:
		return "project-info"
	case StepScriptUpload:
		return "script-upload"
	case StepFeatureSelection:
		return "feature-selection"
	}
	return "step(" + strconv.Itoa(int(s)) + ")"
}

// Field names one draft attribute settable through SetField.
type Field string

const (
	FieldTitle       Field = "title"
	FieldLogline     Field = "logline"
	FieldSynopsis    Field = "synopsis"
	FieldGenre       Field = "genre"
	FieldBudgetRange Field = "budget_range"
	FieldFundingGoal Field = "funding_goal"
	FieldTimeline    Field = "timeline"
	FieldScriptText  Field = "script_text"
)

// Draft is the in-memory project before the server has assigned it an id.
type Draft struct {
	Title        string
	Logline      string
	Synopsis     string
	Genre        string
	BudgetRange  string
	FundingGoal  string
	Timeline     string
	TargetGenres []string
	ScriptText   string
	Features     []analysis.Feature
}

func (d Draft) get(f Field) string {
	switch f {
	case FieldTitle:
		return d.Title
	case FieldLogline:
		return d.Logline
	case FieldSynopsis:
		return d.Synopsis
	case FieldGenre:
		return d.Genre
	case FieldBudgetRange:
		return d.BudgetRange
	case FieldFundingGoal:
		return d.FundingGoal
	case FieldTimeline:
		return d.Timeline
	case FieldScriptText:
		return d.ScriptText
	}
	return ""
}

func (d *Draft) set(f Field, v string) bool {
	switch f {
	case FieldTitle:
		d.Title = v
	case FieldLogline:
		d.Logline = v
	case FieldSynopsis:
		d.Synopsis = v
	case FieldGenre:
		d.Genre = v
	case FieldBudgetRange:
		d.BudgetRange = v
	case FieldFundingGoal:
		d.FundingGoal = v
	case FieldTimeline:
		d.Timeline = v
	case FieldScriptText:
		d.ScriptText = v
	default:
		return false
	}
	return true
}

func (d Draft) clone() Draft {
	out := d
	out.TargetGenres = append([]string(nil), d.TargetGenres...)
	out.Features = append([]analysis.Feature(nil), d.Features...)
	return out
}

// FundingGoalValue parses the funding goal. ok is false when it was left empty.
func (d Draft) FundingGoalValue() (goal int64, ok bool, err error) {
	raw := strings.TrimSpace(d.FundingGoal)
	if raw == "" {
		return 0, false, nil
	}
	goal, err = strconv.ParseInt(strings.ReplaceAll(raw, ",", ""), 10, 64)
	if err != nil {
		return 0, false, err
	}
	return goal, true, nil
}

// ScriptFile is a client-held handle to the script the user picked.
type ScriptFile struct {
	Name     string
	Size     int64
	MIMEType string
	Open     func() (io.ReadCloser, error)
}

// Rules decides what each step requires. The zero value only requires a title.
type Rules struct {
	LoglineRequired bool
	SynopsisMinLen  int
	ScriptRequired  bool
	MinFundingGoal  int64
	Files           FileLimits
}

// FileLimits bounds an uploaded script.
type FileLimits struct {
	MaxBytes     int64
	AcceptedType string
}

const (
	DefaultMaxFileBytes   = 10 << 20
	DefaultAcceptedType   = "application/pdf"
	DefaultMinFundingGoal = 1000
)

var DefaultFileLimits = FileLimits{MaxBytes: DefaultMaxFileBytes, AcceptedType: DefaultAcceptedType}

// ProductionRules is the producer wizard: a logline up front, the script optional.
var ProductionRules = Rules{
	LoglineRequired: true,
	MinFundingGoal:  DefaultMinFundingGoal,
	Files:           DefaultFileLimits,
}

// ScriptAnalysisRules is the script-first wizard: a script is mandatory.
var ScriptAnalysisRules = Rules{
	ScriptRequired: true,
	MinFundingGoal: DefaultMinFundingGoal,
	Files:          DefaultFileLimits,
}

func (r Rules) withDefaults() Rules {
	if r.Files.MaxBytes <= 0 {
		r.Files.MaxBytes = DefaultMaxFileBytes
	}
	if r.Files.AcceptedType == "" {
		r.Files.AcceptedType = DefaultAcceptedType
	}
	if r.MinFundingGoal <= 0 {
		r.MinFundingGoal = DefaultMinFundingGoal
	}
	return r
}
