package intake

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrSubmitInFlight = errors.New("intake: project creation already in flight")
	ErrAlreadyCreated = errors.New("intake: project already created")
	ErrNotFinalStep   = errors.New("intake: submit is only allowed on the last step")
	ErrNoProjectID    = errors.New("intake: server returned no project id")
	ErrFirstStep      = errors.New("intake: already on the first step")
)

// FallbackCreateMessage is shown when the transport gave no message of its own.
const FallbackCreateMessage = "project creation failed"

// FieldError flags one invalid draft attribute.
type FieldError struct {
	Field  Field
	Reason string
}

func (e *FieldError) Error() string {
	return string(e.Field) + " " + e.Reason
}

// FileRejection is why a script file was refused.
type FileRejection string

const (
	RejectInvalidType FileRejection = "invalid-type"
	RejectTooLarge    FileRejection = "too-large"
	RejectEmpty       FileRejection = "empty"
)

// FileError is returned when a script file breaks the upload limits.
type FileError struct {
	Reason FileRejection
	Name   string
}

func (e *FileError) Error() string {
	return fmt.Sprintf("script file %q rejected: %s", e.Name, e.Reason)
}

// StepError lists everything that keeps a step from advancing.
type StepError struct {
	Step     Step
	Problems []error
}

func (e *StepError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Error())
	}
	return strings.Join(msgs, "; ")
}

func (e *StepError) Unwrap() []error { return e.Problems }

// ValidateScriptFile checks a file against the limits. It is shared with the
// server, which applies the same limits to the multipart upload.
func ValidateScriptFile(name string, size int64, mimeType string, limits FileLimits) error {
	switch {
	case !sameMediaType(mimeType, limits.AcceptedType):
		return &FileError{Reason: RejectInvalidType, Name: name}
	case size > limits.MaxBytes:
		return &FileError{Reason: RejectTooLarge, Name: name}
	case size <= 0:
		return &FileError{Reason: RejectEmpty, Name: name}
	}
	return nil
}

func sameMediaType(got, want string) bool {
	if i := strings.IndexByte(got, ';'); i >= 0 {
		got = got[:i]
	}
	return strings.EqualFold(strings.TrimSpace(got), want)
}

func (r Rules) validateField(d Draft, f Field) *FieldError {
	v := strings.TrimSpace(d.get(f))
	switch f {
	case FieldTitle:
		if v == "" {
			return &FieldError{Field: f, Reason: "required"}
		}
	case FieldLogline:
		if r.LoglineRequired && v == "" {
			return &FieldError{Field: f, Reason: "required"}
		}
	case FieldSynopsis:
		if r.SynopsisMinLen > 0 && utf8.RuneCountInString(v) < r.SynopsisMinLen {
			return &FieldError{Field: f, Reason: fmt.Sprintf("must be at least %d characters", r.SynopsisMinLen)}
		}
	case FieldFundingGoal:
		goal, ok, err := d.FundingGoalValue()
		if err != nil {
			return &FieldError{Field: f, Reason: "must be a whole number"}
		}
		if ok && goal < r.MinFundingGoal {
			return &FieldError{Field: f, Reason: fmt.Sprintf("must be at least %d", r.MinFundingGoal)}
		}
	}
	return nil
}

var infoFields = []Field{FieldTitle, FieldLogline, FieldSynopsis, FieldGenre, FieldBudgetRange, FieldFundingGoal, FieldTimeline}

func (r Rules) validateStep(s Step, d Draft, file *ScriptFile) error {
	var problems []error
	switch s {
	case StepProjectInfo:
		for _, f := range infoFields {
			if fe := r.validateField(d, f); fe != nil {
				problems = append(problems, fe)
			}
		}
	case StepScriptUpload:
		if r.ScriptRequired && file == nil && strings.TrimSpace(d.ScriptText) == "" {
			problems = append(problems, &FieldError{Field: FieldScriptText, Reason: "or a script file required"})
		}
	case StepFeatureSelection:
		for _, f := range d.Features {
			if !f.Valid() {
				problems = append(problems, fmt.Errorf("unknown analysis feature %d", uint8(f)))
			}
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &StepError{Step: s, Problems: problems}
}

// ValidateInfo checks the project-info step of d. The server runs it on the
// multipart form so both ends agree on what a valid project is.
func (r Rules) ValidateInfo(d Draft) error {
	return r.withDefaults().validateStep(StepProjectInfo, d, nil)
}
