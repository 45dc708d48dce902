package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	ProjectStatusDraft      = "draft"
	ProjectStatusInProgress = "in_progress"
	ProjectStatusCompleted  = "completed"
	ProjectStatusPublished  = "published"

	TierFree   = "free"
	TierPro    = "pro"
	TierStudio = "studio"
)

// MinFundingGoal is the smallest funding goal a project may ask for.
const MinFundingGoal = 1000

var ErrInvalidProject = errors.New("invalid project")

type Project struct {
	ID           string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title        string     `gorm:"type:varchar(255);not null" json:"title"`
	Logline      string     `gorm:"type:text" json:"logline"`
	Synopsis     string     `gorm:"type:text" json:"synopsis"`
	Genre        string     `gorm:"type:varchar(64)" json:"genre"`
	BudgetRange  string     `gorm:"type:varchar(64)" json:"budget_range"`
	FundingGoal  int64      `json:"funding_goal"`
	Timeline     string     `gorm:"type:varchar(128)" json:"timeline"`
	TargetGenres StringList `gorm:"type:json" json:"target_genres"`
	Status       string     `gorm:"type:varchar(32);index" json:"status"`
	Tier         string     `gorm:"type:varchar(32)" json:"tier"`
	ScriptText   string     `gorm:"type:longtext" json:"script_text,omitempty"`
	ScriptObject string     `gorm:"type:varchar(255)" json:"-"`
	ScriptName   string     `gorm:"type:varchar(255)" json:"script_name,omitempty"`
	ScriptSize   int64      `json:"script_size,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Project) TableName() string {
	return "project"
}

// HasScript reports whether the worker has anything to analyze.
func (p *Project) HasScript() bool {
	return p.ScriptObject != "" || strings.TrimSpace(p.ScriptText) != ""
}

func ValidProjectStatus(s string) bool {
	switch s {
	case ProjectStatusDraft, ProjectStatusInProgress, ProjectStatusCompleted, ProjectStatusPublished:
		return true
	}
	return false
}

func ValidTier(s string) bool {
	switch s {
	case TierFree, TierPro, TierStudio:
		return true
	}
	return false
}

// ProjectPatch is a partial update. Nil fields are left alone.
type ProjectPatch struct {
	Title        *string   `json:"title,omitempty"`
	Logline      *string   `json:"logline,omitempty"`
	Synopsis     *string   `json:"synopsis,omitempty"`
	Genre        *string   `json:"genre,omitempty"`
	BudgetRange  *string   `json:"budget_range,omitempty"`
	FundingGoal  *int64    `json:"funding_goal,omitempty"`
	Timeline     *string   `json:"timeline,omitempty"`
	TargetGenres *[]string `json:"target_genres,omitempty"`
	Status       *string   `json:"status,omitempty"`
	Tier         *string   `json:"tier,omitempty"`
	ScriptText   *string   `json:"script_text,omitempty"`
}

// Validate checks the fields that are set.
func (p ProjectPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidProject)
	}
	if p.FundingGoal != nil && *p.FundingGoal < MinFundingGoal {
		return fmt.Errorf("%w: funding_goal must be at least %d", ErrInvalidProject, MinFundingGoal)
	}
	if p.Status != nil && !ValidProjectStatus(*p.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidProject, *p.Status)
	}
	if p.Tier != nil && !ValidTier(*p.Tier) {
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidProject, *p.Tier)
	}
	return nil
}

// Empty reports whether the patch changes nothing.
func (p ProjectPatch) Empty() bool {
	return len(p.updates()) == 0
}

func (p ProjectPatch) updates() map[string]any {
	u := map[string]any{}
	set := func(col string, v *string) {
		if v != nil {
			u[col] = *v
		}
	}
	set("title", p.Title)
	set("logline", p.Logline)
	set("synopsis", p.Synopsis)
	set("genre", p.Genre)
	set("budget_range", p.BudgetRange)
	set("timeline", p.Timeline)
	set("status", p.Status)
	set("tier", p.Tier)
	set("script_text", p.ScriptText)
	if p.FundingGoal != nil {
		u["funding_goal"] = *p.FundingGoal
	}
	if p.TargetGenres != nil {
		u["target_genres"] = StringList(*p.TargetGenres)
	}
	return u
}

func CreateProject(db *gorm.DB, p *Project) error {
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidProject)
	}
	if p.Status == "" {
		p.Status = ProjectStatusDraft
	}
	if p.Tier == "" {
		p.Tier = TierFree
	}
	return db.Create(p).Error
}

func GetProject(db *gorm.DB, id string) (*Project, error) {
	var p Project
	if err := db.First(&p, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProject applies patch and returns the stored row.
func UpdateProject(db *gorm.DB, id string, patch ProjectPatch) (*Project, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	p, err := GetProject(db, id)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return p, nil
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(p).Updates(patch.updates()).Error; err != nil {
			return err
		}
		// Payloads describe the old script.
		if patch.ScriptText != nil {
			return DeleteAnalysisResults(tx, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return GetProject(db, id)
}

// DeleteProject removes a project together with its tasks and results.
func DeleteProject(db *gorm.DB, id string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := DeleteAnalysisResults(tx, id); err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&Task{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Project{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
