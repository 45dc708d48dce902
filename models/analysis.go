package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AnalysisResult is the latest payload a feature produced for a project.
// Writes for the same project and feature replace each other.
type AnalysisResult struct {
	ProjectID string    `gorm:"primaryKey;type:varchar(64)" json:"project_id"`
	Feature   string    `gorm:"primaryKey;type:varchar(64)" json:"feature"`
	TaskID    string    `gorm:"type:varchar(64)" json:"task_id"`
	Payload   JSON      `gorm:"type:json" json:"payload"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AnalysisResult) TableName() string {
	return "analysis_result"
}

// SaveAnalysisResult upserts r, last write wins.
func SaveAnalysisResult(db *gorm.DB, r *AnalysisResult) error {
	r.UpdatedAt = time.Now()
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "feature"}},
		DoUpdates: clause.AssignmentColumns([]string{"task_id", "payload", "updated_at"}),
	}).Create(r).Error
}

func ListAnalysisResults(db *gorm.DB, projectID string) ([]AnalysisResult, error) {
	var out []AnalysisResult
	if err := db.Where("project_id = ?", projectID).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteAnalysisResults drops every stored payload of a project.
func DeleteAnalysisResults(db *gorm.DB, projectID string) error {
	return db.Where("project_id = ?", projectID).Delete(&AnalysisResult{}).Error
}
