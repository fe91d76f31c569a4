package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 成绩状态
const (
	GradeStatusPending   = "pending"
	GradeStatusRunning   = "running"
	GradeStatusCompleted = "completed"
	GradeStatusFailed    = "failed"
)

// Grade 成绩表（grades），与 submissions 一一对应
type Grade struct {
	GradeID           string                      `gorm:"type:uuid;primaryKey"                   json:"grade_id"`
	SubmissionID      string                      `gorm:"type:uuid;not null;uniqueIndex"         json:"submission_id"`
	TotalPoints       *float64                    `                                              json:"total_points,omitempty"`
	MaxPoints         int                         `gorm:"not null;default:100"                   json:"max_points"`
	Percentage        *float64                    `                                              json:"percentage,omitempty"`
	LetterGrade       string                      `gorm:"type:varchar(2)"                        json:"letter_grade"`
	ScoreBreakdown    datatypes.JSON              `                                              json:"score_breakdown,omitempty"`
	AutomatedFeedback string                      `gorm:"type:text"                              json:"automated_feedback"`
	ManualFeedback    string                      `gorm:"type:text"                              json:"manual_feedback"`
	Strengths         datatypes.JSONSlice[string] `                                              json:"strengths"`
	Improvements      datatypes.JSONSlice[string] `                                              json:"improvements"`
	Status            string                      `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	GradedAt          *time.Time                  `                                              json:"graded_at,omitempty"`
	GradedBy          string                      `gorm:"type:varchar(255)"                      json:"graded_by"`
	WorkflowRunID     *int64                      `                                              json:"workflow_run_id,omitempty"`
	WorkflowURL       string                      `gorm:"type:varchar(500)"                      json:"workflow_url"`
	BaseModel
}

// TableName 指定表名
func (Grade) TableName() string { return "grades" }

// BeforeCreate 生成主键
func (g *Grade) BeforeCreate(_ *gorm.DB) error {
	ensureID(&g.GradeID)
	return nil
}

// LetterFor 百分制换算字母等级
func LetterFor(percentage float64) string {
	switch {
	case percentage >= 90:
		return "A"
	case percentage >= 80:
		return "B"
	case percentage >= 70:
		return "C"
	case percentage >= 60:
		return "D"
	default:
		return "F"
	}
}
