package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 模块可见性（管理员手动切换，无自动流转）
const (
	VisibilityDraft       = "draft"
	VisibilityPilotReview = "pilot_review"
	VisibilityActive      = "active"
	VisibilityArchived    = "archived"
)

// Module 课程模块表（modules）
// MaxReviewers / MaxStudents 为 nil 表示不限容量
// DriveModifiedTime 为资料版本游标，选课时复制到台账记录
type Module struct {
	ModuleID             string                      `gorm:"type:uuid;primaryKey"                          json:"module_id"`
	CourseID             *string                     `gorm:"type:uuid;index"                               json:"course_id,omitempty"`
	Name                 string                      `gorm:"type:varchar(100);not null"                    json:"name"`
	WeekNumber           int                         `gorm:"not null"                                      json:"week_number"`
	Visibility           string                      `gorm:"type:varchar(20);not null;default:'draft'"     json:"visibility"`
	ShortDescription     string                      `gorm:"type:text"                                     json:"short_description"`
	DetailedDescription  string                      `gorm:"type:text"                                     json:"detailed_description"`
	LearningObjectives   datatypes.JSONSlice[string] `                                                     json:"learning_objectives"`
	Prerequisites        datatypes.JSONSlice[string] `                                                     json:"prerequisites"`
	ExpectedOutcomes     string                      `gorm:"type:text"                                     json:"expected_outcomes"`
	EstimatedTimeMinutes *int                        `                                                     json:"estimated_time_minutes,omitempty"`
	DriveFileID          string                      `gorm:"type:varchar(100);not null"                    json:"drive_file_id"`
	DriveModifiedTime    *string                     `gorm:"type:varchar(50)"                              json:"drive_modified_time,omitempty"`
	GithubClassroomURL   string                      `gorm:"type:varchar(500)"                             json:"github_classroom_url"`
	TemplateRepoURL      string                      `gorm:"type:varchar(500)"                             json:"template_repo_url"`
	Instructions         string                      `gorm:"type:text"                                     json:"instructions"`
	HomeworkInstructions string                      `gorm:"type:text"                                     json:"homework_instructions"`
	AssignmentOverview   string                      `gorm:"type:text"                                     json:"assignment_overview"`
	GradingCriteria      string                      `gorm:"type:text"                                     json:"grading_criteria"`
	MaxPoints            int                         `gorm:"not null;default:100"                          json:"max_points"`
	MaxReviewers         *int                        `                                                     json:"max_reviewers,omitempty"`
	MaxStudents          *int                        `                                                     json:"max_students,omitempty"`
	VersionedModel

	// 关联
	Course *Course `gorm:"foreignKey:CourseID;references:CourseID" json:"course,omitempty"`
}

// TableName 指定表名
func (Module) TableName() string { return "modules" }

// BeforeCreate 生成主键
func (m *Module) BeforeCreate(_ *gorm.DB) error {
	ensureID(&m.ModuleID)
	return nil
}

// UserModuleSelection 选课台账（user_module_selections）
// 不变量：同一用户持有 ≥1 条记录时恰好一条 is_active=true
type UserModuleSelection struct {
	SelectionID         string    `gorm:"type:uuid;primaryKey"                                        json:"selection_id"`
	UserID              string    `gorm:"type:uuid;not null;uniqueIndex:uq_user_module_selection"     json:"user_id"`
	ModuleID            string    `gorm:"type:uuid;not null;uniqueIndex:uq_user_module_selection;index" json:"module_id"`
	SelectedAt          time.Time `gorm:"not null"                                                    json:"selected_at"`
	LastNotifiedVersion *string   `gorm:"type:varchar(50)"                                            json:"last_notified_version,omitempty"`
	IsActive            bool      `gorm:"not null;default:false"                                      json:"is_active"`

	// 关联
	User   *User   `gorm:"foreignKey:UserID;references:UserID"     json:"user,omitempty"`
	Module *Module `gorm:"foreignKey:ModuleID;references:ModuleID" json:"module,omitempty"`
}

// TableName 指定表名
func (UserModuleSelection) TableName() string { return "user_module_selections" }

// BeforeCreate 生成主键
func (s *UserModuleSelection) BeforeCreate(_ *gorm.DB) error {
	ensureID(&s.SelectionID)
	return nil
}

// PDFUpdated 资料在选课后是否有新版本
func (s *UserModuleSelection) PDFUpdated(m *Module) bool {
	if m == nil || m.DriveModifiedTime == nil {
		return false
	}
	return s.LastNotifiedVersion == nil || *s.LastNotifiedVersion != *m.DriveModifiedTime
}
