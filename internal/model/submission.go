package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 提交类型
const (
	SubmissionInClass  = "in_class"
	SubmissionHomework = "homework"
)

// FeedbackPlaceholderLink 评审反馈不要求仓库地址时写入的占位链接
const FeedbackPlaceholderLink = "https://github.com/feedback-only"

// Submission 提交记录表（submissions）
// (user_id, module_id, submission_type) 唯一；重复提交覆盖原记录
type Submission struct {
	SubmissionID      string         `gorm:"type:uuid;primaryKey"                                    json:"submission_id"`
	UserID            string         `gorm:"type:uuid;not null;uniqueIndex:uq_user_module_type"       json:"user_id"`
	ModuleID          string         `gorm:"type:uuid;not null;uniqueIndex:uq_user_module_type;index" json:"module_id"`
	SubmissionType    string         `gorm:"type:varchar(20);not null;uniqueIndex:uq_user_module_type" json:"submission_type"`
	GithubLink        string         `gorm:"type:varchar(500);not null"                               json:"github_link"`
	Comments          string         `gorm:"type:text;not null;default:''"                            json:"comments"`
	TimeSpentMinutes  *int           `                                                                json:"time_spent_minutes,omitempty"`
	FeedbackResponses datatypes.JSON `                                                                json:"feedback_responses,omitempty"`
	SubmittedAt       time.Time      `gorm:"not null"                                                 json:"submitted_at"`
	BaseModel

	// 关联
	User   *User   `gorm:"foreignKey:UserID;references:UserID"           json:"user,omitempty"`
	Module *Module `gorm:"foreignKey:ModuleID;references:ModuleID"       json:"module,omitempty"`
	Grade  *Grade  `gorm:"foreignKey:SubmissionID;references:SubmissionID" json:"grade,omitempty"`
}

// TableName 指定表名
func (Submission) TableName() string { return "submissions" }

// BeforeCreate 生成主键
func (s *Submission) BeforeCreate(_ *gorm.DB) error {
	ensureID(&s.SubmissionID)
	return nil
}

// 提交状态（由提交与成绩记录推导，不落库）
const (
	SubmissionStatusNotStarted = "not_started"
	SubmissionStatusSubmitted  = "submitted"
	SubmissionStatusGrading    = "grading"
	SubmissionStatusGraded     = "graded"
	SubmissionStatusFailed     = "failed"
)

// StatusOf 推导单条提交的展示状态；sub 为 nil 表示尚未提交
func StatusOf(sub *Submission) string {
	if sub == nil {
		return SubmissionStatusNotStarted
	}
	if sub.Grade == nil {
		return SubmissionStatusSubmitted
	}
	switch sub.Grade.Status {
	case GradeStatusCompleted:
		return SubmissionStatusGraded
	case GradeStatusRunning:
		return SubmissionStatusGrading
	case GradeStatusFailed:
		return SubmissionStatusFailed
	default:
		return SubmissionStatusSubmitted
	}
}
