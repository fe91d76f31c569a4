package model

import (
	"time"

	"gorm.io/gorm"
)

// Course 课程表（courses）
type Course struct {
	CourseID        string     `gorm:"type:uuid;primaryKey"                json:"course_id"`
	Name            string     `gorm:"type:varchar(200);not null"          json:"name"`
	Code            string     `gorm:"type:varchar(50);not null;uniqueIndex" json:"code"`
	Description     string     `gorm:"type:text"                           json:"description"`
	InstructorName  string     `gorm:"type:varchar(200)"                   json:"instructor_name"`
	InstructorEmail string     `gorm:"type:varchar(255)"                   json:"instructor_email"`
	Term            string     `gorm:"type:varchar(50)"                    json:"term"`
	StartDate       *time.Time `                                           json:"start_date,omitempty"`
	IsActive        bool       `gorm:"not null"                            json:"is_active"`
	AuditModel
}

// TableName 指定表名
func (Course) TableName() string { return "courses" }

// BeforeCreate 生成主键
func (c *Course) BeforeCreate(_ *gorm.DB) error {
	ensureID(&c.CourseID)
	return nil
}

// AllWeeksUnlocked 未设置开课日期时返回的周次，视为全部解锁
const AllWeeksUnlocked = 99

// CurrentWeek 按开课日期计算当前教学周
//   - 无开课日期 → 99
//   - 尚未开课   → 0
//   - 其余       → 已过天数/7 + 1
func (c *Course) CurrentWeek(now time.Time) int {
	if c.StartDate == nil {
		return AllWeeksUnlocked
	}
	today := truncateDay(now)
	start := truncateDay(*c.StartDate)
	if today.Before(start) {
		return 0
	}
	days := int(today.Sub(start).Hours() / 24)
	return days/7 + 1
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
