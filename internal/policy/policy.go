// Package policy 选课台账依赖的纯规则：可见性、用户上限、模块容量与释放前置条件。
// 规则均由配置注入，不访问存储。
package policy

import (
	"fmt"

	"review-portal/backend/internal/model"
)

// 释放策略
const (
	ReleaseHomeworkRequired = "homework_required"
	ReleaseNoSubmissions    = "no_submissions"
	ReleaseUnrestricted     = "unrestricted"
)

// CanView 角色能否查看（进而选择）该可见性的模块
func CanView(role, visibility string) bool {
	switch role {
	case model.RoleAdmin:
		return true
	case model.RoleReviewer:
		return visibility == model.VisibilityPilotReview || visibility == model.VisibilityActive
	case model.RoleStudent:
		return visibility == model.VisibilityActive
	default:
		return false
	}
}

// VisibleStates 角色可见的全部可见性取值，用于列表查询
func VisibleStates(role string) []string {
	all := []string{
		model.VisibilityDraft,
		model.VisibilityPilotReview,
		model.VisibilityActive,
		model.VisibilityArchived,
	}
	result := make([]string, 0, len(all))
	for _, v := range all {
		if CanView(role, v) {
			result = append(result, v)
		}
	}
	return result
}

// CapacityFor 返回模块对该角色的容量上限；nil 表示不限
func CapacityFor(role string, m *model.Module) *int {
	switch role {
	case model.RoleReviewer:
		return m.MaxReviewers
	case model.RoleStudent:
		return m.MaxStudents
	default:
		return nil
	}
}

// HasCapacity 当前人数 current 下是否还能再加入一人
func HasCapacity(limit *int, current int64) bool {
	return limit == nil || current < int64(*limit)
}

// Limits 角色 → 同时持有模块数上限
type Limits map[string]int

// DefaultLimits 默认上限：评审 2，学生 1，管理员 1
func DefaultLimits() Limits {
	return Limits{
		model.RoleReviewer: 2,
		model.RoleStudent:  1,
		model.RoleAdmin:    1,
	}
}

// MaxFor 未配置的角色按 1 处理
func (l Limits) MaxFor(role string) int {
	if n, ok := l[role]; ok && n > 0 {
		return n
	}
	return 1
}

// ReleaseFacts 判定释放前置条件所需的事实
type ReleaseFacts struct {
	HasHomework   bool // 存在 homework 类型提交
	HasSubmission bool // 存在任意类型提交
}

// ReleaseCheck 按策略判定是否允许释放；不允许时返回面向用户的原因
func ReleaseCheck(policy string, facts ReleaseFacts) (bool, string) {
	switch policy {
	case ReleaseNoSubmissions:
		if facts.HasSubmission {
			return false, "Cannot release module after making submissions"
		}
	case ReleaseUnrestricted:
	default:
		if !facts.HasHomework {
			return false, "Please submit your homework feedback before releasing"
		}
	}
	return true, ""
}

// ValidReleasePolicy 配置校验使用
func ValidReleasePolicy(p string) bool {
	switch p {
	case ReleaseHomeworkRequired, ReleaseNoSubmissions, ReleaseUnrestricted:
		return true
	}
	return false
}

// LimitMessage 达到上限时的提示文案
func LimitMessage(limit int) string {
	if limit == 1 {
		return "You can only select 1 module at a time"
	}
	return fmt.Sprintf("You can only select up to %d modules at a time", limit)
}
