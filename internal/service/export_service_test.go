package service

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
)

// ── 测试辅助 ──

func setupTestExportService(t *testing.T) (*exportService, *testEnv) {
	env := newTestEnv(t)
	svc := NewExportService(env.repo, zap.NewNop()).(*exportService)
	svc.now = func() time.Time { return time.Date(2026, 3, 9, 8, 30, 0, 0, time.UTC) }
	return svc, env
}

func readSheet(t *testing.T, data []byte) [][]string {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("解析 xlsx 失败: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Submissions")
	if err != nil {
		t.Fatalf("读取 Submissions 工作表失败: %v", err)
	}
	return rows
}

func columnIndex(headers []string, name string) int {
	for i, h := range headers {
		if h == name {
			return i
		}
	}
	return -1
}

// ── ExportSubmissions ──

func TestExportService_ExportSubmissions_Empty(t *testing.T) {
	svc, _ := setupTestExportService(t)

	_, _, err := svc.ExportSubmissions(context.Background(), &dto.AdminSubmissionListRequest{})
	if !errors.Is(err, ErrExportNoSubmissions) {
		t.Errorf("期望 ErrExportNoSubmissions，实际: %v", err)
	}
}

func TestExportService_ExportSubmissions_Rows(t *testing.T) {
	svc, env := setupTestExportService(t)
	ctx := context.Background()

	m := env.module(t, model.VisibilityActive)
	reviewer := env.user(t, model.RoleReviewer)
	student := env.user(t, model.RoleStudent)

	feedback := env.submission(t, reviewer.UserID, m.ModuleID, model.SubmissionInClass)
	env.db.Model(feedback).Updates(map[string]interface{}{
		"github_link":        model.FeedbackPlaceholderLink,
		"time_spent_minutes": 45,
		"feedback_responses": datatypes.JSON(`{"q_objectives":8,"q_content":7,"q_starter_code":6,"q_difficulty":5,"q_overall":9}`),
	})

	homework := env.submission(t, student.UserID, m.ModuleID, model.SubmissionHomework)
	points, pct := 45.0, 90.0
	if err := env.repo.Grade.Save(ctx, &model.Grade{
		SubmissionID: homework.SubmissionID,
		TotalPoints:  &points,
		MaxPoints:    50,
		Percentage:   &pct,
		LetterGrade:  "A",
		Status:       model.GradeStatusCompleted,
		GradedBy:     "admin@example.com",
	}); err != nil {
		t.Fatal(err)
	}

	buf, filename, err := svc.ExportSubmissions(ctx, &dto.AdminSubmissionListRequest{})
	if err != nil {
		t.Fatalf("导出失败: %v", err)
	}
	if filename != "submissions_20260309_083000.xlsx" {
		t.Errorf("文件名不符: %s", filename)
	}
	// xlsx 以 PK 开头
	if b := buf.Bytes(); len(b) < 2 || b[0] != 'P' || b[1] != 'K' {
		t.Fatal("输出内容不是有效的 xlsx 文件")
	}

	rows := readSheet(t, buf.Bytes())
	if len(rows) != 3 {
		t.Fatalf("期望表头 + 2 行，实际 %d 行", len(rows))
	}
	headers := rows[0]
	byEmail := map[string][]string{}
	emailCol := columnIndex(headers, "Email")
	for _, row := range rows[1:] {
		byEmail[row[emailCol]] = row
	}

	fb := byEmail[reviewer.Email]
	if fb == nil {
		t.Fatal("缺少评审反馈行")
	}
	if got := fb[columnIndex(headers, "Overall")]; got != "9" {
		t.Errorf("Overall 评分应为 9，实际 %q", got)
	}
	if got := fb[columnIndex(headers, "GitHub Link")]; got != "" {
		t.Errorf("反馈行不应输出占位链接，实际 %q", got)
	}
	if got := fb[columnIndex(headers, "Grade Status")]; got != model.SubmissionStatusSubmitted {
		t.Errorf("未评分状态不符: %q", got)
	}

	hw := byEmail[student.Email]
	if hw == nil {
		t.Fatal("缺少学生作业行")
	}
	if got := hw[columnIndex(headers, "Letter")]; got != "A" {
		t.Errorf("字母等级应为 A，实际 %q", got)
	}
	if got := hw[columnIndex(headers, "Role")]; got != model.RoleStudent {
		t.Errorf("角色列不符: %q", got)
	}
}

func TestExportService_ExportSubmissions_Filters(t *testing.T) {
	svc, env := setupTestExportService(t)
	a := env.module(t, model.VisibilityActive)
	b := env.module(t, model.VisibilityActive)
	u := env.user(t, model.RoleStudent)
	env.submission(t, u.UserID, a.ModuleID, model.SubmissionHomework)
	env.submission(t, u.UserID, b.ModuleID, model.SubmissionHomework)

	buf, _, err := svc.ExportSubmissions(context.Background(), &dto.AdminSubmissionListRequest{ModuleID: b.ModuleID})
	if err != nil {
		t.Fatal(err)
	}
	rows := readSheet(t, buf.Bytes())
	if len(rows) != 2 {
		t.Fatalf("按模块筛选期望 1 行数据，实际 %d", len(rows)-1)
	}
	if got := rows[1][columnIndex(rows[0], "Module")]; got != b.Name {
		t.Errorf("模块列不符: %q", got)
	}

	_, _, err = svc.ExportSubmissions(context.Background(), &dto.AdminSubmissionListRequest{GradeStatus: model.GradeStatusCompleted})
	if !errors.Is(err, ErrExportNoSubmissions) {
		t.Errorf("无已评分提交时期望 ErrExportNoSubmissions，实际: %v", err)
	}
}
