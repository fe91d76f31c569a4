package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"review-portal/backend/internal/dto"
	"review-portal/backend/internal/model"
	"review-portal/backend/internal/repository"
)

// ── 导出模块业务错误 ──

var (
	ErrExportNoSubmissions = errors.New("No submissions match the export filters")
	ErrExportGenerateFail  = errors.New("Failed to generate the spreadsheet")
)

// ExportService 导出业务接口
//
// 导出以 bytes.Buffer 返回，由 Handler 层设置响应头后写入
type ExportService interface {
	// ExportSubmissions 按筛选条件导出提交记录为 Excel，每条提交一行
	ExportSubmissions(ctx context.Context, req *dto.AdminSubmissionListRequest) (*bytes.Buffer, string, error)
}

type exportService struct {
	repo   *repository.Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewExportService 创建 ExportService 实例
func NewExportService(repo *repository.Repository, logger *zap.Logger) ExportService {
	return &exportService{repo: repo, logger: logger, now: time.Now}
}

// 评分项列顺序
var feedbackColumns = []struct {
	key   string
	title string
}{
	{"q_objectives", "Objectives"},
	{"q_content", "Content"},
	{"q_starter_code", "Starter Code"},
	{"q_difficulty", "Difficulty"},
	{"q_overall", "Overall"},
}

// ═══════════════════════════════════════════════════════════
// ExportSubmissions
// ═══════════════════════════════════════════════════════════
//
// Sheet "Submissions"：表头 + 每条提交一行，
// 反馈评分按 q_* 逐列展开，成绩列为空表示尚未评分

func (s *exportService) ExportSubmissions(ctx context.Context, req *dto.AdminSubmissionListRequest) (*bytes.Buffer, string, error) {
	subs, _, err := s.repo.Submission.List(ctx, repository.SubmissionFilter{
		ModuleID:       req.ModuleID,
		SubmissionType: req.SubmissionType,
		GradeStatus:    req.GradeStatus,
	})
	if err != nil {
		s.logger.Error("查询导出数据失败", zap.Error(err))
		return nil, "", err
	}
	if len(subs) == 0 {
		return nil, "", ErrExportNoSubmissions
	}

	headers := []string{"Submitted At", "Name", "Email", "Role", "Module", "Week", "Type", "GitHub Link", "Time Spent (min)"}
	for _, c := range feedbackColumns {
		headers = append(headers, c.title)
	}
	headers = append(headers, "Comments", "Grade Status", "Points", "Max Points", "Percentage", "Letter", "Graded By")

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Submissions"
	idx, _ := f.NewSheet(sheetName)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	for i, h := range headers {
		f.SetCellValue(sheetName, cell(colName(i), 1), h)
	}
	f.SetCellStyle(sheetName, "A1", cell(colName(len(headers)-1), 1), headerStyle)
	f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	f.SetColWidth(sheetName, "A", "A", 20)
	f.SetColWidth(sheetName, "B", "C", 26)
	f.SetColWidth(sheetName, "E", "E", 30)
	f.SetColWidth(sheetName, "H", "H", 45)

	for i := range subs {
		row := i + 2
		values := submissionRow(&subs[i])
		for col, v := range values {
			if v == nil {
				continue
			}
			f.SetCellValue(sheetName, cell(colName(col), row), v)
		}
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("submissions_%s.xlsx", s.now().Format("20060102_150405"))
	s.logger.Info("提交记录已导出", zap.Int("rows", len(subs)))
	return buf, filename, nil
}

// submissionRow 单条提交的单元格值，nil 表示留空
func submissionRow(sub *model.Submission) []interface{} {
	row := []interface{}{sub.SubmittedAt.UTC().Format("2006-01-02 15:04:05")}

	if u := sub.User; u != nil {
		row = append(row, u.Name, u.Email, u.Role)
	} else {
		row = append(row, nil, nil, nil)
	}
	if m := sub.Module; m != nil {
		row = append(row, m.Name, m.WeekNumber)
	} else {
		row = append(row, nil, nil)
	}

	link := interface{}(sub.GithubLink)
	if sub.GithubLink == model.FeedbackPlaceholderLink {
		link = nil
	}
	row = append(row, sub.SubmissionType, link)
	if sub.TimeSpentMinutes != nil {
		row = append(row, *sub.TimeSpentMinutes)
	} else {
		row = append(row, nil)
	}

	var ratings map[string]int
	if len(sub.FeedbackResponses) > 0 {
		_ = json.Unmarshal(sub.FeedbackResponses, &ratings)
	}
	for _, c := range feedbackColumns {
		if v, ok := ratings[c.key]; ok {
			row = append(row, v)
		} else {
			row = append(row, nil)
		}
	}

	row = append(row, sub.Comments, model.StatusOf(sub))
	if g := sub.Grade; g != nil && g.TotalPoints != nil {
		row = append(row, *g.TotalPoints, g.MaxPoints)
		if g.Percentage != nil {
			row = append(row, *g.Percentage)
		} else {
			row = append(row, nil)
		}
		row = append(row, g.LetterGrade, g.GradedBy)
	} else {
		row = append(row, nil, nil, nil, nil, nil)
	}
	return row
}

// ── 辅助函数 ──

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
