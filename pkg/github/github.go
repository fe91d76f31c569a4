package github

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v66/github"

	"review-portal/backend/config"
)

// 工作流状态（GitHub 运行状态之外的本地取值）
const (
	StatusNotFound   = "not_found"
	StatusNoAccess   = "no_access"
	StatusNoWorkflow = "no_workflow"
)

var (
	ErrInvalidRepoURL = errors.New("invalid GitHub repository URL")
	ErrRepoNotFound   = errors.New("repository not found or no access")
	ErrNoAccess       = errors.New("no access to repository")
	ErrNoCompletedRun = errors.New("no completed grading run found")
	ErrNoArtifact     = errors.New("grade report artifact not found")
	ErrInvalidReport  = errors.New("grade report is not valid JSON")
)

// maxArtifactSize 评分报告压缩包上限
const maxArtifactSize = 10 << 20

// WorkflowStatus 最近一次评分工作流状态
type WorkflowStatus struct {
	Status     string
	Conclusion string
	RunID      int64
	URL        string
	Message    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ReportSection 评分报告分项
type ReportSection struct {
	Name     string   `json:"name"`
	Score    float64  `json:"score"`
	MaxScore float64  `json:"max_score"`
	Details  []string `json:"details"`
}

// GradeReport 评分工作流产出的 grade-report.json
type GradeReport struct {
	Assignment string          `json:"assignment"`
	Timestamp  string          `json:"timestamp"`
	Total      float64         `json:"total"`
	MaxScore   float64         `json:"max_score"`
	Percentage float64         `json:"percentage"`
	Sections   []ReportSection `json:"sections"`
	Errors     []string        `json:"errors"`

	// 以下由运行记录填充
	WorkflowRunID int64  `json:"-"`
	WorkflowURL   string `json:"-"`
}

// GradedAt 解析报告时间戳，无法解析时返回 fallback
func (r *GradeReport) GradedAt(fallback time.Time) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, r.Timestamp); err == nil {
			return t
		}
	}
	return fallback
}

// Client GitHub Actions 评分客户端
type Client struct {
	gh           *gh.Client
	http         *http.Client
	workflowName string
	artifactName string
	workflowFile string
}

// NewClient 创建客户端；token 为空时以匿名身份访问（仅公开仓库可用且限流严格）
func NewClient(cfg *config.GitHubConfig) *Client {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	client := gh.NewClient(httpClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	return &Client{
		gh:           client,
		http:         httpClient,
		workflowName: cfg.WorkflowName,
		artifactName: cfg.ArtifactName,
		workflowFile: cfg.WorkflowFile,
	}
}

// ParseRepoURL 解析 owner/repo，支持 https 与 git@ 两种格式
func ParseRepoURL(raw string) (owner, repo string, err error) {
	url := strings.TrimRight(strings.TrimSpace(raw), "/")

	var path string
	switch {
	case strings.HasPrefix(url, "git@github.com:"):
		path = strings.TrimPrefix(url, "git@github.com:")
	case strings.Contains(url, "github.com/"):
		path = url[strings.LastIndex(url, "github.com/")+len("github.com/"):]
	default:
		return "", "", fmt.Errorf("%w: %s", ErrInvalidRepoURL, raw)
	}
	path = strings.TrimSuffix(path, ".git")

	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidRepoURL, raw)
	}
	return parts[0], parts[1], nil
}

// Status 查询最近一次评分工作流（不要求已完成）
func (c *Client) Status(ctx context.Context, repoURL string) (*WorkflowStatus, error) {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}

	runs, resp, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, &gh.ListWorkflowRunsOptions{
		ListOptions: gh.ListOptions{PerPage: 5},
	})
	if err != nil {
		switch statusCode(resp) {
		case http.StatusNotFound:
			return &WorkflowStatus{Status: StatusNotFound, Message: "Repository not found or no access"}, nil
		case http.StatusForbidden:
			return &WorkflowStatus{Status: StatusNoAccess, Message: "No access to repository"}, nil
		}
		return nil, err
	}

	for _, run := range runs.WorkflowRuns {
		if !c.isGradingRun(run) {
			continue
		}
		return &WorkflowStatus{
			Status:     run.GetStatus(),
			Conclusion: run.GetConclusion(),
			RunID:      run.GetID(),
			URL:        run.GetHTMLURL(),
			CreatedAt:  run.GetCreatedAt().Time,
			UpdatedAt:  run.GetUpdatedAt().Time,
		}, nil
	}
	return &WorkflowStatus{Status: StatusNoWorkflow, Message: "No grading workflow found"}, nil
}

// FetchReport 下载最近一次已完成评分运行的报告
func (c *Client) FetchReport(ctx context.Context, repoURL string) (*GradeReport, error) {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}

	run, err := c.latestCompletedRun(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	artifacts, resp, err := c.gh.Actions.ListWorkflowRunArtifacts(ctx, owner, repo, run.GetID(), nil)
	if err != nil {
		return nil, mapStatus(resp, err)
	}
	var artifactID int64
	for _, a := range artifacts.Artifacts {
		if strings.Contains(a.GetName(), c.artifactName) {
			artifactID = a.GetID()
			break
		}
	}
	if artifactID == 0 {
		return nil, ErrNoArtifact
	}

	link, resp, err := c.gh.Actions.DownloadArtifact(ctx, owner, repo, artifactID, 3)
	if err != nil {
		return nil, mapStatus(resp, err)
	}
	archive, err := c.download(ctx, link.String())
	if err != nil {
		return nil, err
	}

	report, err := ParseReportArchive(archive)
	if err != nil {
		return nil, err
	}
	report.WorkflowRunID = run.GetID()
	report.WorkflowURL = run.GetHTMLURL()
	return report, nil
}

// TriggerRegrade 在默认分支上触发评分工作流
func (c *Client) TriggerRegrade(ctx context.Context, repoURL string) error {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return err
	}

	repository, resp, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return mapStatus(resp, err)
	}
	branch := repository.GetDefaultBranch()
	if branch == "" {
		branch = "main"
	}

	resp, err = c.gh.Actions.CreateWorkflowDispatchEventByFileName(ctx, owner, repo, c.workflowFile,
		gh.CreateWorkflowDispatchEventRequest{Ref: branch})
	if err != nil {
		return mapStatus(resp, err)
	}
	return nil
}

// ParseReportArchive 从 artifact 压缩包中取出第一个 JSON 文件并解析
func ParseReportArchive(archive []byte) (*GradeReport, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, ".json") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()

		report := &GradeReport{MaxScore: 100}
		if err := json.NewDecoder(io.LimitReader(rc, maxArtifactSize)).Decode(report); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidReport, err)
		}
		if report.Assignment == "" {
			report.Assignment = "unknown"
		}
		return report, nil
	}
	return nil, ErrNoArtifact
}

// ── 内部辅助 ──

func (c *Client) latestCompletedRun(ctx context.Context, owner, repo string) (*gh.WorkflowRun, error) {
	runs, resp, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, &gh.ListWorkflowRunsOptions{
		ListOptions: gh.ListOptions{PerPage: 10},
	})
	if err != nil {
		return nil, mapStatus(resp, err)
	}
	for _, run := range runs.WorkflowRuns {
		if c.isGradingRun(run) && run.GetStatus() == "completed" {
			return run, nil
		}
	}
	return nil, ErrNoCompletedRun
}

func (c *Client) isGradingRun(run *gh.WorkflowRun) bool {
	return strings.Contains(strings.ToLower(run.GetName()), strings.ToLower(c.workflowName))
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("下载评分报告失败: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize))
}

func statusCode(resp *gh.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

func mapStatus(resp *gh.Response, err error) error {
	switch statusCode(resp) {
	case http.StatusNotFound:
		return ErrRepoNotFound
	case http.StatusForbidden:
		return ErrNoAccess
	}
	return err
}
