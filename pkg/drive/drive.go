// Package drive 读取 Google Drive 上的模块 PDF：元数据（版本游标）与文件流
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"review-portal/backend/config"
)

var (
	ErrNotConfigured = errors.New("google drive credentials are not configured")
	ErrFileNotFound  = errors.New("drive file not found")
)

// FileMeta 文件元数据；ModifiedTime 为 RFC3339 字符串，作为模块版本游标
type FileMeta struct {
	ID           string
	Name         string
	MimeType     string
	ModifiedTime string
	Size         int64
}

// Client Drive 只读客户端
type Client struct {
	svc *drivev3.Service
}

// NewClient 使用服务账号凭据创建客户端
// CredentialsJSON 为内联 JSON，CredentialsFile 为文件路径；两者都为空返回 ErrNotConfigured
func NewClient(ctx context.Context, cfg *config.DriveConfig) (*Client, error) {
	opts := []option.ClientOption{option.WithScopes(drivev3.DriveReadonlyScope)}
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	default:
		return nil, ErrNotConfigured
	}

	svc, err := drivev3.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("创建 Drive 客户端失败: %w", err)
	}
	return &Client{svc: svc}, nil
}

// Metadata 查询文件元数据
func (c *Client) Metadata(ctx context.Context, fileID string) (*FileMeta, error) {
	f, err := c.svc.Files.Get(fileID).
		Fields("id", "name", "mimeType", "modifiedTime", "size").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapErr(err)
	}
	return &FileMeta{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		ModifiedTime: f.ModifiedTime,
		Size:         f.Size,
	}, nil
}

// Open 打开文件内容流，调用方负责关闭
func (c *Client) Open(ctx context.Context, fileID string) (io.ReadCloser, error) {
	resp, err := c.svc.Files.Get(fileID).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, wrapErr(err)
	}
	return resp.Body, nil
}

func wrapErr(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 404 {
		return ErrFileNotFound
	}
	return err
}
