package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"sitechat/internal/config"
	"sitechat/internal/imtypes"
)

// ErrInvalidStoragePath 存储路径不合法 (例如包含目录)。
var ErrInvalidStoragePath = errors.New("invalid storage path")

// LocalStorageService 实现了 imtypes.StorageService 接口。
// 存储路径是 basePath 下的文件名, 不对外暴露真实目录。
type LocalStorageService struct {
	basePath string
}

// NewLocalStorageService 创建一个新的 LocalStorageService 实例。
func NewLocalStorageService(cfg config.StorageConfig) (*LocalStorageService, error) {
	if err := os.MkdirAll(cfg.LocalPath, 0o755); err != nil {
		return nil, fmt.Errorf("创建本地存储目录失败 '%s': %w", cfg.LocalPath, err)
	}
	return &LocalStorageService{basePath: cfg.LocalPath}, nil
}

// UploadFile 将文件保存到本地文件系统, 文件名使用 uuid, 原始文件名只保存在 FileInfo 中。
func (s *LocalStorageService) UploadFile(ctx context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*imtypes.FileInfo, error) {
	ext := filepath.Ext(fileName)
	if ext == "" {
		if extensions, _ := mime.ExtensionsByType(mimeType); len(extensions) > 0 {
			ext = extensions[0]
		}
	}
	key := uuid.New().String() + ext
	dstPath := filepath.Join(s.basePath, key)

	dst, err := os.Create(dstPath)
	if err != nil {
		return nil, fmt.Errorf("创建目标文件失败 '%s': %w", dstPath, err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, reader)
	if err != nil {
		os.Remove(dstPath)
		return nil, fmt.Errorf("写入文件失败: %w", err)
	}
	if fileSize >= 0 && written != fileSize {
		os.Remove(dstPath)
		return nil, fmt.Errorf("文件大小不匹配: 预期 %d, 实际写入 %d", fileSize, written)
	}

	return &imtypes.FileInfo{
		Path:     key,
		Size:     written,
		MimeType: mimeType,
		FileName: fileName,
	}, nil
}

// Open 打开已存储的文件。
func (s *LocalStorageService) Open(ctx context.Context, path string) (io.ReadSeekCloser, error) {
	if path == "" || filepath.Base(path) != path || path == "." || path == ".." {
		return nil, ErrInvalidStoragePath
	}
	f, err := os.Open(filepath.Join(s.basePath, path))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// DeleteFile 删除已存储的文件, 文件不存在不算错误。
func (s *LocalStorageService) DeleteFile(ctx context.Context, path string) error {
	if path == "" || filepath.Base(path) != path {
		return ErrInvalidStoragePath
	}
	err := os.Remove(filepath.Join(s.basePath, path))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
