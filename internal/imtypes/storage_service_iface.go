package imtypes

import (
	"context"
	"io"
)

// StorageService 定义了附件存储操作的接口。
// 接口放在 imtypes 中以打破 storage 和 services/handlers 之间的循环依赖。
type StorageService interface {
	// UploadFile 上传 reader 中的内容, fileSize 为 -1 时不校验大小。
	UploadFile(ctx context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*FileInfo, error)
	// Open 打开 UploadFile 返回的 Path。
	Open(ctx context.Context, path string) (io.ReadSeekCloser, error)
	DeleteFile(ctx context.Context, path string) error
}
