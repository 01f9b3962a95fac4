package services

import (
	"errors"
	"fmt"
)

// 服务层的哨兵错误, handler 用 errors.Is 映射成 HTTP 状态码。
var (
	ErrNotFound       = errors.New("资源不存在")
	ErrForbidden      = errors.New("没有权限")
	ErrInvalidInput   = errors.New("参数无效")
	ErrNotParticipant = fmt.Errorf("%w: 不是会话成员", ErrForbidden)
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func forbidden(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}
