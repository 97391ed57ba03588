// Package storage 存储层领域错误
package storage

import "errors"

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicate 唯一键冲突
	ErrDuplicate = errors.New("storage: duplicate key")
)
