// Package model 定义核心数据模型
//
// checkpoint.go 包含检查点的数据模型定义。
package model

import (
	"time"
)

// Checkpoint 表示 Run 工作目录在某一时刻的持久化快照
//
// 不变量：StorageKey 指向的对象和本记录必须同时存在，缺一即为无效
// 检查点——创建时先上传归档再写记录，恢复时对象缺失则直接失败。
type Checkpoint struct {
	ID          string    `json:"id" bson:"_id" db:"id"`
	RunID       string    `json:"run_id" bson:"run_id" db:"run_id"`
	StorageKey  string    `json:"storage_key" bson:"storage_key" db:"storage_key"`
	Description string    `json:"description" bson:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at" db:"created_at"`
}
