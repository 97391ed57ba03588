// Package model 定义核心数据模型
//
// credential.go 包含凭据的数据模型定义。
package model

import (
	"time"
)

// Credential 表示任务作用域内的一条加密凭据
//
// Key 是环境变量风格的名称（如 GITHUB_TOKEN）；CipherText 是认证加密
// 的密文包（格式见 vault 包）。明文值从不落库、从不写日志——解密后的
// 值只进入单次引擎调用的配置对象，随调用结束失效。
type Credential struct {
	ID         string    `json:"id" bson:"_id" db:"id"`
	TaskID     string    `json:"task_id" bson:"task_id" db:"task_id"`
	Key        string    `json:"key" bson:"key" db:"key"`
	CipherText string    `json:"cipher_text" bson:"cipher_text" db:"cipher_text"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at" db:"created_at"`
}
