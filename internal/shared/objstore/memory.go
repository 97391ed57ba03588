// Package objstore 对象存储
//
// memory.go 提供用于测试的内存实现
package objstore

import (
	"context"
	"fmt"
	"sync"
)

// Memory 内存对象存储（用于测试）
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemory 创建内存对象存储
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Put 写入对象
func (m *Memory) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.objects[key] = cp
	return nil
}

// Get 读取对象，缺失时报错
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("get object %s: not found", key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Delete 删除对象（测试辅助：模拟对象丢失）
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
}
