package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	xerrors "DrawSight/internal/errors"
	"DrawSight/pkg/plugin"
)

type memoryEntry struct {
	result    *plugin.PredictionResult
	expiresAt time.Time
}

// Memory 是进程内缓存，过期条目在读取时清理。
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemory 创建进程内缓存。
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get 实现 ResultCache。
func (m *Memory) Get(_ context.Context, key Key) (*plugin.PredictionResult, bool, error) {
	k := key.String()
	m.mu.Lock()
	entry, ok := m.entries[k]
	if ok && !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		delete(m.entries, k)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	out, err := cloneResult(entry.result)
	if err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeCacheFailure, err, "复制缓存结果失败")
	}
	return out, true, nil
}

// Set 实现 ResultCache，ttl <= 0 表示永不过期。
func (m *Memory) Set(_ context.Context, key Key, result *plugin.PredictionResult, ttl time.Duration) error {
	if result == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "缓存结果不能为空")
	}
	stored, err := cloneResult(result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeCacheFailure, err, "复制缓存结果失败")
	}
	entry := memoryEntry{result: stored}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key.String()] = entry
	m.mu.Unlock()
	return nil
}

// Invalidate 实现 ResultCache。
func (m *Memory) Invalidate(_ context.Context, pluginID string) (int, error) {
	prefix := pluginID + ":"
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed, nil
}

// Len 返回当前条目数（含尚未清理的过期条目）。
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close 实现 ResultCache。
func (m *Memory) Close() error { return nil }

var _ ResultCache = (*Memory)(nil)
