package api

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Component string                 `json:"component,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogFilter 日志过滤条件；空字段表示不过滤
type LogFilter struct {
	Level     string
	Component string
}

func (f LogFilter) matches(entry LogEntry) bool {
	if f.Level != "" && entry.Level != f.Level {
		return false
	}
	if f.Component != "" && entry.Component != f.Component {
		return false
	}
	return true
}

// LogManager 内存日志环形缓冲；供API查询最近的运行日志
type LogManager struct {
	logs    []LogEntry
	maxLogs int
	mu      sync.RWMutex
}

// NewLogManager 创建日志管理器
func NewLogManager(maxLogs int) *LogManager {
	return &LogManager{
		logs:    make([]LogEntry, 0, maxLogs),
		maxLogs: maxLogs,
	}
}

// Append 追加一条日志，超过上限时淘汰最旧的
func (lm *LogManager) Append(entry *logrus.Entry) {
	component := ""
	fields := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		if k == "component" {
			if s, ok := v.(string); ok {
				component = s
				continue
			}
		}
		fields[k] = v
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.logs = append(lm.logs, LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Component: component,
		Fields:    fields,
	})

	if len(lm.logs) > lm.maxLogs {
		lm.logs = lm.logs[1:]
	}
}

// Recent 返回最新的N条日志（过滤后）
func (lm *LogManager) Recent(filter LogFilter, limit int) []LogEntry {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	matched := lm.filteredLocked(filter)
	if limit <= 0 || limit > len(matched) {
		limit = len(matched)
	}
	return matched[len(matched)-limit:]
}

// Page 分页返回日志（过滤后），并给出过滤后的总数
func (lm *LogManager) Page(filter LogFilter, page, pageSize int) ([]LogEntry, int) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	matched := lm.filteredLocked(filter)
	total := len(matched)

	start := (page - 1) * pageSize
	if start >= total {
		return []LogEntry{}, total
	}

	end := start + pageSize
	if end > total {
		end = total
	}

	return matched[start:end], total
}

func (lm *LogManager) filteredLocked(filter LogFilter) []LogEntry {
	matched := make([]LogEntry, 0, len(lm.logs))
	for _, entry := range lm.logs {
		if filter.matches(entry) {
			matched = append(matched, entry)
		}
	}
	return matched
}

// Clear 清空日志
func (lm *LogManager) Clear() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.logs = make([]LogEntry, 0, lm.maxLogs)
}

// LogHook logrus钩子，把日志送进LogManager
type LogHook struct {
	manager *LogManager
}

// NewLogHook 创建日志钩子
func NewLogHook(manager *LogManager) *LogHook {
	return &LogHook{manager: manager}
}

// Fire 实现 logrus.Hook 接口
func (h *LogHook) Fire(entry *logrus.Entry) error {
	h.manager.Append(entry)
	return nil
}

// Levels 实现 logrus.Hook 接口
func (h *LogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}
