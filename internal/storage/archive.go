package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SaveSummaryFile 将摘要写入 dir/summary_YYYYMMDD_HHMMSS.txt，返回文件路径。
// 发送失败时摘要仍保留在本地。
func SaveSummaryFile(dir string, now time.Time, summary string) (string, error) {
	if dir == "" {
		dir = "output"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("summary_%s.txt", now.Format("20060102_150405")))
	if err := os.WriteFile(path, []byte(summary), 0o644); err != nil {
		return "", fmt.Errorf("write summary file: %w", err)
	}
	return path, nil
}
