package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RotationConfig はログローテーションの設定を表す.
type RotationConfig struct {
	MaxSize int64         // バイト単位の最大サイズ
	MaxAge  time.Duration // ログファイルの最大保持期間
}

// DefaultRotationConfig はデフォルトのログローテーション設定を返す.
func DefaultRotationConfig() *RotationConfig {
	return &RotationConfig{
		MaxSize: 100 * 1024 * 1024,  // 100MB
		MaxAge:  7 * 24 * time.Hour, // 7日
	}
}

// rotatingWriter はサイズ上限でローテーションするio.Writer実装.
// logrusの出力先として使う.
type rotatingWriter struct {
	mu       sync.Mutex
	file     *os.File
	config   *RotationConfig
	dir      string
	filename string
	done     chan struct{}
}

func newRotatingWriter(
	directory, filename string, config *RotationConfig,
) (*rotatingWriter, error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultRotationConfig()
	}

	path := filepath.Join(directory, filename)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	w := &rotatingWriter{
		file:     file,
		config:   config,
		dir:      directory,
		filename: filename,
		done:     make(chan struct{}),
	}

	// 古いログの削除を定期的に実行
	go w.periodicCleanup()

	return w, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if needs, err := needsRotation(w.file.Name(), w.config.MaxSize); err == nil && needs {
		if err := w.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	return w.file.Write(p)
}

// rotate はログファイルをローテーション.
func (w *rotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	if err := rotateFile(w.file.Name()); err != nil {
		return err
	}

	file, err := os.OpenFile(
		filepath.Join(w.dir, w.filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644,
	)
	if err != nil {
		return err
	}

	w.file = file
	return nil
}

// periodicCleanup は定期的に古いログファイルを削除.
func (w *rotatingWriter) periodicCleanup() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cleanOldLogs(w.dir, w.config)
		case <-w.done:
			return
		}
	}
}

// Close はライターのリソースを解放.
func (w *rotatingWriter) Close() error {
	close(w.done)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// needsRotation はログローテーションが必要かどうかを判断.
func needsRotation(filePath string, maxSize int64) (bool, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	return info.Size() >= maxSize, nil
}

// rotateFile はログファイルをローテーション.
func rotateFile(basePath string) error {
	timestamp := time.Now().Format("20060102150405")
	rotatedPath := fmt.Sprintf("%s.%s", basePath, timestamp)

	return os.Rename(basePath, rotatedPath)
}

// cleanOldLogs は保持期間を超えた古いログファイルを削除.
func cleanOldLogs(directory string, config *RotationConfig) error {
	files, err := filepath.Glob(filepath.Join(directory, "*.log.*"))
	if err != nil {
		return err
	}

	now := time.Now()
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > config.MaxAge {
			os.Remove(f)
		}
	}

	return nil
}
