package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger はローテーション付きファイル出力を持つlogrusロガー.
type Logger struct {
	*logrus.Logger
	writer *rotatingWriter
}

// New は新しいLoggerインスタンスを作成. 標準出力とローテーション
// 付きログファイルの両方に構造化ログを書き込む.
func New(
	directory, filename, level string, config *RotationConfig,
) (*Logger, error) {
	writer, err := newRotatingWriter(directory, filename, config)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetOutput(io.MultiWriter(os.Stdout, writer))
	log.SetFormatter(&logrus.JSONFormatter{})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	return &Logger{Logger: log, writer: writer}, nil
}

// Close はロガーのリソースを解放.
func (l *Logger) Close() error {
	return l.writer.Close()
}
