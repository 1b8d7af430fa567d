package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dentalnet/offline-edge/internal/config"
)

// InitLogger 返回 JSON 结构化 logger，每条日志都带上 app 与 cache_version，
// 同一台机器上新旧两个版本并存时可以据此区分。文件输出失败时退回 stdout。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	logger.AddHook(newStaticFieldsHook(cfg))

	output, outErr := openOutput(cfg)
	logger.SetOutput(output)

	// 第三方库经由 logrus 全局 logger 打印的内容也走同一输出
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(output)
	logrus.SetLevel(level)

	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(outErr.Error())
	}
	return logger, nil
}

// openOutput 返回日志 Writer；LogFilePath 为空时直接使用 stdout。
func openOutput(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}

// staticFieldsHook 为每条日志补充进程级字段，调用方显式设置的同名字段优先。
type staticFieldsHook struct {
	fields logrus.Fields
}

func newStaticFieldsHook(cfg config.GlobalConfig) staticFieldsHook {
	fields := logrus.Fields{}
	if cfg.AppName != "" {
		fields["app"] = cfg.AppName
	}
	if cfg.CacheVersion != "" {
		fields["cache_version"] = cfg.CacheVersion
	}
	return staticFieldsHook{fields: fields}
}

func (h staticFieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h staticFieldsHook) Fire(entry *logrus.Entry) error {
	for key, value := range h.fields {
		if _, exists := entry.Data[key]; !exists {
			entry.Data[key] = value
		}
	}
	return nil
}
