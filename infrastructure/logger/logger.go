package logger

import (
	"fmt"
	"os"
	"slices"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 封装zap日志器，提供结构化日志功能
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// Config 日志配置
type Config struct {
	Level      string   `yaml:"level"`       // debug, info, warn, error
	Outputs    []string `yaml:"outputs"`     // stdout, file
	OutputFile string   `yaml:"output_file"` // 日志文件路径
	ErrorFile  string   `yaml:"error_file"`  // 错误日志单独文件
	Format     string   `yaml:"format"`      // json 或 console
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Outputs: []string{"stdout"},
		Format:  "json",
	}
}

// New 创建新的Logger实例。进程内只在容器启动时调用一次，之后以句柄形式传递。
func New(cfg Config) (*Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	level := zap.NewAtomicLevelAt(lvl)

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
	}
	encoderConfig.TimeKey = "ts"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{}

	if len(cfg.Outputs) == 0 || slices.Contains(cfg.Outputs, "stdout") {
		var encoder zapcore.Encoder
		if cfg.Format == "console" {
			encoder = zapcore.NewConsoleEncoder(encoderConfig)
		} else {
			encoder = zapcore.NewJSONEncoder(encoderConfig)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
	}

	if slices.Contains(cfg.Outputs, "file") && cfg.OutputFile != "" {
		fileWriter, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file failed: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(fileWriter), level))
	}

	// 错误日志单独文件
	if cfg.ErrorFile != "" {
		errorWriter, err := os.OpenFile(cfg.ErrorFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open error log file failed: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(errorWriter), zapcore.ErrorLevel))
	}

	zl := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{Logger: zl, level: level}, nil
}

// Wrap 用已有的 zap.Logger 构造（测试中注入 observer core）。
func Wrap(zl *zap.Logger) *Logger {
	return &Logger{Logger: zl, level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

// NewNop 返回丢弃所有输出的 Logger。
func NewNop() *Logger { return Wrap(zap.NewNop()) }

// SetLevel 运行时调整日志级别（配置热更新）。
func (l *Logger) SetLevel(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", level, err)
	}
	l.level.SetLevel(lvl)
	return nil
}

// Level returns the current minimum level.
func (l *Logger) Level() zapcore.Level { return l.level.Level() }

// With 添加字段返回新的logger
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...), level: l.level}
}

// LogOrder 记录订单相关事件
func (l *Logger) LogOrder(event string, clientOrderID string, fields ...zap.Field) {
	l.Info("order_event", append([]zap.Field{
		zap.String("event", event),
		zap.String("client_order_id", clientOrderID),
	}, fields...)...)
}

// LogMessage 记录消息流转事件（丢弃、传输错误等）
func (l *Logger) LogMessage(event string, fields ...zap.Field) {
	l.Warn("message_event", append([]zap.Field{zap.String("event", event)}, fields...)...)
}

// LogError 记录错误并附带上下文
func (l *Logger) LogError(err error, fields ...zap.Field) {
	l.Error("error_event", append([]zap.Field{zap.Error(err)}, fields...)...)
}

// Close 关闭日志器
func (l *Logger) Close() error {
	return l.Sync()
}
