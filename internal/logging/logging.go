// Package logging 构造应用使用的 zerolog.Logger。
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TimeFormat 是控制台输出的时间格式。
const TimeFormat = "2006-01-02_15:04:05"

// Options 描述日志输出。
type Options struct {
	Level string
	// File 非空时写入该文件并按大小轮转，否则写到 stderr。
	File string
	// Out 覆盖默认输出，测试中使用。
	Out io.Writer
}

// New 返回带调用位置的控制台 logger，以及需要在退出时关闭的资源。
func New(opts Options) (zerolog.Logger, io.Closer) {
	var (
		out    io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	switch {
	case opts.Out != nil:
		out = opts.Out
	case strings.TrimSpace(opts.File) != "":
		rotating := &lumberjack.Logger{
			Filename:   strings.TrimSpace(opts.File),
			MaxSize:    20,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		out, closer = rotating, rotating
	}

	writer := zerolog.ConsoleWriter{Out: out, TimeFormat: TimeFormat, NoColor: opts.Out != nil || opts.File != ""}
	logger := zerolog.New(writer).Level(ParseLevel(opts.Level)).With().Timestamp().Caller().Logger()
	return logger, closer
}

// ParseLevel 解析日志级别，无法识别时返回 info。
func ParseLevel(raw string) zerolog.Level {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	level, err := zerolog.ParseLevel(trimmed)
	if err != nil || trimmed == "" {
		return zerolog.InfoLevel
	}
	return level
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
