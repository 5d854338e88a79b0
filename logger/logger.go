// Copyright 2025 The rsocketd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger 进程级日志
//
// 根日志器以应用名命名 各组件通过 Named 取得子日志器
// 日志级别由 AtomicLevel 承载 管理端调整级别时无需重建日志器
// SetOptions 以原子交换的方式热更新输出目标 已取得的子日志器同步生效
package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rsocketd/rsocketd/common"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func toZapLevel(l string) zapcore.Level {
	levels := map[Level]zapcore.Level{
		LevelDebug: zapcore.DebugLevel,
		LevelInfo:  zapcore.InfoLevel,
		LevelWarn:  zapcore.WarnLevel,
		LevelError: zapcore.ErrorLevel,
	}
	if level, ok := levels[Level(strings.ToLower(strings.TrimSpace(l)))]; ok {
		return level
	}
	return zapcore.DebugLevel
}

type Options struct {
	Stdout     bool   `config:"stdout"`
	Level      string `config:"level"`
	Filename   string `config:"filename"`
	MaxSize    int    `config:"maxSize"` // unit: MB
	MaxAge     int    `config:"maxAge"`  // unit: days
	MaxBackups int    `config:"maxBackups"`
}

var (
	level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	std   atomic.Pointer[zap.SugaredLogger]
)

func init() {
	std.Store(build(Options{Stdout: true}))
}

// build 构建以应用名命名的根日志器
func build(opt Options) *zap.SugaredLogger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	var w zapcore.WriteSyncer
	switch {
	case opt.Stdout:
		w = zapcore.AddSync(os.Stdout)
	default:
		// 初始化日志目录
		if err := os.MkdirAll(filepath.Dir(opt.Filename), os.ModePerm); err != nil {
			panic(err)
		}

		w = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opt.Filename,
			MaxSize:    opt.MaxSize,
			MaxBackups: opt.MaxBackups,
			MaxAge:     opt.MaxAge,
			LocalTime:  true,
		})
	}

	level.SetLevel(toZapLevel(opt.Level))
	core := zapcore.NewCore(encoder, w, level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Named(common.App).Sugar()
}

// SetOptions 热更新全局日志输出 对所有 Named 日志器即时生效
func SetOptions(opt Options) {
	std.Store(build(opt))
}

// SetLoggerLevel 调整全局日志级别 仅翻转 AtomicLevel 不重建日志器
func SetLoggerLevel(s string) {
	level.SetLevel(toZapLevel(s))
}

// Logger 具名组件日志器
//
// 仅持有组件名 实际输出始终解析到当前的全局日志器
// 因此配置热更新之后无需重新取得
type Logger struct {
	name string
}

// Named 返回以组件命名的 Logger
func Named(name string) Logger {
	return Logger{name: name}
}

func (l Logger) Debugf(template string, args ...any) {
	std.Load().Named(l.name).Debugf(template, args...)
}

func (l Logger) Infof(template string, args ...any) {
	std.Load().Named(l.name).Infof(template, args...)
}

func (l Logger) Warnf(template string, args ...any) {
	std.Load().Named(l.name).Warnf(template, args...)
}

func (l Logger) Errorf(template string, args ...any) {
	std.Load().Named(l.name).Errorf(template, args...)
}

func Debugf(template string, args ...any) {
	std.Load().Debugf(template, args...)
}

func Infof(template string, args ...any) {
	std.Load().Infof(template, args...)
}

func Warnf(template string, args ...any) {
	std.Load().Warnf(template, args...)
}

func Errorf(template string, args ...any) {
	std.Load().Errorf(template, args...)
}
