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

package transport

import (
	"github.com/pkg/errors"

	"github.com/rsocketd/rsocketd/protocol"
)

// ErrClosed 传输已经关闭
var ErrClosed = errors.New("transport: closed")

// Conn 双工帧传输契约 引擎不触达更底层的字节 IO
//
// ReadFrame 阻塞读取一个完整帧 帧持有池化缓冲 由消费方 Release
// WriteFrame 写入一个完整帧 只读取字节 不接管帧的所有权
// Done 为关闭信号 Close 释放底层资源 多次调用安全
type Conn interface {
	ReadFrame() (protocol.Frame, error)
	WriteFrame(f protocol.Frame) error
	Done() <-chan struct{}
	Close() error

	// RemoteAddr 返回对端地址描述 仅用于日志与统计
	RemoteAddr() string
}
