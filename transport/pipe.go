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
	"sync"

	"github.com/rsocketd/rsocketd/protocol"
)

// pipeConn 进程内的帧传输 用于测试与同进程对接
type pipeConn struct {
	rd   <-chan protocol.Frame
	wr   chan<- protocol.Frame
	done chan struct{}
	peer *pipeConn

	once sync.Once
}

// Pipe 创建一对互为对端的进程内帧传输
func Pipe() (Conn, Conn) {
	a2b := make(chan protocol.Frame, 64)
	b2a := make(chan protocol.Frame, 64)

	a := &pipeConn{rd: b2a, wr: a2b, done: make(chan struct{})}
	b := &pipeConn{rd: a2b, wr: b2a, done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

func (c *pipeConn) ReadFrame() (protocol.Frame, error) {
	select {
	case f, ok := <-c.rd:
		if !ok {
			return protocol.Frame{}, ErrClosed
		}
		return f, nil
	case <-c.done:
		return protocol.Frame{}, ErrClosed
	case <-c.peer.done:
		return protocol.Frame{}, ErrClosed
	}
}

func (c *pipeConn) WriteFrame(f protocol.Frame) error {
	// 写入侧重新拷贝一份 帧的所有权仍归调用方
	clone, err := protocol.FrameFromBody(append([]byte{}, f.Body()...))
	if err != nil {
		return err
	}

	select {
	case c.wr <- clone:
		return nil
	case <-c.done:
		clone.Release()
		return ErrClosed
	case <-c.peer.done:
		clone.Release()
		return ErrClosed
	}
}

func (c *pipeConn) Done() <-chan struct{} {
	return c.done
}

func (c *pipeConn) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}

func (c *pipeConn) RemoteAddr() string {
	return "pipe"
}
