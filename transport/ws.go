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

	"golang.org/x/net/websocket"

	"github.com/rsocketd/rsocketd/protocol"
)

// wsConn WebSocket 映射的帧传输
//
// WebSocket 映射中一条二进制消息承载一个帧 消息自身已有边界
// 线上不携带 3 字节长度前缀 收发两侧分别由传输负责补齐与剥离
type wsConn struct {
	ws   *websocket.Conn
	wmu  sync.Mutex
	done chan struct{}
	once sync.Once
}

// NewWSConn 以已完成握手的 websocket.Conn 构建帧传输
func NewWSConn(ws *websocket.Conn) Conn {
	ws.PayloadType = websocket.BinaryFrame
	return &wsConn{
		ws:   ws,
		done: make(chan struct{}),
	}
}

// DialWS 建立 WebSocket 链接并构建帧传输
func DialWS(url, origin string) (Conn, error) {
	ws, err := websocket.Dial(url, "", origin)
	if err != nil {
		return nil, err
	}
	return NewWSConn(ws), nil
}

func (c *wsConn) ReadFrame() (protocol.Frame, error) {
	var body []byte
	if err := websocket.Message.Receive(c.ws, &body); err != nil {
		c.Close()
		return protocol.Frame{}, err
	}

	f, err := protocol.FrameFromBody(body)
	if err != nil {
		c.Close()
		return protocol.Frame{}, err
	}
	return f, nil
}

func (c *wsConn) WriteFrame(f protocol.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return websocket.Message.Send(c.ws, f.Body())
}

func (c *wsConn) Done() <-chan struct{} {
	return c.done
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) RemoteAddr() string {
	if addr := c.ws.Request(); addr != nil {
		return addr.RemoteAddr
	}
	return c.ws.RemoteAddr().String()
}
