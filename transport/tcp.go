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
	"bufio"
	"net"
	"sync"

	"github.com/rsocketd/rsocketd/protocol"
)

// tcpConn TCP 映射的帧传输
//
// TCP 线上映像与帧内存映像一致 3 字节长度前缀即为帧切分依据
// 读写分别由单独的 goroutine 驱动 写入侧由互斥锁保证帧不交织
type tcpConn struct {
	conn net.Conn
	br   *bufio.Reader

	wmu  sync.Mutex
	bw   *bufio.Writer
	done chan struct{}
	once sync.Once
}

// NewTCPConn 以现有的 net.Conn 构建帧传输
func NewTCPConn(conn net.Conn) Conn {
	return &tcpConn{
		conn: conn,
		br:   bufio.NewReaderSize(conn, 32*1024),
		bw:   bufio.NewWriterSize(conn, 32*1024),
		done: make(chan struct{}),
	}
}

// DialTCP 建立 TCP 链接并构建帧传输
func DialTCP(addr string) (Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewTCPConn(conn), nil
}

func (c *tcpConn) ReadFrame() (protocol.Frame, error) {
	f, err := protocol.ReadFrame(c.br)
	if err != nil {
		c.Close()
		return protocol.Frame{}, err
	}
	return f, nil
}

func (c *tcpConn) WriteFrame(f protocol.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	if _, err := c.bw.Write(f.Bytes()); err != nil {
		return err
	}
	return c.bw.Flush()
}

func (c *tcpConn) Done() <-chan struct{} {
	return c.done
}

func (c *tcpConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
