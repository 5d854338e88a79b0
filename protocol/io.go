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

package protocol

import (
	"io"

	"github.com/rsocketd/rsocketd/internal/bufpool"
)

// ReadFrame 从字节流中读取一个完整帧 用于 TCP 映射
//
// TCP 线上映像与帧内存映像完全一致 即 3 字节长度前缀开头
// 读取产物持有池化缓冲 由消费方负责 Release
func ReadFrame(r io.Reader) (Frame, error) {
	var prefix [lenFieldSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Frame{}, err
	}

	n := int(u24(prefix[:]))
	if n < headerLength-lenFieldSize {
		return Frame{}, errShortFrame
	}

	buf := bufpool.Acquire()
	b := buf.B
	total := lenFieldSize + n
	if cap(b) < total {
		b = make([]byte, total)
	}
	b = b[:total]
	copy(b, prefix[:])

	if _, err := io.ReadFull(r, b[lenFieldSize:]); err != nil {
		bufpool.Release(buf)
		return Frame{}, err
	}
	buf.B = b
	return newPooledFrame(buf), nil
}

// FrameFromBody 以不含长度前缀的帧体重建完整帧 用于 WebSocket 映射
//
// WebSocket 映射中帧按消息边界切分 线上不携带长度前缀
// 重建产物持有池化缓冲 由消费方负责 Release
func FrameFromBody(body []byte) (Frame, error) {
	if len(body) > MaxFrameLength {
		return Frame{}, ErrFrameTooLarge
	}
	if len(body) < headerLength-lenFieldSize {
		return Frame{}, errShortFrame
	}

	buf := bufpool.Acquire()
	b := buf.B
	total := lenFieldSize + len(body)
	if cap(b) < total {
		b = make([]byte, total)
	}
	b = b[:total]

	putU24(b, uint32(len(body)))
	copy(b[lenFieldSize:], body)
	buf.B = b
	return newPooledFrame(buf), nil
}

// Body 返回不含长度前缀的帧体 用于 WebSocket 映射的发送路径
func (f Frame) Body() []byte {
	return f.b[lenFieldSize:]
}
