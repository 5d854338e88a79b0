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
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"github.com/rsocketd/rsocketd/internal/bufpool"
)

// Payload 一对 (Metadata, Data) 字节区块 内容对引擎透明
//
// Payload 采用引用计数管理生命周期 每条所有权路径恰好 Release 一次
// 计数归零后归还池化缓冲 此后不允许再访问字节内容
type Payload struct {
	refs     atomic.Int32
	metadata []byte
	data     []byte
	buf      *bytebufferpool.ByteBuffer
}

// NewPayload 以调用方自有的字节构建 Payload 初始引用计数为 1
func NewPayload(metadata, data []byte) *Payload {
	p := &Payload{metadata: metadata, data: data}
	p.refs.Store(1)
	return p
}

// NewStringPayload 以字符串内容构建 Payload
func NewStringPayload(metadata, data string) *Payload {
	var m []byte
	if metadata != "" {
		m = []byte(metadata)
	}
	return NewPayload(m, []byte(data))
}

// PayloadFromFrame 从帧中拷贝出 Payload
//
// 帧在 dispatch 结束后即被释放 而 Payload 可能被下游长期持有
// 因此两个区块都必须在此处落入 Payload 自有的池化缓冲
func PayloadFromFrame(f Frame) *Payload {
	metadata := f.Metadata()
	data := f.Data()
	if len(metadata) == 0 && len(data) == 0 {
		return NewPayload(nil, nil)
	}

	buf := bufpool.Acquire()
	buf.Write(metadata)
	buf.Write(data)

	p := &Payload{buf: buf}
	if len(metadata) > 0 {
		p.metadata = buf.B[:len(metadata)]
	}
	p.data = buf.B[len(metadata):]
	p.refs.Store(1)
	return p
}

// Metadata 返回 Metadata 区块 可能为空
func (p *Payload) Metadata() []byte {
	return p.metadata
}

// Data 返回 Data 区块 可能为空
func (p *Payload) Data() []byte {
	return p.data
}

// HasMetadata 返回是否携带 Metadata
func (p *Payload) HasMetadata() bool {
	return len(p.metadata) > 0
}

// Retain 增加一次引用 返回自身便于链式传递
func (p *Payload) Retain() *Payload {
	p.refs.Add(1)
	return p
}

// Release 减少一次引用 计数归零时回收缓冲
func (p *Payload) Release() {
	if p == nil {
		return
	}
	if p.refs.Add(-1) != 0 {
		return
	}

	p.metadata = nil
	p.data = nil
	if p.buf != nil {
		bufpool.Release(p.buf)
		p.buf = nil
	}
}
