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

// Package duplex 实现 RSocket 双工链接引擎的核心
//
// 一条链接之上同时承载响应端与请求端 帧按 StreamID 多路复用
// 四种交互模型均受逐流的信用额度背压约束
package duplex

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/rsocketd/rsocketd/logger"
	"github.com/rsocketd/rsocketd/protocol"
)

var log = logger.Named("duplex")

func newError(format string, args ...any) error {
	format = "duplex: " + format
	return errors.Errorf(format, args...)
}

var (
	// ErrClosedChannel 链接关闭时注入所有在途流的终止错误
	ErrClosedChannel = newError("closed channel")

	// ErrStreamIDExhausted 流标识耗尽 链接需要关闭
	ErrStreamIDExhausted = newError("stream id exhausted")
)

// Source 出站负载序列 由引擎按信用额度逐个拉取
//
// Next 返回下一个负载 io.EOF 表示序列正常结束
// 同一 Source 任意时刻至多被一个 goroutine 调用
// Cancel 通知生产方停止 之后引擎不再调用 Next
type Source interface {
	Next(ctx context.Context) (*protocol.Payload, error)
	Cancel()
}

// Handler 用户提供的响应端处理器
//
// 同步 panic 会被引擎捕获并转化为对应交互的错误
// RequestChannel 的首个负载同时出现在 in 与 bootstrap 两处 属协议怪癖 两者皆可消费
type Handler interface {
	FireAndForget(p *protocol.Payload) error
	MetadataPush(p *protocol.Payload) error
	RequestResponse(p *protocol.Payload) (*protocol.Payload, error)
	RequestStream(p *protocol.Payload) (Source, error)
	RequestChannel(bootstrap *protocol.Payload, in *Inbound) (Source, error)
	Dispose()
}

// Requester 请求端接口 由 *Conn 实现
type Requester interface {
	FireAndForget(p *protocol.Payload) error
	MetadataPush(p *protocol.Payload) error
	RequestResponse(ctx context.Context, p *protocol.Payload) (*protocol.Payload, error)
	RequestStream(p *protocol.Payload, initialN uint32) (*Inbound, error)
	RequestChannel(bootstrap *protocol.Payload, src Source, initialN uint32) (*Inbound, error)
}

// sliceSource 以既有切片实现的 Source
type sliceSource struct {
	payloads []*protocol.Payload
	pos      int
	canceled bool
}

// NewSliceSource 以既有负载切片构建 Source 负载所有权移交给 Source
func NewSliceSource(payloads ...*protocol.Payload) Source {
	return &sliceSource{payloads: payloads}
}

func (s *sliceSource) Next(ctx context.Context) (*protocol.Payload, error) {
	if s.canceled || s.pos >= len(s.payloads) {
		return nil, io.EOF
	}
	p := s.payloads[s.pos]
	s.pos++
	return p, nil
}

func (s *sliceSource) Cancel() {
	s.canceled = true
	for ; s.pos < len(s.payloads); s.pos++ {
		s.payloads[s.pos].Release()
	}
}

// chanSource 以 channel 实现的 Source 适合 goroutine 生产场景
type chanSource struct {
	ch     <-chan *protocol.Payload
	cancel context.CancelFunc
}

// NewChanSource 以 channel 构建 Source
//
// channel 关闭即视为序列结束 cancel 在消费方取消时触发 可为 nil
func NewChanSource(ch <-chan *protocol.Payload, cancel context.CancelFunc) Source {
	return &chanSource{ch: ch, cancel: cancel}
}

func (s *chanSource) Next(ctx context.Context) (*protocol.Payload, error) {
	select {
	case p, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *chanSource) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}
