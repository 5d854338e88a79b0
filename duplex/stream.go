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

package duplex

import (
	"context"
	"io"
	"sync"

	"github.com/rsocketd/rsocketd/protocol"
)

// credit 逐流的信用额度计数器
//
// 额度由对端通过 REQUEST_N 帧授予 达到 MaxRequestN 即饱和为无限
// Acquire 在无额度时阻塞 直到新的授予或者流被关闭
type credit struct {
	mu        sync.Mutex
	cond      *sync.Cond
	n         int64
	unbounded bool
	closed    bool
}

func newCredit(initial uint32) *credit {
	c := &credit{}
	c.cond = sync.NewCond(&c.mu)
	c.add(initial)
	return c
}

func (c *credit) add(n uint32) {
	if n >= protocol.MaxRequestN {
		c.unbounded = true
	} else {
		c.n += int64(n)
		if c.n >= protocol.MaxRequestN {
			c.unbounded = true
		}
	}
}

// Add 追加信用额度并唤醒等待方
func (c *credit) Add(n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.add(n)
	c.cond.Broadcast()
}

// Acquire 消耗一个额度 流关闭返回 false
func (c *credit) Acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		if c.closed {
			return false
		}
		if c.unbounded {
			return true
		}
		if c.n > 0 {
			c.n--
			return true
		}
		c.cond.Wait()
	}
}

// Close 关闭计数器 唤醒所有等待方
func (c *credit) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.cond.Broadcast()
}

// sender 出站生产订阅 即注册表中的发送端条目
//
// 对于 REQUEST_RESPONSE / REQUEST_FNF 仅承载取消语义 credit 与 src 为空
// src 允许在 handler 返回后再绑定 取消与绑定的竞态在锁内裁决
type sender struct {
	id        uint32
	cancelCtx context.CancelFunc
	credit    *credit

	mu       sync.Mutex
	src      Source
	canceled bool
}

func newSender(id uint32, cancel context.CancelFunc, cr *credit) *sender {
	return &sender{id: id, cancelCtx: cancel, credit: cr}
}

// Cancel 取消上游订阅 幂等
func (s *sender) Cancel() {
	s.mu.Lock()
	if s.canceled {
		s.mu.Unlock()
		return
	}
	s.canceled = true
	src := s.src
	s.mu.Unlock()

	if s.cancelCtx != nil {
		s.cancelCtx()
	}
	if s.credit != nil {
		s.credit.Close()
	}
	if src != nil {
		src.Cancel()
	}
}

// bindSource 绑定出站序列 已取消时代为取消并返回 false
func (s *sender) bindSource(src Source) bool {
	s.mu.Lock()
	if s.canceled {
		s.mu.Unlock()
		src.Cancel()
		return false
	}
	s.src = src
	s.mu.Unlock()
	return true
}

// RequestN 追加信用额度 无额度语义的条目为 no-op
func (s *sender) RequestN(n uint32) {
	if s.credit != nil {
		s.credit.Add(n)
	}
}

// Inbound 入站负载汇 即注册表中的接收端条目
//
// 单订阅者队列 消费方通过 Next 拉取 通过 Request 向对端授予额度
// 消费方 Cancel 后向对端发出 CANCEL 帧并注销自身
type Inbound struct {
	id uint32

	mu     sync.Mutex
	queue  []*protocol.Payload
	done   bool
	err    error
	signal chan struct{}

	// 回链均为闭包句柄 Inbound 不持有发送队列本身
	onRequestN func(n uint32)
	onCancel   func()
}

func newInbound(id uint32, onRequestN func(uint32), onCancel func()) *Inbound {
	return &Inbound{
		id:         id,
		signal:     make(chan struct{}, 1),
		onRequestN: onRequestN,
		onCancel:   onCancel,
	}
}

func (in *Inbound) notify() {
	select {
	case in.signal <- struct{}{}:
	default:
	}
}

// push 投递一个负载 所有权移交给 Inbound
func (in *Inbound) push(p *protocol.Payload) {
	in.mu.Lock()
	if in.done {
		in.mu.Unlock()
		p.Release()
		return
	}
	in.queue = append(in.queue, p)
	in.mu.Unlock()
	in.notify()
}

// complete 标记序列正常结束
func (in *Inbound) complete() {
	in.mu.Lock()
	in.done = true
	in.mu.Unlock()
	in.notify()
}

// fail 标记序列异常终止 清空未消费的负载
func (in *Inbound) fail(err error) {
	in.mu.Lock()
	if in.done {
		in.mu.Unlock()
		return
	}
	in.done = true
	in.err = err
	queued := in.queue
	in.queue = nil
	in.mu.Unlock()

	for _, p := range queued {
		p.Release()
	}
	in.notify()
}

// Next 拉取下一个负载 返回的负载由调用方 Release
//
// 序列正常结束返回 io.EOF 异常终止返回对应错误
func (in *Inbound) Next(ctx context.Context) (*protocol.Payload, error) {
	for {
		in.mu.Lock()
		if len(in.queue) > 0 {
			p := in.queue[0]
			in.queue = in.queue[1:]
			in.mu.Unlock()
			return p, nil
		}
		if in.done {
			err := in.err
			in.mu.Unlock()
			if err == nil {
				return nil, io.EOF
			}
			return nil, err
		}
		in.mu.Unlock()

		select {
		case <-in.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Request 向对端授予 n 个额度 即发出 REQUEST_N 帧
func (in *Inbound) Request(n uint32) {
	in.mu.Lock()
	done := in.done
	in.mu.Unlock()
	if done || n == 0 {
		return
	}
	in.onRequestN(n)
}

// Cancel 消费方主动取消 向对端发出 CANCEL 帧并注销自身
func (in *Inbound) Cancel() {
	in.mu.Lock()
	if in.done {
		in.mu.Unlock()
		return
	}
	in.done = true
	in.err = context.Canceled
	queued := in.queue
	in.queue = nil
	in.mu.Unlock()

	for _, p := range queued {
		p.Release()
	}
	in.notify()
	in.onCancel()
}
