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

// Package pubsub 链接错误事件的单主题广播
//
// 引擎内没有天然订阅者的错误 即 fire-and-forget / metadata-push 的
// 处理错误与清理阶段的失败 以 Event 形式广播给管理端的观察者
package pubsub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event 单次链接错误事件
type Event struct {
	Addr  string `json:"addr"`
	Error string `json:"error"`
	Time  int64  `json:"time"`
}

// Subscriber 订阅句柄 以 uuid 标识 消费方逐个弹出事件
type Subscriber struct {
	id     string
	ch     chan Event
	closed atomic.Bool
}

// PopTimeout 弹出一个事件 操作会 block 直到有事件或者超时
func (s *Subscriber) PopTimeout(timeout time.Duration) (Event, bool) {
	if s.closed.Load() {
		return Event{}, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case evt, ok := <-s.ch:
		return evt, ok

	case <-timer.C:
		return Event{}, false
	}
}

func (s *Subscriber) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Bus 错误事件广播总线
//
// Publish 永不阻塞 订阅者消费不及时则丢弃事件
type Bus struct {
	mut  sync.RWMutex
	subs map[string]*Subscriber
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]*Subscriber),
	}
}

// Num 返回当前订阅者数量
func (b *Bus) Num() int {
	b.mut.RLock()
	defer b.mut.RUnlock()

	return len(b.subs)
}

// Subscribe 注册一个缓冲大小为 size 的订阅者
func (b *Bus) Subscribe(size int) *Subscriber {
	if size <= 0 {
		size = 1
	}

	sub := &Subscriber{
		id: uuid.New().String(),
		ch: make(chan Event, size),
	}

	b.mut.Lock()
	defer b.mut.Unlock()

	b.subs[sub.id] = sub
	return sub
}

// Publish 广播一个事件
func (b *Bus) Publish(evt Event) {
	b.mut.RLock()
	defer b.mut.RUnlock()

	for _, sub := range b.subs {
		if sub.closed.Load() {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Unsubscribe 注销订阅者并关闭其队列
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mut.Lock()
	delete(b.subs, sub.id)
	b.mut.Unlock()

	sub.close()
}
