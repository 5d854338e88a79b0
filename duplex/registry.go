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
	"sync"
)

// registry StreamID 到逐流端点的并发映射
//
// 发送端与接收端各一张表 同一 StreamID 任意时刻至多各持有一个条目
// 终止清扫期间单条删除被抑制 避免与清扫遍历并发修改
type registry struct {
	mu         sync.Mutex
	senders    map[uint32]*sender
	receivers  map[uint32]*Inbound
	terminated error
}

func newRegistry() *registry {
	return &registry{
		senders:   make(map[uint32]*sender),
		receivers: make(map[uint32]*Inbound),
	}
}

// putSender 注册发送端条目 同一 StreamID 已存在时拒绝
func (r *registry) putSender(id uint32, s *sender) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminated != nil {
		return false
	}
	if _, ok := r.senders[id]; ok {
		return false
	}
	r.senders[id] = s
	return true
}

// putReceiver 注册接收端条目 同一 StreamID 已存在时拒绝
func (r *registry) putReceiver(id uint32, in *Inbound) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminated != nil {
		return false
	}
	if _, ok := r.receivers[id]; ok {
		return false
	}
	r.receivers[id] = in
	return true
}

// sender 查找发送端条目 未知 StreamID 返回 nil
func (r *registry) sender(id uint32) *sender {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.senders[id]
}

// receiver 查找接收端条目 未知 StreamID 返回 nil
func (r *registry) receiver(id uint32) *Inbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.receivers[id]
}

// removeSender 删除并返回发送端条目 删除幂等
//
// 终止清扫期间删除被抑制 此时返回 nil
func (r *registry) removeSender(id uint32) *sender {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminated != nil {
		return nil
	}
	s := r.senders[id]
	delete(r.senders, id)
	return s
}

// removeReceiver 删除并返回接收端条目 删除幂等
func (r *registry) removeReceiver(id uint32) *Inbound {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminated != nil {
		return nil
	}
	in := r.receivers[id]
	delete(r.receivers, id)
	return in
}

// sweep 终止清扫 在锁内完成快照与清空 并安装终止错误
//
// 返回清扫时刻的端点快照 调用方在锁外完成取消与错误投递
// 清扫之后所有的注册与删除均为 no-op
func (r *registry) sweep(err error) (senders []*sender, receivers []*Inbound) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminated != nil {
		return nil, nil
	}
	r.terminated = err

	for id, s := range r.senders {
		senders = append(senders, s)
		delete(r.senders, id)
	}
	for id, in := range r.receivers {
		receivers = append(receivers, in)
		delete(r.receivers, id)
	}
	return senders, receivers
}

// terminationError 返回已安装的终止错误 未清扫时为 nil
func (r *registry) terminationError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminated
}

// counts 返回两张表的条目数量 用于统计
func (r *registry) counts() (senders, receivers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.senders), len(r.receivers)
}
