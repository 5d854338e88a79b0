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
	"time"

	"github.com/rsocketd/rsocketd/internal/rescue"
	"github.com/rsocketd/rsocketd/protocol"
)

// ResumeState 可恢复链接的位点提供方
//
// 位点由传输层的收发字节计数维护 KEEPALIVE 帧携带收包位点
type ResumeState interface {
	LastReceivedPosition() uint64
}

// keepAlive 链接存活协调器
//
// 每个 interval 周期 若距最近一次收到 KEEPALIVE 未超过 timeout
// 则发出 KEEPALIVE(respond=true) 否则触发一次超时动作
// 收到 respond=true 的 KEEPALIVE 时原样回显数据并清除 respond 标志
type keepAlive struct {
	interval time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	lastRecv time.Time
	stopCh   chan struct{}
	running  bool
	fired    bool

	send      func(f protocol.Frame)
	onTimeout func()
	resume    ResumeState
}

func newKeepAlive(interval, timeout time.Duration, send func(protocol.Frame), onTimeout func(), resume ResumeState) *keepAlive {
	return &keepAlive{
		interval:  interval,
		timeout:   timeout,
		lastRecv:  time.Now(),
		send:      send,
		onTimeout: onTimeout,
		resume:    resume,
	}
}

// Start 启动定时器 重复启动为 no-op
//
// 可恢复链接在传输重连时再次 Start 此时重置收包时钟
func (ka *keepAlive) Start() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if ka.running {
		return
	}
	ka.running = true
	ka.fired = false
	ka.lastRecv = time.Now()
	ka.stopCh = make(chan struct{})

	go func(stopCh chan struct{}) {
		defer rescue.HandleCrash()
		ka.loop(stopCh)
	}(ka.stopCh)
}

// Stop 停止定时器 重复停止为 no-op
func (ka *keepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.running {
		return
	}
	ka.running = false
	close(ka.stopCh)
}

func (ka *keepAlive) loop(stopCh chan struct{}) {
	ticker := time.NewTicker(ka.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return

		case <-ticker.C:
			if ka.tick() {
				return
			}
		}
	}
}

// tick 单次周期检查 返回 true 表示已超时 定时循环退出
func (ka *keepAlive) tick() bool {
	ka.mu.Lock()
	elapsed := time.Since(ka.lastRecv)
	expired := elapsed >= ka.timeout
	fired := ka.fired
	if expired {
		ka.fired = true
	}
	ka.mu.Unlock()

	if expired {
		// 超时动作至多触发一次
		if !fired {
			keepaliveTimeouts.Inc()
			ka.onTimeout()
		}
		return true
	}

	f, err := protocol.EncodeKeepAlive(true, ka.position(), nil)
	if err != nil {
		log.Errorf("encode keepalive failed: %v", err)
		return false
	}
	ka.send(f)
	return false
}

func (ka *keepAlive) position() uint64 {
	if ka.resume == nil {
		return 0
	}
	return ka.resume.LastReceivedPosition()
}

// OnFrame 处理收到的 KEEPALIVE 帧
//
// 刷新收包时钟 对端要求回应时原样回显数据
func (ka *keepAlive) OnFrame(f protocol.Frame) {
	ka.mu.Lock()
	ka.lastRecv = time.Now()
	ka.mu.Unlock()

	if !f.KeepAliveRespond() {
		return
	}

	echo, err := protocol.EncodeKeepAlive(false, ka.position(), f.Data())
	if err != nil {
		log.Errorf("encode keepalive echo failed: %v", err)
		return
	}
	ka.send(echo)
}

// resumableKeepAlive 可恢复链接的存活协调器
//
// 传输断开时暂停计时 重连时恢复 超时动作请求断开而非关闭
// 定时器恰好在传输不可用期间处于停止状态
type resumableKeepAlive struct {
	*keepAlive
}

func newResumableKeepAlive(interval, timeout time.Duration, send func(protocol.Frame), onDisconnect func(), resume ResumeState) *resumableKeepAlive {
	return &resumableKeepAlive{
		keepAlive: newKeepAlive(interval, timeout, send, onDisconnect, resume),
	}
}

// OnDisconnect 传输断开通知 暂停计时
func (ka *resumableKeepAlive) OnDisconnect() {
	ka.Stop()
}

// OnResume 传输重连通知 恢复计时
func (ka *resumableKeepAlive) OnResume() {
	ka.Start()
}
