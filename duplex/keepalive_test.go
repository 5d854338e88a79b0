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
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rsocketd/rsocketd/protocol"
)

// frameSink 捕获协调器发出的帧
type frameSink struct {
	mu     sync.Mutex
	frames []protocol.Frame
}

func (s *frameSink) send(f protocol.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *frameSink) last() (protocol.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return protocol.Frame{}, false
	}
	return s.frames[len(s.frames)-1], true
}

func TestKeepAlivePing(t *testing.T) {
	sink := &frameSink{}
	ka := newKeepAlive(50*time.Millisecond, time.Minute, sink.send, func() {}, nil)
	ka.Start()
	defer ka.Stop()

	assert.Eventually(t, func() bool {
		return sink.count() >= 2
	}, time.Second, 10*time.Millisecond)

	f, ok := sink.last()
	assert.True(t, ok)
	assert.Equal(t, protocol.TypeKeepAlive, f.WireType())
	assert.True(t, f.KeepAliveRespond())
}

func TestKeepAliveTimeoutOnce(t *testing.T) {
	var fired atomic.Int32
	sink := &frameSink{}
	ka := newKeepAlive(100*time.Millisecond, 300*time.Millisecond, sink.send, func() {
		fired.Add(1)
	}, nil)
	ka.Start()
	defer ka.Stop()

	// 无任何 KEEPALIVE 到达 超时动作恰好触发一次
	assert.Eventually(t, func() bool {
		return fired.Load() == 1
	}, 2*time.Second, 20*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestKeepAliveFrameRefreshesClock(t *testing.T) {
	var fired atomic.Int32
	sink := &frameSink{}
	ka := newKeepAlive(50*time.Millisecond, 200*time.Millisecond, sink.send, func() {
		fired.Add(1)
	}, nil)
	ka.Start()
	defer ka.Stop()

	// 持续喂入 KEEPALIVE 存活时钟不会过期
	for i := 0; i < 5; i++ {
		f, err := protocol.EncodeKeepAlive(false, 0, nil)
		assert.NoError(t, err)
		ka.OnFrame(f)
		f.Release()
		time.Sleep(100 * time.Millisecond)
	}
	assert.Zero(t, fired.Load())
}

func TestKeepAliveEcho(t *testing.T) {
	sink := &frameSink{}
	ka := newKeepAlive(time.Minute, time.Hour, sink.send, func() {}, nil)

	f, err := protocol.EncodeKeepAlive(true, 0, []byte("opaque"))
	assert.NoError(t, err)
	ka.OnFrame(f)
	f.Release()

	echo, ok := sink.last()
	assert.True(t, ok)
	assert.Equal(t, protocol.TypeKeepAlive, echo.WireType())
	assert.False(t, echo.KeepAliveRespond())
	assert.Equal(t, []byte("opaque"), echo.Data())

	// respond=false 的 KEEPALIVE 不触发回显
	f2, err := protocol.EncodeKeepAlive(false, 0, []byte("quiet"))
	assert.NoError(t, err)
	ka.OnFrame(f2)
	f2.Release()
	assert.Equal(t, 1, sink.count())
}

type fixedResumeState struct {
	pos uint64
}

func (s fixedResumeState) LastReceivedPosition() uint64 {
	return s.pos
}

func TestResumableKeepAlive(t *testing.T) {
	var disconnects atomic.Int32
	sink := &frameSink{}
	ka := newResumableKeepAlive(50*time.Millisecond, 150*time.Millisecond, sink.send, func() {
		disconnects.Add(1)
	}, fixedResumeState{pos: 7})

	ka.OnResume()
	assert.Eventually(t, func() bool {
		return disconnects.Load() == 1
	}, 2*time.Second, 20*time.Millisecond)

	// 断开后计时暂停 不再重复触发
	ka.OnDisconnect()
	n := disconnects.Load()
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, n, disconnects.Load())

	// 重连后计时恢复 发出的 KEEPALIVE 携带恢复位点
	ka.OnResume()
	assert.Eventually(t, func() bool {
		f, ok := sink.last()
		return ok && f.KeepAliveLastPosition() == 7
	}, 2*time.Second, 20*time.Millisecond)
	ka.Stop()
}
