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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryAtMostOneEntry(t *testing.T) {
	reg := newRegistry()

	assert.True(t, reg.putSender(1, newSender(1, nil, nil)))
	assert.False(t, reg.putSender(1, newSender(1, nil, nil)))

	in := newInbound(1, func(uint32) {}, func() {})
	assert.True(t, reg.putReceiver(1, in))
	assert.False(t, reg.putReceiver(1, in))

	senders, receivers := reg.counts()
	assert.Equal(t, 1, senders)
	assert.Equal(t, 1, receivers)
}

func TestRegistryRemoveIdempotent(t *testing.T) {
	reg := newRegistry()
	reg.putSender(1, newSender(1, nil, nil))

	assert.NotNil(t, reg.removeSender(1))
	assert.Nil(t, reg.removeSender(1))
	assert.Nil(t, reg.removeReceiver(42))
}

func TestRegistrySweep(t *testing.T) {
	reg := newRegistry()
	reg.putSender(11, newSender(11, nil, nil))
	reg.putReceiver(13, newInbound(13, func(uint32) {}, func() {}))
	reg.putSender(15, newSender(15, nil, nil))
	reg.putReceiver(15, newInbound(15, func(uint32) {}, func() {}))

	senders, receivers := reg.sweep(ErrClosedChannel)
	assert.Len(t, senders, 2)
	assert.Len(t, receivers, 2)

	ns, nr := reg.counts()
	assert.Zero(t, ns)
	assert.Zero(t, nr)
	assert.Equal(t, ErrClosedChannel, reg.terminationError())

	// 清扫之后注册与删除均被抑制
	assert.False(t, reg.putSender(17, newSender(17, nil, nil)))
	assert.Nil(t, reg.removeSender(11))

	// 重复清扫返回空快照
	senders, receivers = reg.sweep(ErrClosedChannel)
	assert.Empty(t, senders)
	assert.Empty(t, receivers)
}

func TestCreditSaturation(t *testing.T) {
	cr := newCredit(2)
	assert.True(t, cr.Acquire())
	assert.True(t, cr.Acquire())

	done := make(chan struct{})
	go func() {
		// 无额度时阻塞 直到新授予
		assert.True(t, cr.Acquire())
		close(done)
	}()
	cr.Add(1)
	<-done

	// 达到上限即饱和为无限
	cr.Add(0x7FFFFFFF)
	for i := 0; i < 100; i++ {
		assert.True(t, cr.Acquire())
	}

	cr.Close()
	assert.False(t, cr.Acquire())
}
