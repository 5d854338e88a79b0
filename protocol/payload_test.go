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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPayloadFromFrame(t *testing.T) {
	f, err := Encode(1, 0, TypeNext, []byte("meta"), []byte("data"))
	assert.NoError(t, err)

	p := PayloadFromFrame(f)
	f.Release()

	// 帧释放后负载依然可用 即字节已经拷贝
	assert.Equal(t, []byte("meta"), p.Metadata())
	assert.Equal(t, []byte("data"), p.Data())
	assert.True(t, p.HasMetadata())
	p.Release()
}

func TestPayloadRetainRelease(t *testing.T) {
	p := NewStringPayload("m", "d")
	p.Retain()

	p.Release()
	assert.Equal(t, []byte("d"), p.Data())

	p.Release()
	assert.Nil(t, p.Data())
	assert.Nil(t, p.Metadata())
}

func TestEmptyPayload(t *testing.T) {
	p := NewPayload(nil, nil)
	assert.False(t, p.HasMetadata())
	assert.Empty(t, p.Data())
	p.Release()
}
