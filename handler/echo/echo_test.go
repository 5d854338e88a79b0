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

package echo

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rsocketd/rsocketd/common"
	"github.com/rsocketd/rsocketd/duplex"
	"github.com/rsocketd/rsocketd/protocol"
)

func collect(t *testing.T, src duplex.Source) []string {
	t.Helper()
	var got []string
	for {
		p, err := src.Next(context.Background())
		if err == io.EOF {
			return got
		}
		assert.NoError(t, err)
		got = append(got, string(p.Data()))
		p.Release()
	}
}

func TestEchoRequestResponse(t *testing.T) {
	h, err := New(common.NewOptions())
	assert.NoError(t, err)

	p := protocol.NewStringPayload("m", "d")
	rsp, err := h.RequestResponse(p)
	assert.NoError(t, err)
	assert.Equal(t, []byte("m"), rsp.Metadata())
	assert.Equal(t, []byte("d"), rsp.Data())
	rsp.Release()
	p.Release()
}

func TestEchoRequestStreamRepeat(t *testing.T) {
	opts := common.NewOptions()
	opts.Merge("repeat", 2)
	h, err := New(opts)
	assert.NoError(t, err)

	p := protocol.NewStringPayload("", "x")
	src, err := h.RequestStream(p)
	assert.NoError(t, err)
	assert.Equal(t, []string{"x", "x"}, collect(t, src))
	p.Release()
}

func TestEchoRequestStreamSeparator(t *testing.T) {
	opts := common.NewOptions()
	opts.Merge("separator", ",")
	h, err := New(opts)
	assert.NoError(t, err)

	p := protocol.NewStringPayload("", "a,b,c")
	src, err := h.RequestStream(p)
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, collect(t, src))
	p.Release()
}
