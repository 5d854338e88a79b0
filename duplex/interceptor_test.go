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

	"github.com/rsocketd/rsocketd/protocol"
)

func TestInterceptorsFirstAddedOutermost(t *testing.T) {
	var trace []string

	wrap := func(tag string) ResponderInterceptor {
		return func(inner Handler) Handler {
			return &testHandler{fnf: func(p *protocol.Payload) error {
				trace = append(trace, tag)
				return inner.FireAndForget(p)
			}}
		}
	}

	its := NewInterceptors()
	its.AddResponder(wrap("first"))
	its.AddResponder(wrap("second"))

	base := &testHandler{fnf: func(p *protocol.Payload) error {
		trace = append(trace, "base")
		return nil
	}}
	h := its.ApplyResponder(base)

	p := protocol.NewStringPayload("", "x")
	assert.NoError(t, h.FireAndForget(p))
	p.Release()

	// 先注册者位于最外层 组合方向从左到右
	assert.Equal(t, []string{"first", "second", "base"}, trace)
}
