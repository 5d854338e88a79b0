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
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rsocketd/rsocketd/protocol"
	"github.com/rsocketd/rsocketd/transport"
)

// echoTestHandler 回显处理器 请求端回环测试使用
func echoTestHandler() *testHandler {
	return &testHandler{
		response: func(p *protocol.Payload) (*protocol.Payload, error) {
			return protocol.NewPayload(bytes.Clone(p.Metadata()), bytes.Clone(p.Data())), nil
		},
		stream: func(p *protocol.Payload) (Source, error) {
			return NewSliceSource(
				protocol.NewPayload(nil, bytes.Clone(p.Data())),
				protocol.NewPayload(nil, bytes.Clone(p.Data())),
				protocol.NewPayload(nil, bytes.Clone(p.Data())),
			), nil
		},
		channel: func(bootstrap *protocol.Payload, in *Inbound) (Source, error) {
			in.Request(protocol.MaxRequestN)
			return in, nil
		},
	}
}

// loopback 装配一对互为对端的双工链接
func loopback(t *testing.T, serverHandler Handler) (client, server *Conn) {
	t.Helper()
	a, b := transport.Pipe()
	server = NewConn(b, serverHandler, WithRole(RoleServer))
	client = NewConn(a, &testHandler{}, WithRole(RoleClient))
	t.Cleanup(func() {
		client.Dispose()
		server.Dispose()
	})
	return client, server
}

func TestRequesterRequestResponse(t *testing.T) {
	client, _ := loopback(t, echoTestHandler())

	rsp, err := client.RequestResponse(context.Background(), protocol.NewStringPayload("m", "hello"))
	assert.NoError(t, err)
	assert.NotNil(t, rsp)
	assert.Equal(t, []byte("m"), rsp.Metadata())
	assert.Equal(t, []byte("hello"), rsp.Data())
	rsp.Release()

	// 完成后请求端的接收端条目被移除
	assert.Eventually(t, func() bool {
		return client.Stats().Receivers == 0
	}, time.Second, 10*time.Millisecond)
}

func TestRequesterRequestResponseEmpty(t *testing.T) {
	h := &testHandler{
		response: func(p *protocol.Payload) (*protocol.Payload, error) {
			return nil, nil
		},
	}
	client, _ := loopback(t, h)

	rsp, err := client.RequestResponse(context.Background(), protocol.NewStringPayload("", "x"))
	assert.NoError(t, err)
	assert.Nil(t, rsp)
}

func TestRequesterRequestResponseRemoteError(t *testing.T) {
	h := &testHandler{
		response: func(p *protocol.Payload) (*protocol.Payload, error) {
			return nil, protocol.NewError(protocol.ErrCodeRejected, "not today")
		},
	}
	client, _ := loopback(t, h)

	_, err := client.RequestResponse(context.Background(), protocol.NewStringPayload("", "x"))
	assert.Error(t, err)

	var rerr *protocol.Error
	assert.ErrorAs(t, err, &rerr)
	assert.Equal(t, protocol.ErrCodeRejected, rerr.Code)
	assert.Equal(t, "not today", rerr.Message)
}

func TestRequesterRequestStream(t *testing.T) {
	client, _ := loopback(t, echoTestHandler())

	in, err := client.RequestStream(protocol.NewStringPayload("", "s"), protocol.MaxRequestN)
	assert.NoError(t, err)

	var got []string
	for {
		p, err := in.Next(context.Background())
		if err == io.EOF {
			break
		}
		assert.NoError(t, err)
		got = append(got, string(p.Data()))
		p.Release()
	}
	assert.Equal(t, []string{"s", "s", "s"}, got)
}

func TestRequesterRequestStreamWithCredit(t *testing.T) {
	client, _ := loopback(t, echoTestHandler())

	in, err := client.RequestStream(protocol.NewStringPayload("", "x"), 1)
	assert.NoError(t, err)

	ctx := context.Background()
	p, err := in.Next(ctx)
	assert.NoError(t, err)
	p.Release()

	// 额度耗尽 在追加授予之前不应有新的负载到达
	shortCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = in.Next(shortCtx)
	assert.Equal(t, context.DeadlineExceeded, err)

	in.Request(10)
	var rest int
	for {
		p, err := in.Next(ctx)
		if err == io.EOF {
			break
		}
		assert.NoError(t, err)
		p.Release()
		rest++
	}
	assert.Equal(t, 2, rest)
}

func TestRequesterRequestChannel(t *testing.T) {
	client, _ := loopback(t, echoTestHandler())

	src := NewSliceSource(
		protocol.NewStringPayload("", "c1"),
		protocol.NewStringPayload("", "c2"),
	)
	in, err := client.RequestChannel(protocol.NewStringPayload("", "c0"), src, protocol.MaxRequestN)
	assert.NoError(t, err)

	var got []string
	for {
		p, err := in.Next(context.Background())
		if err == io.EOF {
			break
		}
		assert.NoError(t, err)
		got = append(got, string(p.Data()))
		p.Release()
	}
	// 首个负载与后续序列均被回显
	assert.Equal(t, []string{"c0", "c1", "c2"}, got)
}

func TestRequesterFireAndForget(t *testing.T) {
	got := make(chan []byte, 1)
	h := &testHandler{
		fnf: func(p *protocol.Payload) error {
			got <- append([]byte{}, p.Data()...)
			return nil
		},
	}
	client, _ := loopback(t, h)

	assert.NoError(t, client.FireAndForget(protocol.NewStringPayload("", "fnf")))
	select {
	case data := <-got:
		assert.Equal(t, []byte("fnf"), data)
	case <-time.After(time.Second):
		t.Fatal("fire-and-forget not delivered")
	}
}

func TestRequesterMetadataPush(t *testing.T) {
	got := make(chan []byte, 1)
	h := &testHandler{
		push: func(p *protocol.Payload) error {
			got <- append([]byte{}, p.Metadata()...)
			return nil
		},
	}
	client, _ := loopback(t, h)

	assert.NoError(t, client.MetadataPush(protocol.NewStringPayload("route", "")))
	select {
	case data := <-got:
		assert.Equal(t, []byte("route"), data)
	case <-time.After(time.Second):
		t.Fatal("metadata-push not delivered")
	}
}

func TestRequesterStreamIDAllocation(t *testing.T) {
	a, b := transport.Pipe()
	defer a.Close()
	defer b.Close()

	client := NewConn(a, &testHandler{}, WithRole(RoleClient))
	defer client.Dispose()
	server := NewConn(b, &testHandler{}, WithRole(RoleServer))
	defer server.Dispose()

	// 客户端奇数 服务端偶数 单调递增不复用
	id1, err := client.allocStreamID()
	assert.NoError(t, err)
	id2, err := client.allocStreamID()
	assert.NoError(t, err)
	assert.Equal(t, uint32(1), id1)
	assert.Equal(t, uint32(3), id2)

	id3, err := server.allocStreamID()
	assert.NoError(t, err)
	assert.Equal(t, uint32(2), id3)
}

func TestRequesterCancelPropagation(t *testing.T) {
	blocked := &blockedSource{}
	h := &testHandler{
		stream: func(p *protocol.Payload) (Source, error) {
			return blocked, nil
		},
	}
	client, server := loopback(t, h)

	in, err := client.RequestStream(protocol.NewStringPayload("", "x"), protocol.MaxRequestN)
	assert.NoError(t, err)

	assert.Eventually(t, func() bool {
		return server.Stats().Senders == 1
	}, time.Second, 10*time.Millisecond)

	// 消费方取消 对端发送端条目被移除且上游被取消
	in.Cancel()
	assert.Eventually(t, func() bool {
		return server.Stats().Senders == 0 && blocked.canceled.Load()
	}, time.Second, 10*time.Millisecond)
}
