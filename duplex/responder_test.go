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
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/rsocketd/rsocketd/protocol"
	"github.com/rsocketd/rsocketd/transport"
)

// testHandler 可拼装的测试处理器
type testHandler struct {
	fnf      func(p *protocol.Payload) error
	push     func(p *protocol.Payload) error
	response func(p *protocol.Payload) (*protocol.Payload, error)
	stream   func(p *protocol.Payload) (Source, error)
	channel  func(bootstrap *protocol.Payload, in *Inbound) (Source, error)
	disposed atomic.Bool
}

func (h *testHandler) FireAndForget(p *protocol.Payload) error {
	if h.fnf == nil {
		return errors.New("not implemented")
	}
	return h.fnf(p)
}

func (h *testHandler) MetadataPush(p *protocol.Payload) error {
	if h.push == nil {
		return errors.New("not implemented")
	}
	return h.push(p)
}

func (h *testHandler) RequestResponse(p *protocol.Payload) (*protocol.Payload, error) {
	if h.response == nil {
		return nil, errors.New("not implemented")
	}
	return h.response(p)
}

func (h *testHandler) RequestStream(p *protocol.Payload) (Source, error) {
	if h.stream == nil {
		return nil, errors.New("not implemented")
	}
	return h.stream(p)
}

func (h *testHandler) RequestChannel(bootstrap *protocol.Payload, in *Inbound) (Source, error) {
	if h.channel == nil {
		return nil, errors.New("not implemented")
	}
	return h.channel(bootstrap, in)
}

func (h *testHandler) Dispose() {
	h.disposed.Store(true)
}

// frameReader 持续消费对端帧 供测试逐个断言
type frameReader struct {
	ch chan protocol.Frame
}

func newFrameReader(tr transport.Conn) *frameReader {
	fr := &frameReader{ch: make(chan protocol.Frame, 64)}
	go func() {
		for {
			f, err := tr.ReadFrame()
			if err != nil {
				close(fr.ch)
				return
			}
			fr.ch <- f
		}
	}()
	return fr
}

func (fr *frameReader) next(timeout time.Duration) (protocol.Frame, bool) {
	select {
	case f, ok := <-fr.ch:
		return f, ok
	case <-time.After(timeout):
		return protocol.Frame{}, false
	}
}

func writeFrame(t *testing.T, tr transport.Conn, f protocol.Frame, err error) {
	t.Helper()
	assert.NoError(t, err)
	assert.NoError(t, tr.WriteFrame(f))
	f.Release()
}

// blockedSource 永不产出的 Source 用于维持发送端条目
type blockedSource struct {
	canceled atomic.Bool
}

func (s *blockedSource) Next(ctx context.Context) (*protocol.Payload, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *blockedSource) Cancel() {
	s.canceled.Store(true)
}

func TestResponderRequestResponse(t *testing.T) {
	a, b := transport.Pipe()
	h := &testHandler{
		response: func(p *protocol.Payload) (*protocol.Payload, error) {
			assert.Equal(t, []byte("m"), p.Metadata())
			assert.Equal(t, []byte("d"), p.Data())
			return protocol.NewStringPayload("M", "D"), nil
		},
	}
	conn := NewConn(a, h)
	defer conn.Dispose()
	fr := newFrameReader(b)

	req, err := protocol.Encode(1, 0, protocol.TypeRequestResponse, []byte("m"), []byte("d"))
	writeFrame(t, b, req, err)

	f, ok := fr.next(time.Second)
	assert.True(t, ok)
	defer f.Release()

	lt, err := f.Type()
	assert.NoError(t, err)
	assert.Equal(t, protocol.TypeNextComplete, lt)
	assert.Equal(t, uint32(1), f.StreamID())
	assert.Equal(t, []byte("M"), f.Metadata())
	assert.Equal(t, []byte("D"), f.Data())

	// 响应完成后发送端条目被移除
	assert.Eventually(t, func() bool {
		return conn.Stats().Senders == 0
	}, time.Second, 10*time.Millisecond)
}

func TestResponderRequestResponseEmpty(t *testing.T) {
	a, b := transport.Pipe()
	h := &testHandler{
		response: func(p *protocol.Payload) (*protocol.Payload, error) {
			return nil, nil
		},
	}
	conn := NewConn(a, h)
	defer conn.Dispose()
	fr := newFrameReader(b)

	req, err := protocol.Encode(3, 0, protocol.TypeRequestResponse, nil, []byte("d"))
	writeFrame(t, b, req, err)

	f, ok := fr.next(time.Second)
	assert.True(t, ok)
	defer f.Release()

	lt, err := f.Type()
	assert.NoError(t, err)
	assert.Equal(t, protocol.TypeComplete, lt)
	assert.Equal(t, uint32(3), f.StreamID())
	assert.Empty(t, f.Metadata())
	assert.Empty(t, f.Data())
}

func TestResponderRequestResponseError(t *testing.T) {
	a, b := transport.Pipe()
	h := &testHandler{
		response: func(p *protocol.Payload) (*protocol.Payload, error) {
			return nil, errors.New("no such route")
		},
	}
	conn := NewConn(a, h)
	defer conn.Dispose()
	fr := newFrameReader(b)

	req, err := protocol.Encode(1, 0, protocol.TypeRequestResponse, nil, nil)
	writeFrame(t, b, req, err)

	f, ok := fr.next(time.Second)
	assert.True(t, ok)
	defer f.Release()

	assert.Equal(t, protocol.TypeError, f.WireType())
	assert.Equal(t, protocol.ErrCodeApplicationError, f.ErrorCode())
	assert.Equal(t, "no such route", f.ErrorMessage())
}

func TestResponderRequestStreamCredit(t *testing.T) {
	a, b := transport.Pipe()
	h := &testHandler{
		stream: func(p *protocol.Payload) (Source, error) {
			return NewSliceSource(
				protocol.NewStringPayload("", "a"),
				protocol.NewStringPayload("", "b"),
				protocol.NewStringPayload("", "c"),
			), nil
		},
	}
	conn := NewConn(a, h)
	defer conn.Dispose()
	fr := newFrameReader(b)

	req, err := protocol.EncodeRequestStream(protocol.TypeRequestStream, 5, 2, nil, []byte("p"))
	writeFrame(t, b, req, err)

	for _, want := range []string{"a", "b"} {
		f, ok := fr.next(time.Second)
		assert.True(t, ok)
		lt, err := f.Type()
		assert.NoError(t, err)
		assert.Equal(t, protocol.TypeNext, lt)
		assert.Equal(t, uint32(5), f.StreamID())
		assert.Equal(t, []byte(want), f.Data())
		f.Release()
	}

	// 信用额度耗尽 第三个 NEXT 不允许发出
	_, ok := fr.next(200 * time.Millisecond)
	assert.False(t, ok)

	reqN, err := protocol.EncodeRequestN(5, 10)
	writeFrame(t, b, reqN, err)

	f, ok := fr.next(time.Second)
	assert.True(t, ok)
	lt, err := f.Type()
	assert.NoError(t, err)
	assert.Equal(t, protocol.TypeNext, lt)
	assert.Equal(t, []byte("c"), f.Data())
	f.Release()

	f, ok = fr.next(time.Second)
	assert.True(t, ok)
	lt, err = f.Type()
	assert.NoError(t, err)
	assert.Equal(t, protocol.TypeComplete, lt)
	f.Release()
}

func TestResponderChannelConsumerCancel(t *testing.T) {
	a, b := transport.Pipe()

	inboundCh := make(chan *Inbound, 1)
	h := &testHandler{
		channel: func(bootstrap *protocol.Payload, in *Inbound) (Source, error) {
			inboundCh <- in
			return &blockedSource{}, nil
		},
	}
	conn := NewConn(a, h)
	defer conn.Dispose()
	fr := newFrameReader(b)

	req, err := protocol.EncodeRequestStream(protocol.TypeRequestChannel, 7, protocol.MaxRequestN, nil, []byte("p0"))
	writeFrame(t, b, req, err)

	in := <-inboundCh
	p0, err := in.Next(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []byte("p0"), p0.Data())
	p0.Release()

	// 消费方取消 期待出站 CANCEL
	in.Cancel()

	f, ok := fr.next(time.Second)
	assert.True(t, ok)
	assert.Equal(t, protocol.TypeCancel, f.WireType())
	assert.Equal(t, uint32(7), f.StreamID())
	f.Release()

	// 后续对端 NEXT 帧被静默丢弃
	next, err := protocol.Encode(7, 0, protocol.TypeNext, nil, []byte("late"))
	writeFrame(t, b, next, err)

	assert.Eventually(t, func() bool {
		return conn.Stats().Receivers == 0
	}, time.Second, 10*time.Millisecond)
}

func TestResponderSetupPostSetup(t *testing.T) {
	a, b := transport.Pipe()
	conn := NewConn(a, &testHandler{})
	fr := newFrameReader(b)

	setup, err := protocol.EncodeSetup(protocol.SetupConfig{
		Version:      protocol.DefaultVersion,
		DataMimeType: "application/octet-stream",
	}, nil, nil)
	writeFrame(t, b, setup, err)

	f, ok := fr.next(time.Second)
	assert.True(t, ok)
	assert.Equal(t, protocol.TypeError, f.WireType())
	assert.Equal(t, uint32(0), f.StreamID())
	assert.Equal(t, protocol.ErrCodeConnectionError, f.ErrorCode())
	assert.Equal(t, "SETUP frame received post setup", f.ErrorMessage())
	f.Release()

	select {
	case <-conn.OnClose():
	case <-time.After(time.Second):
		t.Fatal("connection not disposed")
	}
}

func TestResponderRawPayloadViolation(t *testing.T) {
	a, b := transport.Pipe()
	conn := NewConn(a, &testHandler{})
	fr := newFrameReader(b)

	// 手工构造 C/N 均未置位的 PAYLOAD 帧
	raw := make([]byte, 9)
	assert.NoError(t, protocol.EncodeHeader(raw, len(raw), 0, protocol.TypePayload, 5))
	assert.NoError(t, b.WriteFrame(protocol.NewFrame(raw)))

	f, ok := fr.next(time.Second)
	assert.True(t, ok)
	assert.Equal(t, protocol.TypeError, f.WireType())
	assert.Equal(t, protocol.ErrCodeConnectionError, f.ErrorCode())
	f.Release()

	select {
	case <-conn.OnClose():
	case <-time.After(time.Second):
		t.Fatal("connection not disposed")
	}
}

func TestResponderLeaseViolation(t *testing.T) {
	a, b := transport.Pipe()
	conn := NewConn(a, &testHandler{})
	fr := newFrameReader(b)

	lease, err := protocol.EncodeLease(1000, 8, nil)
	writeFrame(t, b, lease, err)

	f, ok := fr.next(time.Second)
	assert.True(t, ok)
	assert.Equal(t, protocol.TypeError, f.WireType())
	f.Release()

	select {
	case <-conn.OnClose():
	case <-time.After(time.Second):
		t.Fatal("connection not disposed")
	}
}

func TestResponderFireAndForget(t *testing.T) {
	a, b := transport.Pipe()

	got := make(chan []byte, 1)
	errs := make(chan error, 1)
	h := &testHandler{
		fnf: func(p *protocol.Payload) error {
			got <- append([]byte{}, p.Data()...)
			return errors.New("handler failed")
		},
	}
	conn := NewConn(a, h, WithErrorConsumer(func(err error) {
		errs <- err
	}))
	defer conn.Dispose()
	fr := newFrameReader(b)

	req, err := protocol.Encode(9, 0, protocol.TypeRequestFNF, nil, []byte("fire"))
	writeFrame(t, b, req, err)

	assert.Equal(t, []byte("fire"), <-got)

	// 错误只进错误汇 不回线
	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("error consumer not invoked")
	}
	_, ok := fr.next(200 * time.Millisecond)
	assert.False(t, ok)
}

func TestResponderMetadataPush(t *testing.T) {
	a, b := transport.Pipe()

	got := make(chan []byte, 1)
	h := &testHandler{
		push: func(p *protocol.Payload) error {
			got <- append([]byte{}, p.Metadata()...)
			return nil
		},
	}
	conn := NewConn(a, h)
	defer conn.Dispose()

	req, err := protocol.Encode(0, 0, protocol.TypeMetadataPush, []byte("routing"), nil)
	writeFrame(t, b, req, err)

	assert.Equal(t, []byte("routing"), <-got)
}

func TestResponderUnknownStreamNoop(t *testing.T) {
	a, b := transport.Pipe()
	conn := NewConn(a, &testHandler{})
	defer conn.Dispose()

	// 未知 StreamID 的 NEXT / COMPLETE / ERROR / CANCEL / REQUEST_N 均为 no-op
	next, err := protocol.Encode(99, 0, protocol.TypeNext, nil, []byte("x"))
	writeFrame(t, b, next, err)
	complete, err := protocol.Encode(99, 0, protocol.TypeComplete, nil, nil)
	writeFrame(t, b, complete, err)
	errFrame, err := protocol.EncodeError(99, protocol.ErrCodeApplicationError, "x")
	writeFrame(t, b, errFrame, err)
	cancel, err := protocol.EncodeCancel(99)
	writeFrame(t, b, cancel, err)
	reqN, err := protocol.EncodeRequestN(99, 10)
	writeFrame(t, b, reqN, err)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, conn.IsClosed())
}

func TestTerminationSweep(t *testing.T) {
	a, b := transport.Pipe()

	channelIn := make(chan *Inbound, 1)
	h := &testHandler{
		stream: func(p *protocol.Payload) (Source, error) {
			return &blockedSource{}, nil
		},
		channel: func(bootstrap *protocol.Payload, in *Inbound) (Source, error) {
			channelIn <- in
			return &blockedSource{}, nil
		},
	}
	conn := NewConn(a, h)

	// 发送端条目 对端发起的 request/stream
	reqStream, err := protocol.EncodeRequestStream(protocol.TypeRequestStream, 11, 1, nil, []byte("s"))
	writeFrame(t, b, reqStream, err)

	// 接收端条目 本端发起的 request/stream
	localIn, err := conn.RequestStream(protocol.NewStringPayload("", "r"), 1)
	assert.NoError(t, err)

	// 两端条目 对端发起的 request/channel
	reqChannel, err := protocol.EncodeRequestStream(protocol.TypeRequestChannel, 15, protocol.MaxRequestN, nil, []byte("c0"))
	writeFrame(t, b, reqChannel, err)

	peerIn := <-channelIn
	assert.Eventually(t, func() bool {
		stats := conn.Stats()
		return stats.Senders == 2 && stats.Receivers == 2
	}, time.Second, 10*time.Millisecond)

	// 传输关闭 触发终止清扫
	b.Close()

	select {
	case <-conn.OnClose():
	case <-time.After(time.Second):
		t.Fatal("connection not closed")
	}

	// 所有接收端观察到终止错误
	_, err = localIn.Next(context.Background())
	assert.Equal(t, ErrClosedChannel, err)

	drainInbound(t, peerIn)

	stats := conn.Stats()
	assert.Zero(t, stats.Senders)
	assert.Zero(t, stats.Receivers)
	assert.True(t, h.disposed.Load())
}

// drainInbound 消费剩余负载直至观察到终止错误
func drainInbound(t *testing.T, in *Inbound) {
	t.Helper()
	for {
		p, err := in.Next(context.Background())
		if err != nil {
			assert.Equal(t, ErrClosedChannel, err)
			return
		}
		p.Release()
	}
}
