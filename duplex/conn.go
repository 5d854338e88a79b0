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
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/rsocketd/rsocketd/internal/rescue"
	"github.com/rsocketd/rsocketd/protocol"
	"github.com/rsocketd/rsocketd/transport"
)

// Role 链接角色 决定请求端分配的 StreamID 奇偶性
type Role int

const (
	// RoleServer 服务端 分配偶数 StreamID
	RoleServer Role = iota

	// RoleClient 客户端 分配奇数 StreamID
	RoleClient
)

// 链接状态机 OPEN -> TERMINATING -> CLOSED
const (
	stateOpen int32 = iota
	stateTerminating
	stateClosed
)

type options struct {
	role              Role
	keepAliveInterval time.Duration
	keepAliveTimeout  time.Duration
	keepAliveEnabled  bool
	resumable         bool
	resumeState       ResumeState
	requestDisconnect func()
	errConsumer       func(error)
}

type Option func(o *options)

// WithRole 指定链接角色
func WithRole(role Role) Option {
	return func(o *options) {
		o.role = role
	}
}

// WithKeepAlive 启用默认存活协调 超时动作为关闭链接
func WithKeepAlive(interval, timeout time.Duration) Option {
	return func(o *options) {
		o.keepAliveEnabled = true
		o.keepAliveInterval = interval
		o.keepAliveTimeout = timeout
	}
}

// WithResumableKeepAlive 启用可恢复存活协调 超时动作为请求断开传输
func WithResumableKeepAlive(interval, timeout time.Duration, resume ResumeState, requestDisconnect func()) Option {
	return func(o *options) {
		o.keepAliveEnabled = true
		o.keepAliveInterval = interval
		o.keepAliveTimeout = timeout
		o.resumable = true
		o.resumeState = resume
		o.requestDisconnect = requestDisconnect
	}
}

// WithErrorConsumer 注册错误汇 承接没有天然订阅者的错误
//
// 即 fire-and-forget / metadata-push 的处理错误以及清理阶段的失败
func WithErrorConsumer(f func(error)) Option {
	return func(o *options) {
		o.errConsumer = f
	}
}

// Conn RSocket 双工链接
//
// 同一链接之上同时承载响应端 C3 与请求端 所有出站帧共用一条
// MPSC 队列 由传输写循环作为唯一消费者
type Conn struct {
	tr      transport.Conn
	handler Handler
	out     *outQueue
	reg     *registry
	ka      *keepAlive
	errc    func(error)

	role   Role
	nextID atomic.Uint32

	state  atomic.Int32
	ctx    context.Context
	cancel context.CancelFunc
	closed chan struct{}

	activeAt atomic.Int64
}

// NewConn 构建链接并启动收发循环
//
// 链接构建即视为 SETUP 阶段已经完成 此后入站 SETUP 为协议违例
func NewConn(tr transport.Conn, handler Handler, opts ...Option) *Conn {
	opt := &options{
		role: RoleServer,
		errConsumer: func(err error) {
			log.Errorf("connection error: %v", err)
		},
	}
	for _, f := range opts {
		f(opt)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		tr:      tr,
		handler: handler,
		out:     newOutQueue(),
		reg:     newRegistry(),
		errc:    opt.errConsumer,
		role:    opt.role,
		ctx:     ctx,
		cancel:  cancel,
		closed:  make(chan struct{}),
	}
	c.activeAt.Store(time.Now().Unix())

	// 请求端 StreamID 客户端从 1 开始 服务端从 2 开始 步长均为 2
	if opt.role == RoleClient {
		c.nextID.Store(1)
	} else {
		c.nextID.Store(2)
	}

	if opt.resumable {
		rka := newResumableKeepAlive(opt.keepAliveInterval, opt.keepAliveTimeout, c.send, opt.requestDisconnect, opt.resumeState)
		c.ka = rka.keepAlive
	} else {
		interval, timeout := opt.keepAliveInterval, opt.keepAliveTimeout
		if interval <= 0 {
			interval = 20 * time.Second
		}
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		c.ka = newKeepAlive(interval, timeout, c.send, c.Dispose, nil)
	}

	activeConns.Inc()
	if opt.keepAliveEnabled {
		c.ka.Start()
	}

	go func() {
		defer rescue.HandleCrash()
		c.sendLoop()
	}()
	go func() {
		defer rescue.HandleCrash()
		c.recvLoop()
	}()
	return c
}

// OnClose 返回链接关闭信号
func (c *Conn) OnClose() <-chan struct{} {
	return c.closed
}

// IsClosed 返回链接是否已经关闭
func (c *Conn) IsClosed() bool {
	return c.state.Load() == stateClosed
}

// ActiveAt 返回最近一次收到帧的时间
func (c *Conn) ActiveAt() time.Time {
	return time.Unix(c.activeAt.Load(), 0)
}

// Dispose 关闭链接 幂等
func (c *Conn) Dispose() {
	c.terminate(ErrClosedChannel)
}

// PauseKeepAlive 可恢复传输断开时暂停存活计时
func (c *Conn) PauseKeepAlive() {
	c.ka.Stop()
}

// ResumeKeepAlive 可恢复传输重连时恢复存活计时
func (c *Conn) ResumeKeepAlive() {
	c.ka.Start()
}

// Stats 链接统计信息
type Stats struct {
	RemoteAddr string `json:"remoteAddr"`
	Senders    int    `json:"senders"`
	Receivers  int    `json:"receivers"`
	Outbound   int    `json:"outbound"`
	Closed     bool   `json:"closed"`
}

func (c *Conn) Stats() Stats {
	senders, receivers := c.reg.counts()
	return Stats{
		RemoteAddr: c.tr.RemoteAddr(),
		Senders:    senders,
		Receivers:  receivers,
		Outbound:   c.out.Len(),
		Closed:     c.IsClosed(),
	}
}

// send 入队一个出站帧 队列接管帧所有权
func (c *Conn) send(f protocol.Frame) {
	if c.out.Push(f) {
		framesSent.WithLabelValues(f.WireType().String()).Inc()
	}
}

// sendError 将错误编码为 ERROR 帧入队
func (c *Conn) sendError(streamID uint32, err error) {
	e := protocol.MapError(err)
	f, encErr := protocol.EncodeError(streamID, e.Code, e.Message)
	if encErr != nil {
		c.errc(encErr)
		return
	}
	c.send(f)
}

// sendPayload 将负载编码为指定逻辑类型的帧入队
//
// 无论编码成败 负载都会在字节拷贝完成后立即释放一次
func (c *Conn) sendPayload(streamID uint32, ft protocol.FrameType, p *protocol.Payload) error {
	var metadata, data []byte
	if p != nil {
		metadata = p.Metadata()
		data = p.Data()
	}
	f, err := protocol.Encode(streamID, 0, ft, metadata, data)
	p.Release()
	if err != nil {
		return err
	}
	c.send(f)
	return nil
}

// sendLoop 出站队列的唯一消费者 逐帧写入传输
func (c *Conn) sendLoop() {
	for {
		f, ok := c.out.Pop()
		if !ok {
			return
		}

		err := c.tr.WriteFrame(f)
		f.Release()
		if err != nil {
			c.terminate(ErrClosedChannel)
			return
		}
	}
}

// recvLoop 入站读取循环 读取失败即触发终止清扫
func (c *Conn) recvLoop() {
	for {
		f, err := c.tr.ReadFrame()
		if err != nil {
			c.terminate(ErrClosedChannel)
			return
		}
		c.dispatch(f)
	}
}

// dispatch 入站帧分发 帧在分发结束后恰好释放一次
func (c *Conn) dispatch(f protocol.Frame) {
	defer f.Release()
	defer rescue.HandleCrash()

	if err := f.Validate(); err != nil {
		c.protocolViolation("invalid frame: " + err.Error())
		return
	}

	framesReceived.WithLabelValues(f.WireType().String()).Inc()
	c.activeAt.Store(time.Now().Unix())

	if f.StreamID() == 0 {
		c.dispatchConnFrame(f)
		return
	}
	c.dispatchStreamFrame(f)
}

// dispatchConnFrame 处理链接级别帧 即 StreamID 0
func (c *Conn) dispatchConnFrame(f protocol.Frame) {
	switch f.WireType() {
	case protocol.TypeKeepAlive:
		c.ka.OnFrame(f)

	case protocol.TypeMetadataPush:
		c.handleMetadataPush(f)

	case protocol.TypeError:
		// 链接级别错误 对端即将关闭
		c.terminate(protocol.DecodeError(f))

	case protocol.TypeSetup:
		c.protocolViolation("SETUP frame received post setup")

	case protocol.TypeLease:
		// 响应端不接受 LEASE LEASE 由授租方发往请求端
		c.protocolViolation("unexpected LEASE frame")

	case protocol.TypeResume, protocol.TypeResumeOK:
		log.Debugf("drop %s frame: resume not negotiated", f.WireType())

	default:
		log.Debugf("drop unknown connection frame: type=%s", f.WireType())
	}
}

// dispatchStreamFrame 处理流级别帧 按逻辑类型分发
func (c *Conn) dispatchStreamFrame(f protocol.Frame) {
	lt, err := f.Type()
	if err != nil {
		// PAYLOAD 帧 C/N 均未置位 属协议违例
		c.protocolViolation("PAYLOAD frame without NEXT or COMPLETE")
		return
	}

	id := f.StreamID()
	switch lt {
	case protocol.TypeRequestResponse, protocol.TypeRequestFNF,
		protocol.TypeRequestStream, protocol.TypeRequestChannel:
		if f.HasFlag(protocol.FlagFollows) {
			// 不支持分片重组 以流级别错误拒绝
			c.sendError(id, protocol.NewError(protocol.ErrCodeInvalid, "fragmentation not supported"))
			return
		}
		c.handleRequest(lt, f)

	case protocol.TypeRequestN:
		if snd := c.reg.sender(id); snd != nil {
			snd.RequestN(f.RequestN())
		}

	case protocol.TypeCancel:
		if snd := c.reg.removeSender(id); snd != nil {
			snd.Cancel()
		}

	case protocol.TypeNext:
		if in := c.reg.receiver(id); in != nil {
			in.push(protocol.PayloadFromFrame(f))
		}

	case protocol.TypeNextComplete:
		if in := c.reg.receiver(id); in != nil {
			in.push(protocol.PayloadFromFrame(f))
			in.complete()
			c.reg.removeReceiver(id)
		}

	case protocol.TypeComplete:
		if in := c.reg.receiver(id); in != nil {
			in.complete()
			c.reg.removeReceiver(id)
		}

	case protocol.TypeError:
		if in := c.reg.removeReceiver(id); in != nil {
			in.fail(protocol.DecodeError(f))
		}

	default:
		log.Debugf("drop unknown stream frame: stream=%d type=%s", id, f.WireType())
	}
}

// protocolViolation 致命协议违例 在 StreamID 0 发出链接错误并关闭链接
//
// 错误帧绕过出站队列直接写入传输 保证在清扫销毁队列之前送达
func (c *Conn) protocolViolation(msg string) {
	protocolViolations.Inc()

	f, err := protocol.EncodeError(0, protocol.ErrCodeConnectionError, msg)
	if err == nil {
		_ = c.tr.WriteFrame(f)
		f.Release()
	}
	c.terminate(newError("protocol violation: %s", msg))
}

// terminate 终止清扫
//
// 原子安装终止错误 遍历接收端快照投递 onError 遍历发送端快照执行
// cancel 清空两张注册表 销毁处理器与出站队列 清扫期间单条删除被抑制
func (c *Conn) terminate(err error) {
	if !c.state.CompareAndSwap(stateOpen, stateTerminating) {
		return
	}

	c.cancel()
	c.ka.Stop()

	senders, receivers := c.reg.sweep(err)
	for _, in := range receivers {
		in.fail(err)
	}
	for _, snd := range senders {
		snd.Cancel()
	}

	var errs *multierror.Error
	if e := c.disposeHandler(); e != nil {
		errs = multierror.Append(errs, e)
	}
	c.out.Dispose()
	if e := c.tr.Close(); e != nil {
		errs = multierror.Append(errs, e)
	}
	if e := errs.ErrorOrNil(); e != nil {
		c.errc(e)
	}

	c.state.Store(stateClosed)
	close(c.closed)
	activeConns.Dec()
}

func (c *Conn) disposeHandler() (err error) {
	defer func() {
		if r := recover(); r != nil {
			handlerPanics.Inc()
			err = newError("handler dispose panic: %v", r)
		}
	}()
	c.handler.Dispose()
	return nil
}
