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
	"io"

	"github.com/rsocketd/rsocketd/internal/rescue"
	"github.com/rsocketd/rsocketd/protocol"
)

// 响应端 C3 逐交互模型的状态机
//
// 入站 REQUEST_* 帧在 recvLoop 内同步完成注册 保证后续同流的
// REQUEST_N / CANCEL / NEXT 帧到达时端点已经就位 处理器的执行
// 全部转移到逐流 goroutine 分发循环自身只做入队

// handleRequest 处理四种 REQUEST_* 帧的入口
func (c *Conn) handleRequest(lt protocol.FrameType, f protocol.Frame) {
	switch lt {
	case protocol.TypeRequestFNF:
		c.handleFireAndForget(f)
	case protocol.TypeRequestResponse:
		c.handleRequestResponse(f)
	case protocol.TypeRequestStream:
		c.handleRequestStream(f)
	case protocol.TypeRequestChannel:
		c.handleRequestChannel(f)
	}
}

// handleFireAndForget 处理 REQUEST_FNF
//
// 完成订阅注册为发送端条目 处理器的错误只进错误汇 不回线
func (c *Conn) handleFireAndForget(f protocol.Frame) {
	id := f.StreamID()
	p := protocol.PayloadFromFrame(f)

	ctx, cancel := context.WithCancel(c.ctx)
	snd := newSender(id, cancel, nil)
	if !c.reg.putSender(id, snd) {
		cancel()
		p.Release()
		return
	}

	go func() {
		defer rescue.HandleCrash()
		defer cancel()
		defer p.Release()

		err := invokeFireAndForget(c.handler, p)
		canceled := ctx.Err() != nil
		if snd := c.reg.removeSender(id); snd != nil {
			snd.Cancel()
		}
		if err != nil && !canceled {
			c.errc(err)
		}
	}()
}

// handleMetadataPush 处理 METADATA_PUSH 与 FNF 同理 无注册表条目
func (c *Conn) handleMetadataPush(f protocol.Frame) {
	p := protocol.PayloadFromFrame(f)

	go func() {
		defer rescue.HandleCrash()
		defer p.Release()

		if err := invokeMetadataPush(c.handler, p); err != nil {
			c.errc(err)
		}
	}()
}

// handleRequestResponse 处理 REQUEST_RESPONSE
//
// 处理器返回非空负载编码 NEXT_COMPLETE 返回空负载编码 COMPLETE
// 即 isEmpty 语义由空指针承担 错误经映射后编码 ERROR
func (c *Conn) handleRequestResponse(f protocol.Frame) {
	id := f.StreamID()
	p := protocol.PayloadFromFrame(f)

	ctx, cancel := context.WithCancel(c.ctx)
	snd := newSender(id, cancel, nil)
	if !c.reg.putSender(id, snd) {
		cancel()
		p.Release()
		return
	}

	go func() {
		defer rescue.HandleCrash()
		defer cancel()
		defer p.Release()

		rsp, err := invokeRequestResponse(c.handler, p)
		c.reg.removeSender(id)

		if ctx.Err() != nil {
			// 对端已取消 丢弃结果
			rsp.Release()
			return
		}

		switch {
		case err != nil:
			c.sendError(id, err)
		case rsp == nil:
			if e := c.sendPayload(id, protocol.TypeComplete, nil); e != nil {
				c.errc(e)
			}
		default:
			if e := c.sendPayload(id, protocol.TypeNextComplete, rsp); e != nil {
				c.sendError(id, e)
			}
		}
	}()
}

// handleRequestStream 处理 REQUEST_STREAM
//
// 初始信用额度来自帧内 initialRequestN 后续由 REQUEST_N 帧追加
func (c *Conn) handleRequestStream(f protocol.Frame) {
	id := f.StreamID()
	initialN := f.RequestN()
	p := protocol.PayloadFromFrame(f)

	ctx, cancel := context.WithCancel(c.ctx)
	snd := newSender(id, cancel, newCredit(initialN))
	if !c.reg.putSender(id, snd) {
		cancel()
		p.Release()
		return
	}

	go func() {
		defer rescue.HandleCrash()
		defer cancel()
		defer p.Release()

		src, err := invokeRequestStream(c.handler, p)
		if err != nil {
			c.reg.removeSender(id)
			if ctx.Err() == nil {
				c.sendError(id, err)
			}
			return
		}
		if !snd.bindSource(src) {
			return
		}
		c.drainSender(ctx, id, snd, src)
	}()
}

// handleRequestChannel 处理 REQUEST_CHANNEL
//
// 首个负载先进入站汇再交给处理器 两处各持有一次引用
// 入站汇注册为接收端条目 其 Request / Cancel 经闭包回链出站队列
func (c *Conn) handleRequestChannel(f protocol.Frame) {
	id := f.StreamID()
	initialN := f.RequestN()
	bootstrap := protocol.PayloadFromFrame(f)

	in := c.newStreamInbound(id)
	if !c.reg.putReceiver(id, in) {
		bootstrap.Release()
		return
	}
	// 先投递首个负载 保证处理器观察到入站汇时其中已有数据
	in.push(bootstrap.Retain())

	ctx, cancel := context.WithCancel(c.ctx)
	snd := newSender(id, cancel, newCredit(initialN))
	if !c.reg.putSender(id, snd) {
		cancel()
		if c.reg.removeReceiver(id) != nil {
			in.fail(ErrClosedChannel)
		}
		bootstrap.Release()
		return
	}

	go func() {
		defer rescue.HandleCrash()
		defer cancel()
		defer bootstrap.Release()

		src, err := invokeRequestChannel(c.handler, bootstrap, in)
		if err != nil {
			c.reg.removeSender(id)
			if c.reg.removeReceiver(id) != nil {
				in.fail(err)
			}
			if ctx.Err() == nil {
				c.sendError(id, err)
			}
			return
		}
		if !snd.bindSource(src) {
			return
		}
		c.drainSender(ctx, id, snd, src)
	}()
}

// newStreamInbound 构建带出站回链的入站汇
func (c *Conn) newStreamInbound(id uint32) *Inbound {
	return newInbound(id,
		func(n uint32) {
			f, err := protocol.EncodeRequestN(id, n)
			if err != nil {
				c.errc(err)
				return
			}
			c.send(f)
		},
		func() {
			c.reg.removeReceiver(id)
			f, err := protocol.EncodeCancel(id)
			if err != nil {
				c.errc(err)
				return
			}
			c.send(f)
		},
	)
}

// drainSender 逐流出站泵 受信用额度约束逐个拉取并编码 NEXT
//
// 序列正常结束编码 COMPLETE 错误经映射编码 ERROR 取消则静默退出
func (c *Conn) drainSender(ctx context.Context, id uint32, snd *sender, src Source) {
	for {
		if !snd.credit.Acquire() {
			// 额度计数器关闭 即流被取消或链接清扫
			return
		}

		p, err := src.Next(ctx)
		switch {
		case err == nil:
			if e := c.sendPayload(id, protocol.TypeNext, p); e != nil {
				src.Cancel()
				c.reg.removeSender(id)
				c.sendError(id, e)
				return
			}

		case err == io.EOF:
			c.reg.removeSender(id)
			if e := c.sendPayload(id, protocol.TypeComplete, nil); e != nil {
				c.errc(e)
			}
			return

		case ctx.Err() != nil:
			return

		default:
			c.reg.removeSender(id)
			c.sendError(id, err)
			return
		}
	}
}

// 处理器调用封装 同步 panic 一律转化为对应交互的错误

func recoverInvoke(err *error) {
	if r := recover(); r != nil {
		handlerPanics.Inc()
		*err = newError("handler panic: %v", r)
	}
}

func invokeFireAndForget(h Handler, p *protocol.Payload) (err error) {
	defer recoverInvoke(&err)
	return h.FireAndForget(p)
}

func invokeMetadataPush(h Handler, p *protocol.Payload) (err error) {
	defer recoverInvoke(&err)
	return h.MetadataPush(p)
}

func invokeRequestResponse(h Handler, p *protocol.Payload) (rsp *protocol.Payload, err error) {
	defer recoverInvoke(&err)
	return h.RequestResponse(p)
}

func invokeRequestStream(h Handler, p *protocol.Payload) (src Source, err error) {
	defer recoverInvoke(&err)
	return h.RequestStream(p)
}

func invokeRequestChannel(h Handler, bootstrap *protocol.Payload, in *Inbound) (src Source, err error) {
	defer recoverInvoke(&err)
	return h.RequestChannel(bootstrap, in)
}
