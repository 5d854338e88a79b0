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

// 请求端 与响应端共用注册表 出站队列与终止清扫
//
// StreamID 由本端按角色奇偶性分配 单调递增且在链接生命周期内不复用

// allocStreamID 分配下一个 StreamID 耗尽时关闭链接并返回错误
//
// StreamID 有效范围为 31 位 超出即视为耗尽 不做回绕复用
func (c *Conn) allocStreamID() (uint32, error) {
	id := c.nextID.Add(2) - 2
	if id > 0x7FFFFFFF {
		c.terminate(ErrStreamIDExhausted)
		return 0, ErrStreamIDExhausted
	}
	return id, nil
}


// registryClosed 注册失败时的错误兜底 注册表仅在终止清扫后拒绝
func (c *Conn) registryClosed() error {
	if err := c.reg.terminationError(); err != nil {
		return err
	}
	return ErrClosedChannel
}

// FireAndForget 发起 fire-and-forget 请求 不注册任何端点 没有回应
func (c *Conn) FireAndForget(p *protocol.Payload) error {
	id, err := c.allocStreamID()
	if err != nil {
		p.Release()
		return err
	}

	f, err := protocol.Encode(id, 0, protocol.TypeRequestFNF, p.Metadata(), p.Data())
	p.Release()
	if err != nil {
		return err
	}
	c.send(f)
	return nil
}

// MetadataPush 发起 metadata-push 仅携带 Metadata 在 StreamID 0 发出
func (c *Conn) MetadataPush(p *protocol.Payload) error {
	f, err := protocol.Encode(0, 0, protocol.TypeMetadataPush, p.Metadata(), nil)
	p.Release()
	if err != nil {
		return err
	}
	c.send(f)
	return nil
}

// RequestResponse 发起 request/response 请求并等待至多一个负载
//
// 空完成返回 (nil, nil) ctx 取消时向对端发出 CANCEL
func (c *Conn) RequestResponse(ctx context.Context, p *protocol.Payload) (*protocol.Payload, error) {
	id, err := c.allocStreamID()
	if err != nil {
		p.Release()
		return nil, err
	}

	in := c.newStreamInbound(id)
	if !c.reg.putReceiver(id, in) {
		p.Release()
		return nil, c.registryClosed()
	}

	f, err := protocol.Encode(id, 0, protocol.TypeRequestResponse, p.Metadata(), p.Data())
	p.Release()
	if err != nil {
		c.reg.removeReceiver(id)
		return nil, err
	}
	c.send(f)

	rsp, err := in.Next(ctx)
	switch {
	case err == nil:
		return rsp, nil
	case err == io.EOF:
		// 空完成
		return nil, nil
	case ctx.Err() != nil:
		in.Cancel()
		return nil, err
	default:
		return nil, err
	}
}

// RequestStream 发起 request/stream 请求
//
// initialN 为随请求帧授予的初始信用额度 返回的入站汇由调用方消费
// 追加额度通过 Inbound.Request 发出 消费方取消通过 Inbound.Cancel
func (c *Conn) RequestStream(p *protocol.Payload, initialN uint32) (*Inbound, error) {
	id, err := c.allocStreamID()
	if err != nil {
		p.Release()
		return nil, err
	}

	in := c.newStreamInbound(id)
	if !c.reg.putReceiver(id, in) {
		p.Release()
		return nil, c.registryClosed()
	}

	f, err := protocol.EncodeRequestStream(protocol.TypeRequestStream, id, initialN, p.Metadata(), p.Data())
	p.Release()
	if err != nil {
		c.reg.removeReceiver(id)
		return nil, err
	}
	c.send(f)
	return in, nil
}

// RequestChannel 发起 request/channel 请求
//
// bootstrap 作为首个负载随请求帧发出 src 的后续负载受对端授予的
// 额度约束 入站方向与 request/stream 一致
func (c *Conn) RequestChannel(bootstrap *protocol.Payload, src Source, initialN uint32) (*Inbound, error) {
	id, err := c.allocStreamID()
	if err != nil {
		bootstrap.Release()
		src.Cancel()
		return nil, err
	}

	in := c.newStreamInbound(id)
	if !c.reg.putReceiver(id, in) {
		bootstrap.Release()
		src.Cancel()
		return nil, c.registryClosed()
	}

	ctx, cancel := context.WithCancel(c.ctx)
	snd := newSender(id, cancel, newCredit(0))
	if !c.reg.putSender(id, snd) {
		cancel()
		c.reg.removeReceiver(id)
		bootstrap.Release()
		src.Cancel()
		return nil, c.registryClosed()
	}
	snd.bindSource(src)

	f, err := protocol.EncodeRequestStream(protocol.TypeRequestChannel, id, initialN, bootstrap.Metadata(), bootstrap.Data())
	bootstrap.Release()
	if err != nil {
		c.reg.removeReceiver(id)
		if snd := c.reg.removeSender(id); snd != nil {
			snd.Cancel()
		}
		return nil, err
	}
	c.send(f)

	go func() {
		defer rescue.HandleCrash()
		defer cancel()
		c.drainSender(ctx, id, snd, src)
	}()
	return in, nil
}
