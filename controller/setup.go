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

package controller

import (
	"time"

	"github.com/pkg/errors"

	"github.com/rsocketd/rsocketd/duplex"
	"github.com/rsocketd/rsocketd/internal/pubsub"
	"github.com/rsocketd/rsocketd/protocol"
	"github.com/rsocketd/rsocketd/transport"
)

// handshake SETUP 协商
//
// 链接上的第一个帧必须为 SETUP 版本不支持或者声明 LEASE 语义时
// 在 StreamID 0 回以对应错误码的 ERROR 帧并拒绝接入
// 协商成功后以 SETUP 声明的存活参数装配双工链接
func (c *Controller) handshake(tr transport.Conn) (*duplex.Conn, error) {
	f, err := tr.ReadFrame()
	if err != nil {
		return nil, errors.WithMessage(err, "read setup frame")
	}
	defer f.Release()

	if err := f.Validate(); err != nil {
		c.rejectSetup(tr, protocol.ErrCodeInvalidSetup, "malformed first frame")
		return nil, err
	}
	if f.WireType() != protocol.TypeSetup || f.StreamID() != 0 {
		c.rejectSetup(tr, protocol.ErrCodeInvalidSetup, "first frame must be SETUP")
		return nil, errors.Errorf("unexpected first frame (%s)", f.WireType())
	}

	setup, err := protocol.DecodeSetup(f)
	if err != nil {
		c.rejectSetup(tr, protocol.ErrCodeInvalidSetup, "malformed SETUP frame")
		return nil, err
	}

	if setup.Version.Major != protocol.DefaultVersion.Major {
		c.rejectSetup(tr, protocol.ErrCodeUnsupportedSetup, "unsupported protocol version")
		return nil, errors.Errorf("unsupported version %d.%d", setup.Version.Major, setup.Version.Minor)
	}
	if setup.Lease {
		// 不提供租约语义 仅识别帧
		c.rejectSetup(tr, protocol.ErrCodeRejectedSetup, "lease not supported")
		return nil, errors.New("lease not supported")
	}

	h, err := c.acceptor(setup)
	if err != nil {
		c.rejectSetup(tr, protocol.ErrCodeRejectedSetup, err.Error())
		return nil, err
	}

	interval := time.Duration(setup.KeepAliveInterval) * time.Millisecond
	timeout := time.Duration(setup.MaxLifetime) * time.Millisecond
	if maxTimeout := c.cfg.GetMaxKeepAliveTimeout(); timeout > maxTimeout {
		timeout = maxTimeout
	}

	conn := duplex.NewConn(tr, h,
		duplex.WithRole(duplex.RoleServer),
		duplex.WithKeepAlive(interval, timeout),
		duplex.WithErrorConsumer(func(err error) {
			log.Errorf("connection error: addr=%s err=%v", tr.RemoteAddr(), err)
			c.errBus.Publish(pubsub.Event{
				Addr:  tr.RemoteAddr(),
				Error: err.Error(),
				Time:  time.Now().Unix(),
			})
		}),
	)
	return conn, nil
}

// rejectSetup 发出拒绝接入的 ERROR 帧 错误直接写传输 无出站队列可用
func (c *Controller) rejectSetup(tr transport.Conn, code protocol.ErrCode, msg string) {
	f, err := protocol.EncodeError(0, code, msg)
	if err != nil {
		return
	}
	_ = tr.WriteFrame(f)
	f.Release()
}
