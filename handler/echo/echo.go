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
	"bytes"
	"context"
	"io"

	"github.com/rsocketd/rsocketd/common"
	"github.com/rsocketd/rsocketd/duplex"
	"github.com/rsocketd/rsocketd/handler"
	"github.com/rsocketd/rsocketd/logger"
	"github.com/rsocketd/rsocketd/protocol"
)

var log = logger.Named("echo")

func init() {
	handler.Register("echo", New)
}

const (
	// defaultRepeat request/stream 默认回显次数
	defaultRepeat = 3
)

// Echo 内置回显处理器
//
// request/response 原样回显负载 request/stream 将 Data 以分隔符切分
// 逐段回显 request/channel 将入站序列原样回显
type Echo struct {
	repeat    int
	separator []byte
}

// New 创建并返回 Echo 处理器
//
// Options
// - repeat: request/stream 在无分隔符时的回显次数
// - separator: request/stream 的 Data 切分符
func New(opts common.Options) (duplex.Handler, error) {
	e := &Echo{repeat: defaultRepeat}
	if n, err := opts.GetInt("repeat"); err == nil && n > 0 {
		e.repeat = n
	}
	if s, err := opts.GetString("separator"); err == nil && s != "" {
		e.separator = []byte(s)
	}
	return e, nil
}

func (e *Echo) FireAndForget(p *protocol.Payload) error {
	log.Debugf("echo fire-and-forget: %d bytes", len(p.Data()))
	return nil
}

func (e *Echo) MetadataPush(p *protocol.Payload) error {
	log.Debugf("echo metadata-push: %d bytes", len(p.Metadata()))
	return nil
}

func (e *Echo) RequestResponse(p *protocol.Payload) (*protocol.Payload, error) {
	return protocol.NewPayload(bytes.Clone(p.Metadata()), bytes.Clone(p.Data())), nil
}

func (e *Echo) RequestStream(p *protocol.Payload) (duplex.Source, error) {
	var payloads []*protocol.Payload
	if len(e.separator) > 0 {
		for _, part := range bytes.Split(p.Data(), e.separator) {
			payloads = append(payloads, protocol.NewPayload(bytes.Clone(p.Metadata()), bytes.Clone(part)))
		}
	} else {
		for i := 0; i < e.repeat; i++ {
			payloads = append(payloads, protocol.NewPayload(bytes.Clone(p.Metadata()), bytes.Clone(p.Data())))
		}
	}
	return duplex.NewSliceSource(payloads...), nil
}

func (e *Echo) RequestChannel(bootstrap *protocol.Payload, in *duplex.Inbound) (duplex.Source, error) {
	// 入站序列即出站序列 向对端授予无限额度
	in.Request(protocol.MaxRequestN)
	return &inboundSource{in: in}, nil
}

func (e *Echo) Dispose() {}

// inboundSource 以入站汇承载出站序列 即 channel 的回显路径
type inboundSource struct {
	in *duplex.Inbound
}

func (s *inboundSource) Next(ctx context.Context) (*protocol.Payload, error) {
	p, err := s.in.Next(ctx)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return p, nil
}

func (s *inboundSource) Cancel() {
	s.in.Cancel()
}
