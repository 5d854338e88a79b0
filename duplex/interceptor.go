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
	"github.com/rsocketd/rsocketd/protocol"
	"github.com/rsocketd/rsocketd/transport"
)

// Acceptor 链接接入点 根据 SETUP 参数产出响应端处理器
type Acceptor func(setup protocol.Setup) (Handler, error)

// 拦截器均为 X -> X 的责任链节点
type (
	ConnInterceptor      func(transport.Conn) transport.Conn
	ResponderInterceptor func(Handler) Handler
	RequesterInterceptor func(Requester) Requester
	AcceptorInterceptor  func(Acceptor) Acceptor
)

// Interceptors 有序拦截器链
//
// 组合方向为从左到右 先注册的节点在最外层
type Interceptors struct {
	conns      []ConnInterceptor
	responders []ResponderInterceptor
	requesters []RequesterInterceptor
	acceptors  []AcceptorInterceptor
}

func NewInterceptors() *Interceptors {
	return &Interceptors{}
}

func (its *Interceptors) AddConn(f ConnInterceptor) *Interceptors {
	its.conns = append(its.conns, f)
	return its
}

func (its *Interceptors) AddResponder(f ResponderInterceptor) *Interceptors {
	its.responders = append(its.responders, f)
	return its
}

func (its *Interceptors) AddRequester(f RequesterInterceptor) *Interceptors {
	its.requesters = append(its.requesters, f)
	return its
}

func (its *Interceptors) AddAcceptor(f AcceptorInterceptor) *Interceptors {
	its.acceptors = append(its.acceptors, f)
	return its
}

// ApplyConn 应用链接拦截器链
func (its *Interceptors) ApplyConn(c transport.Conn) transport.Conn {
	for i := len(its.conns) - 1; i >= 0; i-- {
		c = its.conns[i](c)
	}
	return c
}

// ApplyResponder 应用响应端拦截器链
func (its *Interceptors) ApplyResponder(h Handler) Handler {
	for i := len(its.responders) - 1; i >= 0; i-- {
		h = its.responders[i](h)
	}
	return h
}

// ApplyRequester 应用请求端拦截器链
func (its *Interceptors) ApplyRequester(r Requester) Requester {
	for i := len(its.requesters) - 1; i >= 0; i-- {
		r = its.requesters[i](r)
	}
	return r
}

// ApplyAcceptor 应用接入点拦截器链
func (its *Interceptors) ApplyAcceptor(a Acceptor) Acceptor {
	for i := len(its.acceptors) - 1; i >= 0; i-- {
		a = its.acceptors[i](a)
	}
	return a
}
