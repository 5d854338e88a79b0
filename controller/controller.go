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
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/net/websocket"

	"github.com/rsocketd/rsocketd/common"
	"github.com/rsocketd/rsocketd/confengine"
	"github.com/rsocketd/rsocketd/duplex"
	"github.com/rsocketd/rsocketd/handler"
	"github.com/rsocketd/rsocketd/internal/pubsub"
	"github.com/rsocketd/rsocketd/internal/rescue"
	"github.com/rsocketd/rsocketd/logger"
	"github.com/rsocketd/rsocketd/protocol"
	"github.com/rsocketd/rsocketd/server"
	"github.com/rsocketd/rsocketd/transport"
)

var log = logger.Named("controller")

// Controller 服务端装配器
//
// 负责监听器的生命周期 SETUP 协商 逐链接响应端的构建与回收
type Controller struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       Config
	buildInfo common.BuildInfo

	svr      *server.Server
	acceptor duplex.Acceptor
	its      *duplex.Interceptors

	mut       sync.Mutex
	listeners []net.Listener
	wsServers []*http.Server
	conns     map[uint64]*duplex.Conn
	nextConn  uint64

	errBus *pubsub.Bus
}

func setupLogger(conf *confengine.Config) error {
	if !conf.Has("logger") {
		return nil
	}

	var opts logger.Options
	if err := conf.UnpackChild("logger", &opts); err != nil {
		return err
	}

	if opts.Filename == "" {
		opts.Filename = "rsocketd.log"
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 7
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100
	}

	logger.SetOptions(opts)
	return nil
}

func New(conf *confengine.Config, buildInfo common.BuildInfo) (*Controller, error) {
	if err := setupLogger(conf); err != nil {
		return nil, err
	}

	var cfg Config
	if err := conf.UnpackChild("controller", &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Listeners) == 0 {
		return nil, errors.New("controller: no listeners configured")
	}

	svr, err := server.New(conf)
	if err != nil {
		return nil, err
	}

	createHandler, err := handler.Get(cfg.GetResponderName())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctr := &Controller{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		buildInfo: buildInfo,
		svr:       svr,
		its:       duplex.NewInterceptors(),
		conns:     make(map[uint64]*duplex.Conn),
		errBus:    pubsub.NewBus(),
	}
	ctr.acceptor = ctr.its.ApplyAcceptor(ctr.newAcceptor(createHandler))
	ctr.setupServer()
	return ctr, nil
}

// newAcceptor 构建接入点 每条链接一个独立的处理器实例
func (c *Controller) newAcceptor(create handler.CreateFunc) duplex.Acceptor {
	return func(setup protocol.Setup) (duplex.Handler, error) {
		opts := c.cfg.Responder.Options
		if opts == nil {
			opts = common.NewOptions()
		}
		h, err := create(opts)
		if err != nil {
			return nil, err
		}
		return c.its.ApplyResponder(h), nil
	}
}

// Start 启动所有监听器与管理端服务
func (c *Controller) Start() error {
	for _, lc := range c.cfg.Listeners {
		if err := c.startListener(lc); err != nil {
			return err
		}
	}

	if c.svr != nil {
		go func() {
			defer rescue.HandleCrash()
			if err := c.svr.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("admin server exited: %v", err)
			}
		}()
	}

	go func() {
		defer rescue.HandleCrash()
		c.cleanLoop()
	}()

	log.Infof("controller started: listeners=%d responder=%s", len(c.cfg.Listeners), c.cfg.GetResponderName())
	return nil
}

func (c *Controller) startListener(lc ListenerConfig) error {
	switch lc.Protocol {
	case "", "tcp":
		return c.startTCPListener(lc)
	case "websocket", "ws":
		return c.startWSListener(lc)
	}
	return errors.Errorf("controller: unknown listener protocol (%s)", lc.Protocol)
}

func (c *Controller) startTCPListener(lc ListenerConfig) error {
	ln, err := net.Listen("tcp", lc.Address)
	if err != nil {
		return err
	}

	c.mut.Lock()
	c.listeners = append(c.listeners, ln)
	c.mut.Unlock()

	go func() {
		defer rescue.HandleCrash()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer rescue.HandleCrash()
				c.serveConn(transport.NewTCPConn(conn))
			}()
		}
	}()

	log.Infof("tcp listener on %s", lc.Address)
	return nil
}

func (c *Controller) startWSListener(lc ListenerConfig) error {
	path := lc.Path
	if path == "" {
		path = "/"
	}

	router := http.NewServeMux()
	router.Handle(path, websocket.Handler(func(ws *websocket.Conn) {
		// Handler 返回即关闭底层链接 需要阻塞至引擎侧结束
		tr := transport.NewWSConn(ws)
		c.serveConn(tr)
		<-tr.Done()
	}))

	hs := &http.Server{Addr: lc.Address, Handler: router}
	c.mut.Lock()
	c.wsServers = append(c.wsServers, hs)
	c.mut.Unlock()

	go func() {
		defer rescue.HandleCrash()
		if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("websocket listener exited: %v", err)
		}
	}()

	log.Infof("websocket listener on %s%s", lc.Address, path)
	return nil
}

// serveConn 完成 SETUP 协商并装配双工链接
func (c *Controller) serveConn(tr transport.Conn) {
	tr = c.its.ApplyConn(tr)

	conn, err := c.handshake(tr)
	if err != nil {
		setupRejected.Inc()
		log.Warnf("setup handshake failed: addr=%s err=%v", tr.RemoteAddr(), err)
		tr.Close()
		return
	}

	connsAccepted.Inc()
	c.mut.Lock()
	c.nextConn++
	id := c.nextConn
	c.conns[id] = conn
	c.mut.Unlock()

	log.Infof("connection accepted: addr=%s", tr.RemoteAddr())
}

// cleanLoop 周期清理已关闭的链接条目
func (c *Controller) cleanLoop() {
	ticker := time.NewTicker(c.cfg.GetConnCleanInterval())
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return

		case <-ticker.C:
			c.mut.Lock()
			for id, conn := range c.conns {
				if conn.IsClosed() {
					delete(c.conns, id)
				}
			}
			c.mut.Unlock()
		}
	}
}

// Addrs 返回所有 TCP 监听器的实际地址 监听 :0 时可借此获取端口
func (c *Controller) Addrs() []string {
	c.mut.Lock()
	defer c.mut.Unlock()

	addrs := make([]string, 0, len(c.listeners))
	for _, ln := range c.listeners {
		addrs = append(addrs, ln.Addr().String())
	}
	return addrs
}

// Stats 汇总所有活跃链接的统计信息
func (c *Controller) Stats() []duplex.Stats {
	c.mut.Lock()
	defer c.mut.Unlock()

	stats := make([]duplex.Stats, 0, len(c.conns))
	for _, conn := range c.conns {
		stats = append(stats, conn.Stats())
	}
	return stats
}

// Reload 重新加载配置 监听器保持不动 仅刷新日志 处理器配置与存活超时上限
func (c *Controller) Reload(conf *confengine.Config) error {
	if err := setupLogger(conf); err != nil {
		return err
	}

	var cfg Config
	if err := conf.UnpackChild("controller", &cfg); err != nil {
		return err
	}

	createHandler, err := handler.Get(cfg.GetResponderName())
	if err != nil {
		return err
	}

	c.mut.Lock()
	c.cfg.Responder = cfg.Responder
	c.cfg.MaxKeepAliveTimeout = cfg.MaxKeepAliveTimeout
	c.mut.Unlock()

	c.acceptor = c.its.ApplyAcceptor(c.newAcceptor(createHandler))
	return nil
}

// Stop 停止监听并关闭所有链接
func (c *Controller) Stop() error {
	c.cancel()

	var errs *multierror.Error
	c.mut.Lock()
	for _, ln := range c.listeners {
		if err := ln.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for _, hs := range c.wsServers {
		if err := hs.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	conns := c.conns
	c.conns = make(map[uint64]*duplex.Conn)
	c.mut.Unlock()

	for _, conn := range conns {
		conn.Dispose()
	}
	if c.svr != nil {
		if err := c.svr.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	log.Infof("controller stopped")
	return errs.ErrorOrNil()
}
