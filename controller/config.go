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

	"github.com/rsocketd/rsocketd/common"
)

// ListenerConfig 单个监听器配置
//
// protocol 支持 tcp / websocket websocket 需要额外的 path
type ListenerConfig struct {
	Protocol string `config:"protocol"`
	Address  string `config:"address"`
	Path     string `config:"path"`
}

// ResponderConfig 响应端处理器配置
type ResponderConfig struct {
	Name    string         `config:"name"`
	Options common.Options `config:"options"`
}

// Config Controller 配置
type Config struct {
	Listeners []ListenerConfig `config:"listeners"`
	Responder ResponderConfig  `config:"responder"`

	// MaxKeepAliveTimeout SETUP 声明的 maxLifetime 上限 防止恶意超长存活
	MaxKeepAliveTimeout time.Duration `config:"maxKeepAliveTimeout"`

	// ConnCleanInterval 已关闭链接的清理周期
	ConnCleanInterval time.Duration `config:"connCleanInterval"`
}

func (c Config) GetResponderName() string {
	if c.Responder.Name == "" {
		return "echo"
	}
	return c.Responder.Name
}

func (c Config) GetMaxKeepAliveTimeout() time.Duration {
	if c.MaxKeepAliveTimeout <= 0 {
		return 10 * time.Minute
	}
	return c.MaxKeepAliveTimeout
}

func (c Config) GetConnCleanInterval() time.Duration {
	if c.ConnCleanInterval < time.Second {
		return time.Minute
	}
	return c.ConnCleanInterval
}
