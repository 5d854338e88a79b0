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

package handler

import (
	"github.com/pkg/errors"

	"github.com/rsocketd/rsocketd/common"
	"github.com/rsocketd/rsocketd/duplex"
)

// CreateFunc 根据传入的 Options 创建响应端处理器
type CreateFunc func(opts common.Options) (duplex.Handler, error)

var factory = map[string]CreateFunc{}

// Register 注册处理器实现函数
func Register(name string, f CreateFunc) {
	factory[name] = f
}

// Get 获取处理器实现函数
func Get(name string) (CreateFunc, error) {
	f, ok := factory[name]
	if !ok {
		return nil, errors.Errorf("handler factory (%s) not found", name)
	}
	return f, nil
}
