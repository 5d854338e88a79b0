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

package common

import (
	"fmt"
)

// BuildInfo 代表程序构建信息
//
// 三个字段由构建脚本通过 ldflags 注入 未注入时回退到默认值
// 保证本地 go build 的产物也有可读的版本描述
type BuildInfo struct {
	Version string
	GitHash string
	Time    string
}

var (
	buildVersion string
	buildTime    string
	buildHash    string
)

func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Version: buildVersion,
		GitHash: buildHash,
		Time:    buildTime,
	}
	if info.Version == "" {
		info.Version = Version
	}
	if info.GitHash == "" {
		info.GitHash = "unknown"
	}
	if info.Time == "" {
		info.Time = "unknown"
	}
	return info
}

func (info BuildInfo) String() string {
	return fmt.Sprintf("%s %s (githash=%s buildtime=%s)", App, info.Version, info.GitHash, info.Time)
}
