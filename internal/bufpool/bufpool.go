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

package bufpool

import (
	"github.com/valyala/bytebufferpool"
)

// pool 帧编解码专用缓冲池 与其他路径的池隔离 避免尺寸分布互相污染
var pool bytebufferpool.Pool

// Acquire 从池中取出一块空缓冲
func Acquire() *bytebufferpool.ByteBuffer {
	return pool.Get()
}

// Release 归还缓冲 调用后不允许再持有其字节
func Release(buf *bytebufferpool.ByteBuffer) {
	pool.Put(buf)
}
