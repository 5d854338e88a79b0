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

package protocol

import (
	"fmt"
)

// ErrCode ERROR 帧的错误码
//
// 0x00001-0x00102 为链接级别错误 仅允许出现在 StreamID 0
// 0x00201-0x00204 为流级别错误
type ErrCode uint32

const (
	ErrCodeInvalidSetup     ErrCode = 0x00000001
	ErrCodeUnsupportedSetup ErrCode = 0x00000002
	ErrCodeRejectedSetup    ErrCode = 0x00000003
	ErrCodeRejectedResume   ErrCode = 0x00000004
	ErrCodeConnectionError  ErrCode = 0x00000101
	ErrCodeConnectionClose  ErrCode = 0x00000102
	ErrCodeApplicationError ErrCode = 0x00000201
	ErrCodeRejected         ErrCode = 0x00000202
	ErrCodeCanceled         ErrCode = 0x00000203
	ErrCodeInvalid          ErrCode = 0x00000204
)

var errCodeNames = map[ErrCode]string{
	ErrCodeInvalidSetup:     "INVALID_SETUP",
	ErrCodeUnsupportedSetup: "UNSUPPORTED_SETUP",
	ErrCodeRejectedSetup:    "REJECTED_SETUP",
	ErrCodeRejectedResume:   "REJECTED_RESUME",
	ErrCodeConnectionError:  "CONNECTION_ERROR",
	ErrCodeConnectionClose:  "CONNECTION_CLOSE",
	ErrCodeApplicationError: "APPLICATION_ERROR",
	ErrCodeRejected:         "REJECTED",
	ErrCodeCanceled:         "CANCELED",
	ErrCodeInvalid:          "INVALID",
}

func (c ErrCode) String() string {
	if s, ok := errCodeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(0x%08x)", uint32(c))
}

// Error 远端 ERROR 帧映射出的错误 同时也是本端编码 ERROR 帧的载体
type Error struct {
	Code    ErrCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("rsocket error %s: %s", e.Code, e.Message)
}

// NewError 创建携带错误码的 Error
func NewError(code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// MapError 错误映射器 将任意错误规整为线上可编码的 *Error
//
// 已经是 *Error 的保持原样 其余错误一律归入 APPLICATION_ERROR
func MapError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Code: ErrCodeApplicationError, Message: err.Error()}
}

// DecodeError 将 ERROR 帧解码为 *Error
func DecodeError(f Frame) *Error {
	return &Error{Code: f.ErrorCode(), Message: f.ErrorMessage()}
}
