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
	"encoding/binary"
)

// Version 协议版本号
type Version struct {
	Major uint16
	Minor uint16
}

// DefaultVersion 当前实现的协议版本
var DefaultVersion = Version{Major: 1, Minor: 0}

// Setup SETUP 帧解码后的字段视图
type Setup struct {
	Version           Version
	KeepAliveInterval uint32
	MaxLifetime       uint32
	ResumeToken       []byte
	MetadataMimeType  string
	DataMimeType      string
	Lease             bool
}

// DecodeSetup 解码 SETUP 帧的类型头部字段
//
// 字段视图中的字节切片均为零拷贝 生命周期与帧一致
func DecodeSetup(f Frame) (Setup, error) {
	b := f.Bytes()
	if len(b) < headerLength+12 {
		return Setup{}, errShortFrame
	}

	var s Setup
	v := binary.BigEndian.Uint32(b[headerLength : headerLength+4])
	s.Version = Version{Major: uint16(v >> 16), Minor: uint16(v)}
	s.KeepAliveInterval = binary.BigEndian.Uint32(b[headerLength+4 : headerLength+8])
	s.MaxLifetime = binary.BigEndian.Uint32(b[headerLength+8 : headerLength+12])
	s.Lease = f.HasFlag(FlagLease)

	offset := headerLength + 12
	if f.HasFlag(FlagResumeEnable) {
		if len(b) < offset+2 {
			return Setup{}, errShortFrame
		}
		n := int(binary.BigEndian.Uint16(b[offset : offset+2]))
		offset += 2
		if len(b) < offset+n {
			return Setup{}, errShortFrame
		}
		s.ResumeToken = b[offset : offset+n]
		offset += n
	}

	for i := 0; i < 2; i++ {
		if len(b) < offset+1 {
			return Setup{}, errShortFrame
		}
		n := int(b[offset])
		offset++
		if len(b) < offset+n {
			return Setup{}, errShortFrame
		}
		if i == 0 {
			s.MetadataMimeType = string(b[offset : offset+n])
		} else {
			s.DataMimeType = string(b[offset : offset+n])
		}
		offset += n
	}
	return s, nil
}

// ErrorCode 返回 ERROR 帧的错误码
func (f Frame) ErrorCode() ErrCode {
	b := f.Bytes()
	if len(b) < headerLength+4 {
		return 0
	}
	return ErrCode(binary.BigEndian.Uint32(b[headerLength : headerLength+4]))
}

// ErrorMessage 返回 ERROR 帧的 UTF-8 错误信息
func (f Frame) ErrorMessage() string {
	return string(f.Data())
}

// RequestN 返回 REQUEST_N / REQUEST_STREAM / REQUEST_CHANNEL 帧的信用额度
//
// 高位保留位被掩除 仅保留 31 位有效值
func (f Frame) RequestN() uint32 {
	b := f.Bytes()
	if len(b) < headerLength+4 {
		return 0
	}
	return binary.BigEndian.Uint32(b[headerLength:headerLength+4]) & MaxRequestN
}

// KeepAliveRespond 返回 KEEPALIVE 帧是否要求对端回应
func (f Frame) KeepAliveRespond() bool {
	return f.HasFlag(FlagRespond)
}

// KeepAliveLastPosition 返回 KEEPALIVE 帧携带的收包位点
func (f Frame) KeepAliveLastPosition() uint64 {
	b := f.Bytes()
	if len(b) < headerLength+8 {
		return 0
	}
	return binary.BigEndian.Uint64(b[headerLength : headerLength+8])
}

// Lease LEASE 帧解码后的字段视图
type Lease struct {
	TTLMillis        uint32
	NumberOfRequests uint32
}

// DecodeLease 解码 LEASE 帧的类型头部字段
func DecodeLease(f Frame) (Lease, error) {
	b := f.Bytes()
	if len(b) < headerLength+8 {
		return Lease{}, errShortFrame
	}
	return Lease{
		TTLMillis:        binary.BigEndian.Uint32(b[headerLength : headerLength+4]),
		NumberOfRequests: binary.BigEndian.Uint32(b[headerLength+4 : headerLength+8]),
	}, nil
}
