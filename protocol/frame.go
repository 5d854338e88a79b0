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

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"

	"github.com/rsocketd/rsocketd/internal/bufpool"
)

func newError(format string, args ...any) error {
	format = "protocol/frame: " + format
	return errors.Errorf(format, args...)
}

var (
	// ErrFrameTooLarge 帧长度超过 24 位无符号整数可表达的上限
	ErrFrameTooLarge = newError("frame too large")

	// ErrIllegalFrame 帧内容非法 比如 PAYLOAD 帧未置任何 C/N 标志位
	ErrIllegalFrame = newError("illegal frame")

	errShortFrame = newError("short frame")
)

// RSocket 标准定义的帧布局如下 所有多字节字段均为大端序
//
// +-----------------------------------------------+
// |                 Length (24)                   |
// +-----------------------------------------------+
// |                Stream ID (32)                 |
// +-----------+-----------------------------------+
// | Type (6)  |           Flags (10)              |
// +-----------+-----------------------------------+
// |            Type-Specific Header (*)         ...
// +-----------------------------------------------+
// |        Metadata Length (24)? + Metadata     ...
// +-----------------------------------------------+
// |                   Data (*)                  ...
// +-----------------------------------------------+
//
// * Length (24 bits): 长度字段之后所有字节的长度 不包括长度字段本身
// * Stream ID (32 bits): 流标识 0 表示链接级别帧
// * Type (6 bits): 帧类型
// * Flags (10 bits): 帧标志位
// * Type-Specific Header: 由帧类型决定的定长头部
// * Metadata Length: 仅当帧类型允许同时携带 Data 时存在
const (
	// lenFieldSize 长度字段本身的字节数
	lenFieldSize = 3

	// headerLength 公共头部长度 即 Length + StreamID + TypeAndFlags
	headerLength = 9

	// MaxFrameLength 单帧最大长度
	MaxFrameLength = 0xFFFFFF

	// MaxRequestN 信用额度上限 达到即视为无限额度
	MaxRequestN = 0x7FFFFFFF
)

// FrameType 帧类型
//
// 0x01-0x3F 为线上类型 NEXT / COMPLETE / NEXT_COMPLETE 为逻辑类型
// 逻辑类型在线上均以 PAYLOAD 编码 由 C/N 标志位区分
type FrameType uint8

const (
	TypeSetup           FrameType = 0x01
	TypeLease           FrameType = 0x02
	TypeKeepAlive       FrameType = 0x03
	TypeRequestResponse FrameType = 0x04
	TypeRequestFNF      FrameType = 0x05
	TypeRequestStream   FrameType = 0x06
	TypeRequestChannel  FrameType = 0x07
	TypeRequestN        FrameType = 0x08
	TypeCancel          FrameType = 0x09
	TypePayload         FrameType = 0x0A
	TypeError           FrameType = 0x0B
	TypeMetadataPush    FrameType = 0x0C
	TypeResume          FrameType = 0x0D
	TypeResumeOK        FrameType = 0x0E
	TypeExt             FrameType = 0x3F

	// TypeNext 及以下为逻辑类型 线上不存在
	TypeNext         FrameType = 0x40
	TypeComplete     FrameType = 0x41
	TypeNextComplete FrameType = 0x42
)

var frameTypeNames = map[FrameType]string{
	TypeSetup:           "SETUP",
	TypeLease:           "LEASE",
	TypeKeepAlive:       "KEEPALIVE",
	TypeRequestResponse: "REQUEST_RESPONSE",
	TypeRequestFNF:      "REQUEST_FNF",
	TypeRequestStream:   "REQUEST_STREAM",
	TypeRequestChannel:  "REQUEST_CHANNEL",
	TypeRequestN:        "REQUEST_N",
	TypeCancel:          "CANCEL",
	TypePayload:         "PAYLOAD",
	TypeError:           "ERROR",
	TypeMetadataPush:    "METADATA_PUSH",
	TypeResume:          "RESUME",
	TypeResumeOK:        "RESUME_OK",
	TypeExt:             "EXT",
	TypeNext:            "NEXT",
	TypeComplete:        "COMPLETE",
	TypeNextComplete:    "NEXT_COMPLETE",
}

func (ft FrameType) String() string {
	if s, ok := frameTypeNames[ft]; ok {
		return s
	}
	return "UNKNOWN"
}

// 标志位占据 TypeAndFlags 的低 10 位
const (
	// FlagIgnore 接收方不识别该帧时可直接忽略
	FlagIgnore uint16 = 0x200

	// FlagMetadata 帧携带 Metadata
	FlagMetadata uint16 = 0x100

	// FlagFollows 分片帧 后续还有同流的分片
	FlagFollows uint16 = 0x080

	// FlagComplete PAYLOAD 帧的流结束标志
	FlagComplete uint16 = 0x040

	// FlagNext PAYLOAD 帧携带数据项标志
	FlagNext uint16 = 0x020
)

// 部分帧类型复用了同一批标志位 按协议定义给出别名
const (
	// FlagRespond KEEPALIVE 帧要求对端回应
	FlagRespond = FlagFollows

	// FlagResumeEnable SETUP 帧声明支持 RESUME
	FlagResumeEnable = FlagFollows

	// FlagLease SETUP 帧声明接受 LEASE 语义
	FlagLease = FlagComplete
)

// typeHeaderLengths 各帧类型特有的定长头部长度 即 Payload 区域的基础偏移增量
//
// SETUP / RESUME 头部为变长 此表仅记录定长部分 变长部分在 payloadOffset 中推进
var typeHeaderLengths = map[FrameType]int{
	TypeSetup:           12, // Version(4) + KeepAliveInterval(4) + MaxLifetime(4)
	TypeLease:           8,  // TTL(4) + NumberOfRequests(4)
	TypeKeepAlive:       8,  // LastReceivedPosition(8)
	TypeRequestResponse: 0,
	TypeRequestFNF:      0,
	TypeRequestStream:   4, // InitialRequestN(4)
	TypeRequestChannel:  4, // InitialRequestN(4)
	TypeRequestN:        4, // RequestN(4)
	TypeCancel:          0,
	TypePayload:         0,
	TypeError:           4, // ErrorCode(4)
	TypeMetadataPush:    0,
	TypeResume:          22, // Version(4) + TokenLength(2) + Positions(16) 变长 Token 另计
	TypeResumeOK:        8,  // LastReceivedClientPosition(8)
	TypeExt:             4,  // ExtendedType(4)
}

// canHaveData 帧类型是否允许携带 Data 区块
//
// 允许携带 Data 的帧类型 其 Metadata 需要 24 位长度前缀
var canHaveData = map[FrameType]bool{
	TypeSetup:           true,
	TypeRequestResponse: true,
	TypeRequestFNF:      true,
	TypeRequestStream:   true,
	TypeRequestChannel:  true,
	TypePayload:         true,
	TypeError:           true,
	TypeKeepAlive:       true,
}

// canHaveMetadata 帧类型是否允许携带 Metadata 区块
var canHaveMetadata = map[FrameType]bool{
	TypeSetup:           true,
	TypeLease:           true,
	TypeRequestResponse: true,
	TypeRequestFNF:      true,
	TypeRequestStream:   true,
	TypeRequestChannel:  true,
	TypePayload:         true,
	TypeMetadataPush:    true,
}

// CanHaveData 返回帧类型是否允许携带 Data
func CanHaveData(ft FrameType) bool {
	if ft.isLogical() {
		ft = TypePayload
	}
	return canHaveData[ft]
}

// CanHaveMetadata 返回帧类型是否允许携带 Metadata
func CanHaveMetadata(ft FrameType) bool {
	if ft.isLogical() {
		ft = TypePayload
	}
	return canHaveMetadata[ft]
}

func (ft FrameType) isLogical() bool {
	return ft == TypeNext || ft == TypeComplete || ft == TypeNextComplete
}

// Frame 帧的完整内存映像 含 3 字节长度前缀
//
// Frame 遵循单一持有者的所有权约定 解码侧由 dispatch 结束后释放一次
// 编码侧交由发送队列释放 任何路径都不允许二次释放
type Frame struct {
	b   []byte
	buf *bytebufferpool.ByteBuffer
}

// NewFrame 以现有字节构建 Frame 不涉及缓冲池
func NewFrame(b []byte) Frame {
	return Frame{b: b}
}

func newPooledFrame(buf *bytebufferpool.ByteBuffer) Frame {
	return Frame{b: buf.B, buf: buf}
}

// Bytes 返回帧完整字节映像
func (f Frame) Bytes() []byte {
	return f.b
}

// Len 返回帧完整字节长度
func (f Frame) Len() int {
	return len(f.b)
}

// Release 归还帧持有的池化缓冲 非池化帧为 no-op
func (f Frame) Release() {
	if f.buf != nil {
		bufpool.Release(f.buf)
	}
}

// Validate 校验帧映像的完整性
//
// 长度字段必须与实际字节数一致 且 Payload 偏移不允许越界
func (f Frame) Validate() error {
	if len(f.b) < headerLength {
		return errShortFrame
	}
	if int(u24(f.b)) != len(f.b)-lenFieldSize {
		return ErrIllegalFrame
	}
	if f.payloadOffset() > len(f.b) {
		return ErrIllegalFrame
	}
	return nil
}

// StreamID 返回帧所属的流标识 0 为链接级别
func (f Frame) StreamID() uint32 {
	return binary.BigEndian.Uint32(f.b[3:7])
}

func (f Frame) typeAndFlags() uint16 {
	return binary.BigEndian.Uint16(f.b[7:9])
}

// WireType 返回线上帧类型 即高 6 位
func (f Frame) WireType() FrameType {
	return FrameType(f.typeAndFlags() >> 10)
}

// Flags 返回帧标志位 即低 10 位
func (f Frame) Flags() uint16 {
	return f.typeAndFlags() & 0x3FF
}

// HasFlag 判断标志位是否置位
func (f Frame) HasFlag(flag uint16) bool {
	return f.Flags()&flag != 0
}

// Type 返回帧的逻辑类型
//
// PAYLOAD 帧按 C/N 标志位拆解为 NEXT / COMPLETE / NEXT_COMPLETE
// 两者皆未置位的 PAYLOAD 为协议违例
func (f Frame) Type() (FrameType, error) {
	wt := f.WireType()
	if wt != TypePayload {
		return wt, nil
	}

	next := f.HasFlag(FlagNext)
	complete := f.HasFlag(FlagComplete)
	switch {
	case next && complete:
		return TypeNextComplete, nil
	case next:
		return TypeNext, nil
	case complete:
		return TypeComplete, nil
	}
	return 0, ErrIllegalFrame
}

// payloadOffset 计算 Payload 区域 即 Metadata+Data 的起始偏移
//
// 偏移由类型头部长度表驱动 SETUP / RESUME 的变长部分单独推进
func (f Frame) payloadOffset() int {
	wt := f.WireType()
	offset := headerLength + typeHeaderLengths[wt]

	switch wt {
	case TypeSetup:
		// SETUP 定长部分之后为可选 Resume Token 与两个 MIME 字符串
		if f.HasFlag(FlagResumeEnable) && len(f.b) >= offset+2 {
			offset += 2 + int(binary.BigEndian.Uint16(f.b[offset:offset+2]))
		}
		// Metadata MIME: 1 字节长度 + 内容
		if len(f.b) > offset {
			offset += 1 + int(f.b[offset])
		}
		// Data MIME: 1 字节长度 + 内容
		if len(f.b) > offset {
			offset += 1 + int(f.b[offset])
		}

	case TypeResume:
		// RESUME 的 Token 紧随 TokenLength 字段 位于定长头部中段
		if len(f.b) >= headerLength+6 {
			offset += int(binary.BigEndian.Uint16(f.b[headerLength+4 : headerLength+6]))
		}
	}
	return offset
}

// Metadata 返回 Metadata 区块的零拷贝视图
//
// M 标志未置位时返回空 调用方不允许修改返回的字节
func (f Frame) Metadata() []byte {
	if !f.HasFlag(FlagMetadata) {
		return nil
	}

	offset := f.payloadOffset()
	if offset >= len(f.b) {
		return nil
	}

	if CanHaveData(f.WireType()) {
		if offset+lenFieldSize > len(f.b) {
			return nil
		}
		n := int(u24(f.b[offset:]))
		offset += lenFieldSize
		if offset+n > len(f.b) {
			return nil
		}
		return f.b[offset : offset+n]
	}
	// 无 Data 区块的帧类型 Metadata 为剩余全部字节
	return f.b[offset:]
}

// Data 返回 Data 区块的零拷贝视图
//
// 帧类型不携带 Data 或者区块为空时返回空 调用方不允许修改返回的字节
func (f Frame) Data() []byte {
	if !CanHaveData(f.WireType()) {
		return nil
	}

	offset := f.payloadOffset()
	if f.HasFlag(FlagMetadata) {
		if offset+lenFieldSize > len(f.b) {
			return nil
		}
		offset += lenFieldSize + int(u24(f.b[offset:]))
	}
	if offset >= len(f.b) {
		return nil
	}
	return f.b[offset:]
}

// u24 读取 24 位大端序无符号整数
func u24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// putU24 写入 24 位大端序无符号整数
//
// 逐字节写入 避免带符号 32 位整数在字节偏移写入时的符号扩展问题
func putU24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}
