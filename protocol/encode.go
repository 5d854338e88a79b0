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

	"github.com/rsocketd/rsocketd/internal/bufpool"
)

var errEncodeRawPayload = newError("encode raw PAYLOAD type")

// EncodeHeader 写入公共头部
//
// frameLength 为帧完整字节数 写入的长度字段不包括长度字段本身
// 即 frameLength - 3 超过 24 位上限返回 ErrFrameTooLarge
func EncodeHeader(b []byte, frameLength int, flags uint16, ft FrameType, streamID uint32) error {
	if frameLength > MaxFrameLength {
		return ErrFrameTooLarge
	}

	putU24(b, uint32(frameLength-lenFieldSize))
	binary.BigEndian.PutUint32(b[3:7], streamID)
	binary.BigEndian.PutUint16(b[7:9], uint16(ft)<<10|flags&0x3FF)
	return nil
}

// EncodeMetadata 在 offset 处写入 Metadata 区块 返回写入后的偏移
//
// 允许携带 Data 的帧类型需要 24 位 Metadata 长度前缀 其余类型仅写入内容
// Metadata 非空时在已写入的 TypeAndFlags 中补置 M 标志位
func EncodeMetadata(b []byte, ft FrameType, offset int, metadata []byte) int {
	if len(metadata) == 0 {
		return offset
	}

	if CanHaveData(ft) {
		putU24(b[offset:], uint32(len(metadata)))
		offset += lenFieldSize
	}
	offset += copy(b[offset:], metadata)

	flags := binary.BigEndian.Uint16(b[7:9])
	binary.BigEndian.PutUint16(b[7:9], flags|FlagMetadata)
	return offset
}

// EncodeData 在 offset 处追加 Data 区块 无长度前缀 返回写入后的偏移
func EncodeData(b []byte, offset int, data []byte) int {
	return offset + copy(b[offset:], data)
}

// frameLengthOf 计算帧编码后的完整字节数
func frameLengthOf(ft FrameType, extraHeader int, metadata, data []byte) int {
	n := headerLength + extraHeader
	if len(metadata) > 0 {
		if CanHaveData(ft) {
			n += lenFieldSize
		}
		n += len(metadata)
	}
	return n + len(data)
}

// Encode 顶层编码入口 编码产物持有池化缓冲 由消费方负责 Release
//
// 逻辑类型 NEXT / COMPLETE / NEXT_COMPLETE 在此处改写为线上 PAYLOAD
// 并按需补置 C/N 标志位 直接传入线上 PAYLOAD 类型视为调用方错误
func Encode(streamID uint32, flags uint16, ft FrameType, metadata, data []byte) (Frame, error) {
	switch ft {
	case TypePayload:
		return Frame{}, errEncodeRawPayload

	case TypeNext:
		ft, flags = TypePayload, flags|FlagNext
	case TypeComplete:
		ft, flags = TypePayload, flags|FlagComplete
	case TypeNextComplete:
		ft, flags = TypePayload, flags|FlagNext|FlagComplete
	}

	total := frameLengthOf(ft, typeHeaderLengths[ft], metadata, data)
	if total > MaxFrameLength {
		return Frame{}, ErrFrameTooLarge
	}

	buf := bufpool.Acquire()
	b := buf.B
	if cap(b) < total {
		b = make([]byte, total)
	}
	b = b[:total]

	if err := EncodeHeader(b, total, flags, ft, streamID); err != nil {
		bufpool.Release(buf)
		return Frame{}, err
	}

	offset := headerLength + encodeTypeHeader(b[headerLength:], ft)
	offset = EncodeMetadata(b, ft, offset, metadata)
	EncodeData(b, offset, data)

	buf.B = b
	return newPooledFrame(buf), nil
}

// encodeTypeHeader 写入类型特有头部的零值 返回写入的字节数
//
// 携带具体字段值的帧类型 比如 SETUP / ERROR / REQUEST_N 使用各自的
// Encode 函数 此处仅为通用入口兜底
func encodeTypeHeader(b []byte, ft FrameType) int {
	n := typeHeaderLengths[ft]
	for i := 0; i < n; i++ {
		b[i] = 0
	}
	return n
}

// encodeFixed 与 Encode 相同的编码流程 但由调用方提供类型头部内容
func encodeFixed(streamID uint32, flags uint16, ft FrameType, typeHeader, metadata, data []byte) (Frame, error) {
	total := frameLengthOf(ft, len(typeHeader), metadata, data)
	if total > MaxFrameLength {
		return Frame{}, ErrFrameTooLarge
	}

	buf := bufpool.Acquire()
	b := buf.B
	if cap(b) < total {
		b = make([]byte, total)
	}
	b = b[:total]

	if err := EncodeHeader(b, total, flags, ft, streamID); err != nil {
		bufpool.Release(buf)
		return Frame{}, err
	}

	offset := headerLength + copy(b[headerLength:], typeHeader)
	offset = EncodeMetadata(b, ft, offset, metadata)
	EncodeData(b, offset, data)

	buf.B = b
	return newPooledFrame(buf), nil
}

// EncodeRequestN 编码 REQUEST_N 帧
func EncodeRequestN(streamID uint32, n uint32) (Frame, error) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], n&MaxRequestN)
	return encodeFixed(streamID, 0, TypeRequestN, hdr[:], nil, nil)
}

// EncodeRequestStream 编码 REQUEST_STREAM / REQUEST_CHANNEL 帧
func EncodeRequestStream(ft FrameType, streamID uint32, initialN uint32, metadata, data []byte) (Frame, error) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], initialN&MaxRequestN)
	return encodeFixed(streamID, 0, ft, hdr[:], metadata, data)
}

// EncodeCancel 编码 CANCEL 帧
func EncodeCancel(streamID uint32) (Frame, error) {
	return encodeFixed(streamID, 0, TypeCancel, nil, nil, nil)
}

// EncodeError 编码 ERROR 帧 Data 区块为 UTF-8 错误信息
func EncodeError(streamID uint32, code ErrCode, message string) (Frame, error) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(code))
	return encodeFixed(streamID, 0, TypeError, hdr[:], nil, []byte(message))
}

// EncodeKeepAlive 编码 KEEPALIVE 帧
//
// respond 要求对端回应 lastReceivedPos 为可恢复链接的收包位点
// 默认模式下写入零值
func EncodeKeepAlive(respond bool, lastReceivedPos uint64, data []byte) (Frame, error) {
	var flags uint16
	if respond {
		flags |= FlagRespond
	}

	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], lastReceivedPos)
	return encodeFixed(0, flags, TypeKeepAlive, hdr[:], nil, data)
}

// SetupConfig SETUP 帧的可配置字段
type SetupConfig struct {
	Version           Version
	KeepAliveInterval uint32 // 单位毫秒
	MaxLifetime       uint32 // 单位毫秒
	ResumeToken       []byte
	MetadataMimeType  string
	DataMimeType      string
	Lease             bool
}

// EncodeSetup 编码 SETUP 帧
func EncodeSetup(cfg SetupConfig, metadata, data []byte) (Frame, error) {
	var flags uint16
	if len(cfg.ResumeToken) > 0 {
		flags |= FlagResumeEnable
	}
	if cfg.Lease {
		flags |= FlagLease
	}

	hdr := make([]byte, 0, 16+len(cfg.ResumeToken)+len(cfg.MetadataMimeType)+len(cfg.DataMimeType))
	var b4 [4]byte
	binary.BigEndian.PutUint32(b4[:], uint32(cfg.Version.Major)<<16|uint32(cfg.Version.Minor))
	hdr = append(hdr, b4[:]...)
	binary.BigEndian.PutUint32(b4[:], cfg.KeepAliveInterval)
	hdr = append(hdr, b4[:]...)
	binary.BigEndian.PutUint32(b4[:], cfg.MaxLifetime)
	hdr = append(hdr, b4[:]...)

	if len(cfg.ResumeToken) > 0 {
		var b2 [2]byte
		binary.BigEndian.PutUint16(b2[:], uint16(len(cfg.ResumeToken)))
		hdr = append(hdr, b2[:]...)
		hdr = append(hdr, cfg.ResumeToken...)
	}
	hdr = append(hdr, byte(len(cfg.MetadataMimeType)))
	hdr = append(hdr, cfg.MetadataMimeType...)
	hdr = append(hdr, byte(len(cfg.DataMimeType)))
	hdr = append(hdr, cfg.DataMimeType...)

	return encodeFixed(0, flags, TypeSetup, hdr, metadata, data)
}

// EncodeLease 编码 LEASE 帧
func EncodeLease(ttlMillis uint32, numberOfRequests uint32, metadata []byte) (Frame, error) {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], ttlMillis)
	binary.BigEndian.PutUint32(hdr[4:], numberOfRequests)
	return encodeFixed(0, 0, TypeLease, hdr[:], metadata, nil)
}
