// Copyright 2018 Google LLC
// Copyright 2026 The Mars Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package binary translates between fixed-size big-endian fields and Go
// values, as found in firmware-provided blobs.
package binary

import (
	"encoding/binary"
	"fmt"
	"reflect"
)

// BigEndian is the same as encoding/binary.BigEndian.
//
// It is included here as a convenience.
var BigEndian = binary.BigEndian

// AppendUint32 appends the big-endian representation of num to buf.
func AppendUint32(buf []byte, num uint32) []byte {
	return BigEndian.AppendUint32(buf, num)
}

// AppendUint64 appends the big-endian representation of num to buf.
func AppendUint64(buf []byte, num uint64) []byte {
	return BigEndian.AppendUint64(buf, num)
}

// AppendCString appends s followed by a NUL byte.
func AppendCString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

// Pad appends zero bytes to buf until its length is a multiple of align.
func Pad(buf []byte, align int) []byte {
	for len(buf)%align != 0 {
		buf = append(buf, 0)
	}
	return buf
}

// AlignUp rounds n up to a multiple of align, which must be a power of two.
func AlignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// Uint32At returns the big-endian uint32 at buf[off:]. ok is false if the
// field does not fit in buf.
func Uint32At(buf []byte, off int) (v uint32, ok bool) {
	if off < 0 || off > len(buf)-4 {
		return 0, false
	}
	return BigEndian.Uint32(buf[off:]), true
}

// Uint64At returns the big-endian uint64 at buf[off:]. ok is false if the
// field does not fit in buf.
func Uint64At(buf []byte, off int) (v uint64, ok bool) {
	if off < 0 || off > len(buf)-8 {
		return 0, false
	}
	return BigEndian.Uint64(buf[off:]), true
}

// CStringAt returns the NUL-terminated string starting at buf[off:], and the
// offset of its terminator. ok is false if no terminator exists.
func CStringAt(buf []byte, off int) (s string, end int, ok bool) {
	if off < 0 || off >= len(buf) {
		return "", 0, false
	}
	for end = off; end < len(buf); end++ {
		if buf[end] == 0 {
			return string(buf[off:end]), end, true
		}
	}
	return "", 0, false
}

// Marshal appends the big-endian representation of data to buf.
//
// data must only contain fixed-length unsigned ints, arrays and structs of
// said types. data may be a pointer, but cannot contain pointers.
func Marshal(buf []byte, data any) []byte {
	return marshal(buf, reflect.Indirect(reflect.ValueOf(data)))
}

func marshal(buf []byte, data reflect.Value) []byte {
	switch data.Kind() {
	case reflect.Uint8:
		buf = append(buf, byte(data.Uint()))
	case reflect.Uint16:
		buf = BigEndian.AppendUint16(buf, uint16(data.Uint()))
	case reflect.Uint32:
		buf = AppendUint32(buf, uint32(data.Uint()))
	case reflect.Uint64:
		buf = AppendUint64(buf, data.Uint())

	case reflect.Array:
		for i, l := 0, data.Len(); i < l; i++ {
			buf = marshal(buf, data.Index(i))
		}

	case reflect.Struct:
		for i, l := 0, data.NumField(); i < l; i++ {
			buf = marshal(buf, data.Field(i))
		}

	default:
		panic("invalid type: " + data.Type().String())
	}
	return buf
}

// Unmarshal unpacks the leading Size(data) bytes of buf into data, which
// must be a pointer. It returns false, leaving data partially filled, if buf
// is too short.
func Unmarshal(buf []byte, data any) bool {
	value := reflect.ValueOf(data)
	if value.Kind() != reflect.Ptr {
		panic("invalid type: " + value.Type().String())
	}
	value = value.Elem()
	if uintptr(len(buf)) < sizeof(value) {
		return false
	}
	unmarshal(buf, value)
	return true
}

func unmarshal(buf []byte, data reflect.Value) []byte {
	switch data.Kind() {
	case reflect.Uint8:
		data.SetUint(uint64(buf[0]))
		buf = buf[1:]
	case reflect.Uint16:
		data.SetUint(uint64(BigEndian.Uint16(buf)))
		buf = buf[2:]
	case reflect.Uint32:
		data.SetUint(uint64(BigEndian.Uint32(buf)))
		buf = buf[4:]
	case reflect.Uint64:
		data.SetUint(BigEndian.Uint64(buf))
		buf = buf[8:]

	case reflect.Array:
		for i, l := 0, data.Len(); i < l; i++ {
			buf = unmarshal(buf, data.Index(i))
		}

	case reflect.Struct:
		for i, l := 0, data.NumField(); i < l; i++ {
			if field := data.Field(i); field.CanSet() {
				buf = unmarshal(buf, field)
			} else {
				buf = buf[sizeof(field):]
			}
		}

	default:
		panic(fmt.Sprintf("invalid type: %s", data.Type()))
	}
	return buf
}

// Size calculates the buffer size needed by Marshal or Unmarshal.
func Size(v any) uintptr {
	return sizeof(reflect.Indirect(reflect.ValueOf(v)))
}

func sizeof(data reflect.Value) uintptr {
	switch data.Kind() {
	case reflect.Uint8:
		return 1
	case reflect.Uint16:
		return 2
	case reflect.Uint32:
		return 4
	case reflect.Uint64:
		return 8

	case reflect.Array:
		return uintptr(data.Len()) * sizeof(reflect.Zero(data.Type().Elem()))

	case reflect.Struct:
		var size uintptr
		for i, l := 0, data.NumField(); i < l; i++ {
			size += sizeof(data.Field(i))
		}
		return size

	default:
		panic("invalid type: " + data.Type().String())
	}
}
