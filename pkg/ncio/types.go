package ncio

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Type is an external element type.
type Type int

const (
	Byte Type = iota + 1
	Char
	Short
	Int
	Float
	Double
	UByte
	UShort
	UInt
	Int64
	UInt64
)

var typeNames = map[Type]string{
	Byte: "byte", Char: "char", Short: "short", Int: "int", Float: "float", Double: "double",
	UByte: "ubyte", UShort: "ushort", UInt: "uint", Int64: "int64", UInt64: "uint64",
}

// Size returns the element size in bytes, or 0 for an invalid type.
func (t Type) Size() int {
	switch t {
	case Byte, Char, UByte:
		return 1
	case Short, UShort:
		return 2
	case Int, Float, UInt:
		return 4
	case Double, Int64, UInt64:
		return 8
	}
	return 0
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool { return t.Size() > 0 }

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// ParseType parses a type name such as "double" or "int".
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, n := range typeNames {
		if n == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown element type %q", s)
}

// Default fill values, applied when a variable has no explicit fill value.
const (
	FillByte   int8    = -127
	FillChar   byte    = 0
	FillShort  int16   = -32767
	FillInt    int32   = -2147483647
	FillFloat  float32 = 9.9692099683868690e+36
	FillDouble float64 = 9.9692099683868690e+36
	FillUByte  uint8   = 255
	FillUShort uint16  = 65535
	FillUInt   uint32  = 4294967295
	FillInt64  int64   = -9223372036854775806
	FillUInt64 uint64  = 18446744073709551614
)

// DefaultFill returns the default fill value of t in host (little-endian)
// byte order, or nil for an invalid type.
func DefaultFill(t Type) []byte {
	var (
		fb   = FillByte
		fs   = FillShort
		fi   = FillInt
		fi64 = FillInt64
	)
	b := make([]byte, t.Size())
	switch t {
	case Byte:
		b[0] = byte(fb)
	case Char:
		b[0] = FillChar
	case UByte:
		b[0] = FillUByte
	case Short:
		binary.LittleEndian.PutUint16(b, uint16(fs))
	case UShort:
		binary.LittleEndian.PutUint16(b, FillUShort)
	case Int:
		binary.LittleEndian.PutUint32(b, uint32(fi))
	case UInt:
		binary.LittleEndian.PutUint32(b, FillUInt)
	case Float:
		binary.LittleEndian.PutUint32(b, math.Float32bits(FillFloat))
	case Double:
		binary.LittleEndian.PutUint64(b, math.Float64bits(FillDouble))
	case Int64:
		binary.LittleEndian.PutUint64(b, uint64(fi64))
	case UInt64:
		binary.LittleEndian.PutUint64(b, FillUInt64)
	default:
		return nil
	}
	return b
}

// IOType selects how a file is accessed by the I/O tasks.
type IOType int

const (
	// Serial funnels every access through I/O task 0.
	Serial IOType = iota
	// Parallel issues one collective call per region on every I/O task.
	Parallel
	// NonBlocking queues vector requests that complete on WaitAll.
	NonBlocking
)

func (t IOType) String() string {
	switch t {
	case Serial:
		return "serial"
	case Parallel:
		return "parallel"
	case NonBlocking:
		return "nonblocking"
	}
	return fmt.Sprintf("iotype(%d)", int(t))
}

// ParseIOType parses "serial", "parallel" or "nonblocking".
func ParseIOType(s string) (IOType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "serial":
		return Serial, nil
	case "parallel":
		return Parallel, nil
	case "nonblocking", "non-blocking", "vector":
		return NonBlocking, nil
	}
	return 0, fmt.Errorf("unknown iotype %q", s)
}
