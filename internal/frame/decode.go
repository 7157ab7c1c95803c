package frame

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

type dtypeInfo struct {
	size   int
	decode func(b []byte, order binary.ByteOrder) float64
}

var dtypes = map[string]dtypeInfo{
	"u1": {1, func(b []byte, _ binary.ByteOrder) float64 { return float64(b[0]) }},
	"i1": {1, func(b []byte, _ binary.ByteOrder) float64 { return float64(int8(b[0])) }},
	"u2": {2, func(b []byte, o binary.ByteOrder) float64 { return float64(o.Uint16(b)) }},
	"i2": {2, func(b []byte, o binary.ByteOrder) float64 { return float64(int16(o.Uint16(b))) }},
	"u4": {4, func(b []byte, o binary.ByteOrder) float64 { return float64(o.Uint32(b)) }},
	"i4": {4, func(b []byte, o binary.ByteOrder) float64 { return float64(int32(o.Uint32(b))) }},
	"f4": {4, func(b []byte, o binary.ByteOrder) float64 { return float64(math.Float32frombits(o.Uint32(b))) }},
	"f8": {8, func(b []byte, o binary.ByteOrder) float64 { return math.Float64frombits(o.Uint64(b)) }},
}

var dtypeAliases = map[string]string{
	"uint8":   "u1",
	"int8":    "i1",
	"uint16":  "u2",
	"int16":   "i2",
	"uint32":  "u4",
	"int32":   "i4",
	"float32": "f4",
	"float64": "f8",
}

// parseDtype accepts numpy style names ("uint16", "<u2", ">f8", "|u1").
// Names without a byte order marker are little endian.
func parseDtype(dtype string) (string, dtypeInfo, binary.ByteOrder, error) {
	name := strings.ToLower(strings.TrimSpace(dtype))
	var order binary.ByteOrder = binary.LittleEndian
	if name != "" {
		switch name[0] {
		case '<', '|', '=':
			name = name[1:]
		case '>':
			order = binary.BigEndian
			name = name[1:]
		}
	}
	if alias, ok := dtypeAliases[name]; ok {
		name = alias
	}
	info, ok := dtypes[name]
	if !ok {
		return "", dtypeInfo{}, nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
	return name, info, order, nil
}

// DecodeStack converts a raw buffer of shape [frames, rows, cols] (or
// [rows, cols] for a single frame) into a Stack. Integer pixels are
// promoted to float64 before any arithmetic so differences can go negative.
func DecodeStack(raw []byte, dtype string, shape []int) (Stack, error) {
	_, info, order, err := parseDtype(dtype)
	if err != nil {
		return nil, err
	}

	var n, rows, cols int
	switch len(shape) {
	case 2:
		n, rows, cols = 1, shape[0], shape[1]
	case 3:
		n, rows, cols = shape[0], shape[1], shape[2]
	default:
		return nil, fmt.Errorf("shape must have 2 or 3 dimensions, got %v", shape)
	}
	if n < 0 || rows < 0 || cols < 0 {
		return nil, fmt.Errorf("negative dimension in shape %v", shape)
	}

	if n > 0 && (rows == 0 || cols == 0) {
		return nil, fmt.Errorf("empty frames in shape %v", shape)
	}

	perFrame, ok := mulDims(rows, cols)
	if !ok {
		return nil, fmt.Errorf("shape %v is too large", shape)
	}
	frameBytes, ok := mulDims(perFrame, info.size)
	if !ok {
		return nil, fmt.Errorf("shape %v is too large", shape)
	}
	want, ok := mulDims(n, frameBytes)
	if !ok {
		return nil, fmt.Errorf("shape %v is too large", shape)
	}
	if len(raw) != want {
		return nil, fmt.Errorf("buffer has %d bytes, shape %v of %s needs %d", len(raw), shape, dtype, want)
	}

	stack := make(Stack, n)
	for i := 0; i < n; i++ {
		data := make([]float64, perFrame)
		base := i * frameBytes
		for j := range data {
			p := base + j*info.size
			data[j] = info.decode(raw[p:p+info.size], order)
		}
		stack[i] = FromSlice(rows, cols, data)
	}
	return stack, nil
}

// mulDims multiplies two non-negative sizes, reporting false on overflow
func mulDims(a, b int) (int, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt/b {
		return 0, false
	}
	return a * b, true
}

// EncodeStack writes a stack as raw uint16 or float64 bytes.
// It is the inverse of DecodeStack for those dtypes; imfit simulate writes
// its synthetic shots with it.
func EncodeStack(s Stack, dtype string) ([]byte, []int, error) {
	name, info, order, err := parseDtype(dtype)
	if err != nil {
		return nil, nil, err
	}
	if name != "u2" && name != "f8" {
		return nil, nil, fmt.Errorf("encoding %s is not supported", dtype)
	}
	if len(s) == 0 {
		return nil, []int{0, 0, 0}, nil
	}
	rows, cols := s[0].Rows(), s[0].Cols()
	buf := make([]byte, 0, len(s)*rows*cols*info.size)
	tmp := make([]byte, 8)
	for i, f := range s {
		if f.Rows() != rows || f.Cols() != cols {
			return nil, nil, fmt.Errorf("frame %d is %dx%d, expected %dx%d", i, f.Rows(), f.Cols(), rows, cols)
		}
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				v := f.At(r, c)
				if name == "u2" {
					order.PutUint16(tmp, uint16(math.Max(0, math.Min(v, math.MaxUint16))))
				} else {
					order.PutUint64(tmp, math.Float64bits(v))
				}
				buf = append(buf, tmp[:info.size]...)
			}
		}
	}
	return buf, []int{len(s), rows, cols}, nil
}
