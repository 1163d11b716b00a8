package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ItemCodec packs fixed-width items.
type ItemCodec[T any] interface {
	Name() string
	// Size is the encoded width of one item in bytes.
	Size() int
	Append(dst []byte, items []T) []byte
	Decode(src []byte) ([]T, error)
}

func checkWidth(name string, src []byte, size int) error {
	if len(src)%size != 0 {
		return fmt.Errorf("wire: %d bytes is not a whole number of %s items", len(src), name)
	}
	return nil
}

type bytesCodec struct{}

// Bytes encodes byte items as themselves.
func Bytes() ItemCodec[byte] { return bytesCodec{} }

func (bytesCodec) Name() string { return "u8" }
func (bytesCodec) Size() int    { return 1 }

func (bytesCodec) Append(dst []byte, items []byte) []byte { return append(dst, items...) }

func (bytesCodec) Decode(src []byte) ([]byte, error) {
	return append([]byte(nil), src...), nil
}

type int16Codec struct{}

// Int16 encodes little-endian 16-bit samples.
func Int16() ItemCodec[int16] { return int16Codec{} }

func (int16Codec) Name() string { return "i16" }
func (int16Codec) Size() int    { return 2 }

func (int16Codec) Append(dst []byte, items []int16) []byte {
	for _, v := range items {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(v))
	}
	return dst
}

func (c int16Codec) Decode(src []byte) ([]int16, error) {
	if err := checkWidth(c.Name(), src, c.Size()); err != nil {
		return nil, err
	}
	out := make([]int16, len(src)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(src[2*i:]))
	}
	return out, nil
}

type float32Codec struct{}

// Float32 encodes little-endian IEEE 754 single precision items.
func Float32() ItemCodec[float32] { return float32Codec{} }

func (float32Codec) Name() string { return "f32" }
func (float32Codec) Size() int    { return 4 }

func (float32Codec) Append(dst []byte, items []float32) []byte {
	for _, v := range items {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

func (c float32Codec) Decode(src []byte) ([]float32, error) {
	if err := checkWidth(c.Name(), src, c.Size()); err != nil {
		return nil, err
	}
	out := make([]float32, len(src)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[4*i:]))
	}
	return out, nil
}

type complex64Codec struct{}

// Complex64 encodes interleaved little-endian I/Q float32 pairs.
func Complex64() ItemCodec[complex64] { return complex64Codec{} }

func (complex64Codec) Name() string { return "c64" }
func (complex64Codec) Size() int    { return 8 }

func (complex64Codec) Append(dst []byte, items []complex64) []byte {
	for _, v := range items {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(real(v)))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(imag(v)))
	}
	return dst
}

func (c complex64Codec) Decode(src []byte) ([]complex64, error) {
	if err := checkWidth(c.Name(), src, c.Size()); err != nil {
		return nil, err
	}
	out := make([]complex64, len(src)/8)
	for i := range out {
		re := math.Float32frombits(binary.LittleEndian.Uint32(src[8*i:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(src[8*i+4:]))
		out[i] = complex(re, im)
	}
	return out, nil
}
