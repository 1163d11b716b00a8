package stage

import (
	"fmt"

	errspkg "github.com/drblury/pktflow/internal/runtime/errors"
)

// CrcConfig describes a CRC in the Rocksoft width/poly/init/xorout/refin/refout
// form plus how it is laid out in a packet. Poly and Init are given
// unreflected. The zero value is CRC-32/ISO-HDLC.
type CrcConfig struct {
	Bits            int
	Poly            uint64
	Init            uint64
	FinalXor        uint64
	InputReflected  bool
	ResultReflected bool
	// SwapEndianness stores the checksum least significant byte first.
	SwapEndianness bool
	// SkipHeaderBytes excludes a fixed-size header from the computation.
	SkipHeaderBytes int
	// Discard removes the checksum from packets that pass a check.
	Discard bool
}

// CRC32 is the IEEE 802.3 CRC used by default.
func CRC32() CrcConfig {
	return CrcConfig{
		Bits:            32,
		Poly:            0x04C11DB7,
		Init:            0xFFFFFFFF,
		FinalXor:        0xFFFFFFFF,
		InputReflected:  true,
		ResultReflected: true,
	}
}

// CRC16CCITT is the CRC-16/CCITT-FALSE variant common on serial framings.
func CRC16CCITT() CrcConfig {
	return CrcConfig{Bits: 16, Poly: 0x1021, Init: 0xFFFF}
}

func (c CrcConfig) withDefaults() CrcConfig {
	if c.Bits == 0 {
		d := CRC32()
		d.SwapEndianness = c.SwapEndianness
		d.SkipHeaderBytes = c.SkipHeaderBytes
		d.Discard = c.Discard
		return d
	}
	return c
}

// Validate reports configuration problems.
func (c CrcConfig) Validate() error {
	if c.Bits < 8 || c.Bits > 64 || c.Bits%8 != 0 {
		return fmt.Errorf("%w: width %d is not a multiple of 8 between 8 and 64", errspkg.ErrInvalidCRC, c.Bits)
	}
	if c.SkipHeaderBytes < 0 {
		return fmt.Errorf("%w: negative header length %d", errspkg.ErrInvalidCRC, c.SkipHeaderBytes)
	}
	return nil
}

// Bytes is the checksum size in bytes.
func (c CrcConfig) Bytes() int { return c.Bits / 8 }

// crcEngine is a table-driven byte-at-a-time CRC.
type crcEngine struct {
	cfg   CrcConfig
	mask  uint64
	table [256]uint64
}

func newCrcEngine(cfg CrcConfig) *crcEngine {
	e := &crcEngine{cfg: cfg}
	if cfg.Bits == 64 {
		e.mask = ^uint64(0)
	} else {
		e.mask = (uint64(1) << cfg.Bits) - 1
	}
	poly := cfg.Poly & e.mask
	if cfg.InputReflected {
		poly = e.reflect(poly)
		for i := range e.table {
			crc := uint64(i)
			for range 8 {
				if crc&1 != 0 {
					crc = (crc >> 1) ^ poly
				} else {
					crc >>= 1
				}
			}
			e.table[i] = crc & e.mask
		}
		return e
	}
	msb := uint64(1) << (cfg.Bits - 1)
	for i := range e.table {
		crc := uint64(i) << (cfg.Bits - 8)
		for range 8 {
			if crc&msb != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		e.table[i] = crc & e.mask
	}
	return e
}

func (e *crcEngine) reflect(word uint64) uint64 {
	var out uint64
	for i := 0; i < e.cfg.Bits; i++ {
		out = (out << 1) | (word & 1)
		word >>= 1
	}
	return out
}

func (e *crcEngine) compute(data []byte) uint64 {
	rem := e.cfg.Init & e.mask
	if e.cfg.InputReflected {
		// The reflected register holds Init bit-reversed.
		rem = e.reflect(rem)
		for _, b := range data {
			rem = e.table[byte(rem)^b] ^ (rem >> 8)
		}
	} else {
		shift := e.cfg.Bits - 8
		for _, b := range data {
			rem = (e.table[byte(rem>>shift)^b] ^ (rem << 8)) & e.mask
		}
	}
	if e.cfg.InputReflected != e.cfg.ResultReflected {
		rem = e.reflect(rem)
	}
	return (rem ^ e.cfg.FinalXor) & e.mask
}

// encode writes the checksum in the configured byte order.
func (e *crcEngine) encode(dst []byte, crc uint64) []byte {
	n := e.cfg.Bytes()
	for i := 0; i < n; i++ {
		shift := 8 * (n - 1 - i)
		if e.cfg.SwapEndianness {
			shift = 8 * i
		}
		dst = append(dst, byte(crc>>shift))
	}
	return dst
}
