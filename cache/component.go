package cache

import (
	"encoding/binary"
	"fmt"
)

// Component model section carrying an embedded core module.
const sectionCoreModule byte = 1

// IsComponent reports whether data is a component-model binary rather than a
// plain core module. Both share the \0asm magic; components use a layer/
// version field above 1.
func IsComponent(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	if data[0] != 0x00 || data[1] != 0x61 || data[2] != 0x73 || data[3] != 0x6D {
		return false
	}
	return binary.LittleEndian.Uint32(data[4:8]) > 1
}

// ExtractCore returns the first embedded core module of a component binary.
// Plain core modules are returned unchanged.
func ExtractCore(data []byte) ([]byte, error) {
	if !IsComponent(data) {
		if len(data) < 8 {
			return nil, fmt.Errorf("binary too short (%d bytes)", len(data))
		}
		return data, nil
	}

	pos := 8
	for pos < len(data) {
		sectionID := data[pos]
		pos++

		size, n, err := readLEB128(data[pos:])
		if err != nil {
			return nil, fmt.Errorf("section size at offset %d: %w", pos, err)
		}
		pos += n

		if pos+int(size) > len(data) {
			return nil, fmt.Errorf("section %d size %d exceeds binary size %d", sectionID, size, len(data))
		}

		if sectionID == sectionCoreModule {
			return data[pos : pos+int(size)], nil
		}
		pos += int(size)
	}

	return nil, fmt.Errorf("component has no core module section")
}

// readLEB128 decodes an unsigned LEB128 value, returning the value and the
// number of bytes consumed.
func readLEB128(data []byte) (uint32, int, error) {
	var result uint32
	var shift uint
	for i := 0; i < len(data); i++ {
		b := data[i]
		if shift == 28 && b > 0x0F {
			return 0, 0, fmt.Errorf("leb128 value overflows uint32")
		}
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
		if shift >= 32 {
			return 0, 0, fmt.Errorf("leb128 value too long")
		}
	}
	return 0, 0, fmt.Errorf("unexpected end of leb128 value")
}
