// Package dmap validates the structure of DMAP-encoded record streams, the
// self-describing binary format the radar files use. Validation is purely
// structural: it walks the record headers and checks that they chain cleanly
// to the end of the data, without decoding scalar or array values.
package dmap

import (
	"encoding/binary"
	"fmt"
)

const (
	// encodingIdentifier is the magic value opening every DMAP record.
	encodingIdentifier = 65537

	// headerBytes covers the four int32 header fields: encoding
	// identifier, block size, scalar count, array count.
	headerBytes = 16
)

// Validator checks DMAP record structure. The zero value is ready to use.
type Validator struct{}

// NewValidator returns a structural DMAP validator.
func NewValidator() Validator {
	return Validator{}
}

// Validate walks the record headers in data and returns an error describing
// the first structural defect found.
func (Validator) Validate(data []byte) error {
	offset := 0
	record := 0
	for offset < len(data) {
		record++
		rest := data[offset:]
		if len(rest) < headerBytes {
			return fmt.Errorf("record %d: truncated header, %d trailing bytes", record, len(rest))
		}

		code := int32(binary.LittleEndian.Uint32(rest[0:4]))
		size := int32(binary.LittleEndian.Uint32(rest[4:8]))
		scalars := int32(binary.LittleEndian.Uint32(rest[8:12]))
		arrays := int32(binary.LittleEndian.Uint32(rest[12:16]))

		if code != encodingIdentifier {
			return fmt.Errorf("record %d: bad encoding identifier %d", record, code)
		}
		if size < headerBytes || int(size) > len(rest) {
			return fmt.Errorf("record %d: block size %d out of bounds", record, size)
		}
		if scalars < 0 || arrays < 0 || scalars+arrays > size {
			return fmt.Errorf("record %d: implausible scalar/array counts %d/%d", record, scalars, arrays)
		}

		offset += int(size)
	}

	if record == 0 {
		return fmt.Errorf("no records")
	}
	return nil
}
