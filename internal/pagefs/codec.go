package pagefs

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// utf16LE is the code-unit codec used for every string persisted in a
// sub-file: the catalog's names and, via the interner, table key material.
// The source encodes strings as raw UTF-16 code units; golang.org/x/text
// gives us a well-tested codec instead of hand-rolling surrogate pairs.
var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func encodeUTF16(s string) ([]byte, error) {
	return utf16LE.NewEncoder().Bytes([]byte(s))
}

func decodeUTF16(units []byte) (string, error) {
	out, err := utf16LE.NewDecoder().Bytes(units)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// WriteU32 writes a little-endian u32 at the cursor.
func (s *SubFile) WriteU32(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return s.Write(buf[:])
}

// ReadU32 reads a little-endian u32 from the cursor.
func (s *SubFile) ReadU32() (uint32, error) {
	var buf [4]byte
	if err := s.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteI64 writes a little-endian i64 at the cursor.
func (s *SubFile) WriteI64(v int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return s.Write(buf[:])
}

// ReadI64 reads a little-endian i64 from the cursor.
func (s *SubFile) ReadI64() (int64, error) {
	var buf [8]byte
	if err := s.Read(buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

// WritePageID writes a PageID as a little-endian u32.
func (s *SubFile) WritePageID(id PageID) error { return s.WriteU32(uint32(id)) }

// ReadPageID reads a PageID from a little-endian u32.
func (s *SubFile) ReadPageID() (PageID, error) {
	v, err := s.ReadU32()
	return PageID(v), err
}

// WriteString writes s as a length-prefixed (code-unit count including a
// trailing NUL) UTF-16LE byte string.
func (s *SubFile) WriteString(str string) error {
	units, err := encodeUTF16(str)
	if err != nil {
		return fmt.Errorf("pagefs: encode string: %w", err)
	}
	count := uint32(len(units)/2 + 1)
	if err := s.WriteU32(count); err != nil {
		return err
	}
	if err := s.Write(units); err != nil {
		return err
	}
	var nul [2]byte
	return s.Write(nul[:])
}

// ReadString reverses WriteString.
func (s *SubFile) ReadString() (string, error) {
	count, err := s.ReadU32()
	if err != nil {
		return "", err
	}
	if count == 0 {
		return "", nil
	}
	buf := make([]byte, int(count)*2)
	if err := s.Read(buf); err != nil {
		return "", err
	}
	// Drop the trailing NUL code unit before decoding.
	return decodeUTF16(buf[:len(buf)-2])
}
