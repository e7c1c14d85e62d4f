// Package interner implements the string table: a content-addressed
// string -> 32-bit id mapping backed by a raw strings sub-file and a
// B-tree over a 64-bit composite hash of each string.
package interner

import (
	"hash/crc32"
	"hash/fnv"

	"github.com/litedb/litedb/internal/btree"
	"github.com/litedb/litedb/internal/pagefs"
)

const (
	stringsFileName = "$strings"
	hashTreeName    = "$strings.hash"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Interner assigns a stable 32-bit id (a byte offset into the strings
// sub-file) to every distinct string it's asked to intern. Ids are stable
// across process restarts because they're literal file offsets.
type Interner struct {
	fs      *pagefs.FileSystem
	strings *pagefs.SubFile
	hashes  *btree.Tree
}

// New creates the two named sub-files ($strings and $strings.hash) a
// fresh database needs for its global interner.
func New(fs *pagefs.FileSystem) (*Interner, error) {
	sf, err := fs.NewFile(stringsFileName)
	if err != nil {
		return nil, err
	}
	tr, err := btree.New(fs, hashTreeName)
	if err != nil {
		return nil, err
	}
	return &Interner{fs: fs, strings: sf, hashes: tr}, nil
}

// Open reopens a previously created interner.
func Open(fs *pagefs.FileSystem) (*Interner, error) {
	sf, err := fs.OpenFile(stringsFileName)
	if err != nil {
		return nil, err
	}
	tr, err := btree.Open(fs, hashTreeName)
	if err != nil {
		return nil, err
	}
	return &Interner{fs: fs, strings: sf, hashes: tr}, nil
}

// Close releases the interner's sub-file handles.
func (in *Interner) Close() error {
	if err := in.hashes.Close(); err != nil {
		return err
	}
	return in.fs.ReleaseFile(in.strings)
}

// compositeHash packs (h1, h2) = (FNV-1a, CRC32-Castagnoli) of s into one
// int64 B-tree key, per spec.md's "hash composed (h1: u32, h2: u32) of the
// string (hash ⊕ CRC32)".
func compositeHash(s string) int64 {
	f := fnv.New32a()
	f.Write([]byte(s))
	h1 := f.Sum32()
	h2 := crc32.Checksum([]byte(s), crcTable)
	return int64(h1)<<32 | int64(h2)
}

// FindOrCreate returns the stable id for s, interning it if this is the
// first time it's been seen. Hash collisions are resolved by reading back
// and comparing each candidate's actual bytes.
func (in *Interner) FindOrCreate(s string) (uint32, error) {
	hash := compositeHash(s)

	candidates, err := in.hashes.Find(hash)
	if err != nil {
		return 0, err
	}
	for _, offset := range candidates {
		existing, err := in.readAt(offset)
		if err != nil {
			return 0, err
		}
		if existing == s {
			return offset, nil
		}
	}

	offset := uint32(in.strings.Size())
	in.strings.Seek(int64(offset))
	if err := in.strings.WriteString(s); err != nil {
		return 0, err
	}
	if err := in.hashes.Insert(hash, offset); err != nil {
		return 0, err
	}
	return offset, nil
}

// Get resolves a previously interned id back to its string.
func (in *Interner) Get(id uint32) (string, error) {
	return in.readAt(id)
}

func (in *Interner) readAt(offset uint32) (string, error) {
	in.strings.Seek(int64(offset))
	return in.strings.ReadString()
}
