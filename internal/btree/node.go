// Package btree implements the on-disk B-tree multimap that every index
// (primary key lookup, secondary index, string-interner hash table) is
// built on: int64 key -> list of uint32 values, one node per page,
// duplicate values chained off a per-key overflow list instead of the
// tree growing extra keys for repeated ones.
package btree

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/litedb/litedb/internal/pagefs"
)

// branchFactor (M) is derived from the page size exactly as spec.md
// requires: each node reserves room for M-1 keys, M-1 duplicate-chain
// heads and M children.
const branchFactor = pagefs.PageSize/(8+8+4) - 1

const (
	maxKeys     = branchFactor - 1
	maxChildren = branchFactor
)

const invalid32 = uint32(pagefs.PageInvalid)

const (
	nodeHeaderSize = 4 + 4 + 1 // parent, index_in_parent, is_leaf
	nodeKeysOffset = nodeHeaderSize + 4
	nodeKeysSize   = 8 * maxKeys
	nodeDataOffset = nodeKeysOffset + nodeKeysSize
	nodeDataSize   = 8 * maxKeys
	nodeChOffset   = nodeDataOffset + nodeDataSize
	nodeChSize     = 4 * maxChildren
	nodeSize       = nodeChOffset + nodeChSize
)

// ErrCorrupted mirrors pagefs.ErrCorrupted for tree-local structural checks.
var ErrCorrupted = errors.New("btree: corrupted structure")

// dupCell is one link of a duplicate-value overflow chain, stored either
// inline in a node's data_head slot or, for the 2nd+ duplicate, appended
// to the tree's duplicate-data sub-file.
type dupCell struct {
	value uint32
	next  uint32 // invalid32 terminates the chain
}

// node is the in-memory decode of one page's worth of B-tree node.
type node struct {
	page          pagefs.PageID
	parent        pagefs.PageID
	indexInParent int32
	isLeaf        bool
	keyCount      int32
	keys          [maxKeys]int64
	data          [maxKeys]dupCell
	children      [maxChildren]pagefs.PageID
}

func (t *Tree) readNode(page pagefs.PageID) (*node, error) {
	var buf [nodeSize]byte
	if err := t.fs.Backend().ReadAt(buf[:], int64(page)*pagefs.PageSize); err != nil {
		return nil, fmt.Errorf("btree: read node %d: %w", page, err)
	}
	n := &node{page: page}
	n.parent = pagefs.PageID(binary.LittleEndian.Uint32(buf[0:4]))
	n.indexInParent = int32(binary.LittleEndian.Uint32(buf[4:8]))
	n.isLeaf = buf[8] != 0
	n.keyCount = int32(binary.LittleEndian.Uint32(buf[9:13]))
	if n.keyCount < 0 || int(n.keyCount) > maxKeys {
		return nil, fmt.Errorf("%w: node %d has out-of-range key_count %d", ErrCorrupted, page, n.keyCount)
	}
	for i := 0; i < maxKeys; i++ {
		off := nodeKeysOffset + i*8
		n.keys[i] = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
	}
	for i := 0; i < maxKeys; i++ {
		off := nodeDataOffset + i*8
		n.data[i] = dupCell{
			value: binary.LittleEndian.Uint32(buf[off : off+4]),
			next:  binary.LittleEndian.Uint32(buf[off+4 : off+8]),
		}
	}
	for i := 0; i < maxChildren; i++ {
		off := nodeChOffset + i*4
		n.children[i] = pagefs.PageID(binary.LittleEndian.Uint32(buf[off : off+4]))
	}
	return n, nil
}

func (t *Tree) writeNode(n *node) error {
	var buf [nodeSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(n.parent))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(n.indexInParent))
	if n.isLeaf {
		buf[8] = 1
	}
	binary.LittleEndian.PutUint32(buf[9:13], uint32(n.keyCount))
	for i := 0; i < maxKeys; i++ {
		off := nodeKeysOffset + i*8
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(n.keys[i]))
	}
	for i := 0; i < maxKeys; i++ {
		off := nodeDataOffset + i*8
		binary.LittleEndian.PutUint32(buf[off:off+4], n.data[i].value)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], n.data[i].next)
	}
	for i := 0; i < maxChildren; i++ {
		off := nodeChOffset + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(n.children[i]))
	}
	if err := t.fs.Backend().WriteAt(buf[:], int64(n.page)*pagefs.PageSize); err != nil {
		return fmt.Errorf("btree: write node %d: %w", n.page, err)
	}
	return nil
}

// lowerBound returns the first index in keys[:n] whose value is >= key, or
// n if every key is smaller.
func lowerBound(keys *[maxKeys]int64, n int32, key int64) int32 {
	lo, hi := int32(0), n
	for lo < hi {
		mid := (lo + hi) / 2
		if keys[mid] < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
