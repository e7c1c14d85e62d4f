package btree

import (
	"encoding/binary"
	"fmt"

	"github.com/litedb/litedb/internal/pagefs"
)

const treeMagic = 0xFB7CEE

const treeHeaderSize = 4 + 4 + 4 + 4 + 4 // magic, root_data_page, data_end, root_node, page_count

// Tree is an on-disk B-tree multimap: int64 -> []uint32, persisted across
// a header sub-file (the 20-byte tree header, per spec.md's bit-exact
// layout) and a duplicate-data sub-file that bump-allocates overflow-chain
// cells. Node pages are allocated and addressed directly by PageID,
// independent of either sub-file's own virtual addressing.
type Tree struct {
	fs      *pagefs.FileSystem
	name    string
	hdr     *pagefs.SubFile // stores the 20-byte tree header at virtual offset 0
	dupFile *pagefs.SubFile // bump-allocated duplicate-chain cell storage

	rootDataPage pagefs.PageID
	dataEnd      uint32
	rootNode     pagefs.PageID
	pageCount    uint32

	rootKeys []int64 // memoized copy of the root node's key vector
}

// New creates a fresh, empty tree under the given base name. Two
// sub-files are registered in the catalog: name (the header) and
// name+".dup" (the duplicate-chain region).
func New(fs *pagefs.FileSystem, name string) (*Tree, error) {
	hdr, err := fs.NewFile(name)
	if err != nil {
		return nil, fmt.Errorf("btree: create header file: %w", err)
	}
	dup, err := fs.NewFile(name + ".dup")
	if err != nil {
		return nil, fmt.Errorf("btree: create duplicate-data file: %w", err)
	}

	rootPage, err := fs.AllocatePage()
	if err != nil {
		return nil, err
	}
	t := &Tree{
		fs:           fs,
		name:         name,
		hdr:          hdr,
		dupFile:      dup,
		rootDataPage: dup.HeadPage(),
		dataEnd:      0,
		rootNode:     rootPage,
		pageCount:    1,
		rootKeys:     nil,
	}
	root := &node{page: rootPage, parent: pagefs.PageInvalid, indexInParent: -1, isLeaf: true}
	if err := t.writeNode(root); err != nil {
		return nil, err
	}
	if err := t.flushHeader(); err != nil {
		return nil, err
	}
	return t, nil
}

// Open reopens a tree previously created with New.
func Open(fs *pagefs.FileSystem, name string) (*Tree, error) {
	hdr, err := fs.OpenFile(name)
	if err != nil {
		return nil, fmt.Errorf("btree: open header file: %w", err)
	}
	dup, err := fs.OpenFile(name + ".dup")
	if err != nil {
		return nil, fmt.Errorf("btree: open duplicate-data file: %w", err)
	}
	t := &Tree{fs: fs, name: name, hdr: hdr, dupFile: dup}
	if err := t.readHeader(); err != nil {
		return nil, err
	}
	root, err := t.readNode(t.rootNode)
	if err != nil {
		return nil, err
	}
	t.rootKeys = append([]int64(nil), root.keys[:root.keyCount]...)
	return t, nil
}

func (t *Tree) readHeader() error {
	var buf [treeHeaderSize]byte
	if err := t.hdr.ReadAtOffset(buf[:], 0); err != nil {
		return fmt.Errorf("btree: read tree header: %w", err)
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != treeMagic {
		return fmt.Errorf("%w: tree header has bad magic %#x", ErrCorrupted, magic)
	}
	t.rootDataPage = pagefs.PageID(binary.LittleEndian.Uint32(buf[4:8]))
	t.dataEnd = binary.LittleEndian.Uint32(buf[8:12])
	t.rootNode = pagefs.PageID(binary.LittleEndian.Uint32(buf[12:16]))
	t.pageCount = binary.LittleEndian.Uint32(buf[16:20])
	return nil
}

func (t *Tree) flushHeader() error {
	var buf [treeHeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], treeMagic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(t.dupFile.HeadPage()))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(t.dupFile.Size()))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(t.rootNode))
	binary.LittleEndian.PutUint32(buf[16:20], t.pageCount)
	return t.hdr.WriteAtOffset(buf[:], 0)
}

// RootKeys returns the memoized copy of the root node's key vector,
// refreshed after every insert that touches the root. Exposed for tests
// and introspection rather than as a read-path shortcut: every lookup
// still re-reads the root page like any other node, trading the source's
// one-read-skipped micro-optimization for a single, uniform descent path.
func (t *Tree) RootKeys() []int64 { return t.rootKeys }

// Close releases both underlying sub-file handles.
func (t *Tree) Close() error {
	if err := t.fs.ReleaseFile(t.dupFile); err != nil {
		return err
	}
	return t.fs.ReleaseFile(t.hdr)
}

// HeaderHeadPage returns the head page of the tree's header sub-file, for
// callers (the table layer) that persist it as an informational
// descriptor field.
func (t *Tree) HeaderHeadPage() pagefs.PageID { return t.hdr.HeadPage() }

// Delete removes both sub-files backing the tree (the header and the
// duplicate-chain region).
func (t *Tree) Delete() error {
	if err := t.fs.DeleteFile(t.name + ".dup"); err != nil {
		return err
	}
	return t.fs.DeleteFile(t.name)
}

// Insert adds value under key, extending key's duplicate chain if the key
// already exists rather than creating a second tree key.
func (t *Tree) Insert(key int64, value uint32) error {
	root, err := t.readNode(t.rootNode)
	if err != nil {
		return err
	}
	n, idx, exact, err := t.descend(root, key)
	if err != nil {
		return err
	}
	if exact {
		return t.appendDuplicate(n, idx, value)
	}
	return t.insertAt(n, idx, key, dupCell{value: value, next: invalid32}, pagefs.PageInvalid)
}

// descend walks from n down to either the node holding an exact key match
// or the leaf where key would be inserted.
func (t *Tree) descend(n *node, key int64) (*node, int32, bool, error) {
	for {
		idx := lowerBound(&n.keys, n.keyCount, key)
		if idx < n.keyCount && n.keys[idx] == key {
			return n, idx, true, nil
		}
		if n.isLeaf {
			return n, idx, false, nil
		}
		child := n.children[idx]
		if child == pagefs.PageInvalid {
			return n, idx, false, nil
		}
		next, err := t.readNode(child)
		if err != nil {
			return nil, 0, false, err
		}
		n = next
	}
}

// Find returns every value inserted under key, in insertion order.
func (t *Tree) Find(key int64) ([]uint32, error) {
	var out []uint32
	_, err := t.FindOne(key, func(v uint32) (bool, error) {
		out = append(out, v)
		return false, nil
	})
	return out, err
}

// FindOne calls visit on each duplicate for key, in insertion order,
// stopping as soon as visit returns true. It reports whether any value
// caused visit to return true.
func (t *Tree) FindOne(key int64, visit func(uint32) (bool, error)) (bool, error) {
	root, err := t.readNode(t.rootNode)
	if err != nil {
		return false, err
	}
	n, idx, exact, err := t.descend(root, key)
	if err != nil {
		return false, err
	}
	if !exact {
		return false, nil
	}
	head := n.data[idx]
	stop, err := visit(head.value)
	if err != nil || stop {
		return stop, err
	}
	next := head.next
	for next != invalid32 {
		cell, err := t.readDupCell(next)
		if err != nil {
			return false, err
		}
		stop, err := visit(cell.value)
		if err != nil || stop {
			return stop, err
		}
		next = cell.next
	}
	return false, nil
}

func (t *Tree) readDupCell(off uint32) (dupCell, error) {
	var buf [8]byte
	if err := t.dupFile.ReadAtOffset(buf[:], int64(off)); err != nil {
		return dupCell{}, fmt.Errorf("btree: read duplicate cell at %d: %w", off, err)
	}
	return dupCell{
		value: binary.LittleEndian.Uint32(buf[0:4]),
		next:  binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

func (t *Tree) allocDupCell(value, next uint32) (uint32, error) {
	off := uint32(t.dupFile.Size())
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], value)
	binary.LittleEndian.PutUint32(buf[4:8], next)
	if err := t.dupFile.WriteAtOffset(buf[:], int64(off)); err != nil {
		return 0, fmt.Errorf("btree: alloc duplicate cell: %w", err)
	}
	if err := t.flushHeader(); err != nil {
		return 0, err
	}
	return off, nil
}

func (t *Tree) patchDupCellNext(off uint32, next uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], next)
	return t.dupFile.WriteAtOffset(buf[:], int64(off)+4)
}

// appendDuplicate walks n.data[idx]'s overflow chain to its end and links
// a new cell holding value.
func (t *Tree) appendDuplicate(n *node, idx int32, value uint32) error {
	next := n.data[idx].next
	if next == invalid32 {
		off, err := t.allocDupCell(value, invalid32)
		if err != nil {
			return err
		}
		n.data[idx].next = off
		return t.writeNode(n)
	}
	for {
		cell, err := t.readDupCell(next)
		if err != nil {
			return err
		}
		if cell.next == invalid32 {
			off, err := t.allocDupCell(value, invalid32)
			if err != nil {
				return err
			}
			return t.patchDupCellNext(next, off)
		}
		next = cell.next
	}
}
