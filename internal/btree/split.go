package btree

import "github.com/litedb/litedb/internal/pagefs"

// insertAt inserts (key, data) at position idx in n's key vector. When n
// also gained a new right child from a split one level down, rightChild
// is placed immediately after n.children[idx]; leaf inserts pass
// pagefs.PageInvalid and leave n's children untouched.
//
// If n has room, the key is inserted in place. Otherwise n is split at
// the median and the median key is promoted into n's parent (or a fresh
// root is created if n had none), recursing as needed to propagate
// cascading splits up the tree.
func (t *Tree) insertAt(n *node, idx int32, key int64, data dupCell, rightChild pagefs.PageID) error {
	if n.keyCount < maxKeys {
		shiftKeysRight(n, idx)
		n.keys[idx] = key
		n.data[idx] = data
		if !n.isLeaf {
			if err := t.insertChildAt(n, idx+1, rightChild); err != nil {
				return err
			}
		}
		n.keyCount++
		if err := t.writeNode(n); err != nil {
			return err
		}
		if n.page == t.rootNode {
			t.rootKeys = append(t.rootKeys[:0], n.keys[:n.keyCount]...)
		}
		return nil
	}
	return t.split(n, idx, key, data, rightChild)
}

// shiftKeysRight makes room for an insertion at idx by shifting every key
// and data_head slot from idx onward one position to the right.
func shiftKeysRight(n *node, idx int32) {
	for i := n.keyCount; i > idx; i-- {
		n.keys[i] = n.keys[i-1]
		n.data[i] = n.data[i-1]
	}
}

// insertChildAt inserts child at n.children[idx], shifting subsequent
// children right and restamping every shifted child's parent/
// index_in_parent header to match its new position.
func (t *Tree) insertChildAt(n *node, idx int32, child pagefs.PageID) error {
	for i := n.keyCount + 1; i > idx; i-- {
		n.children[i] = n.children[i-1]
	}
	n.children[idx] = child
	for i := idx; i <= n.keyCount+1 && i < maxChildren; i++ {
		if n.children[i] == pagefs.PageInvalid {
			continue
		}
		if err := t.restampChild(n.children[i], n.page, i); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) restampChild(childPage, parentPage pagefs.PageID, index int32) error {
	child, err := t.readNode(childPage)
	if err != nil {
		return err
	}
	if child.parent == parentPage && child.indexInParent == index {
		return nil
	}
	child.parent = parentPage
	child.indexInParent = index
	return t.writeNode(child)
}

// split overflows n by first building its enlarged (M keys, M+1
// children) content with the new entry inserted at idx, then splits that
// enlarged content at the median: the left half stays on n's page, the
// right half is materialized on a freshly allocated page, and the median
// is promoted into n's parent.
func (t *Tree) split(n *node, idx int32, key int64, data dupCell, rightChild pagefs.PageID) error {
	var eKeys [branchFactor]int64
	var eData [branchFactor]dupCell
	var eChildren [branchFactor + 1]pagefs.PageID

	copy(eKeys[:idx], n.keys[:idx])
	eKeys[idx] = key
	copy(eKeys[idx+1:maxKeys+1], n.keys[idx:maxKeys])

	copy(eData[:idx], n.data[:idx])
	eData[idx] = data
	copy(eData[idx+1:maxKeys+1], n.data[idx:maxKeys])

	if !n.isLeaf {
		copy(eChildren[:idx+1], n.children[:idx+1])
		eChildren[idx+1] = rightChild
		copy(eChildren[idx+2:maxChildren+1], n.children[idx+1:maxChildren])
	}

	median := branchFactor / 2
	medianKey := eKeys[median]
	medianData := eData[median]

	rightPage, err := t.fs.AllocatePage()
	if err != nil {
		return err
	}
	t.pageCount++

	left := n
	left.keyCount = int32(median)
	copy(left.keys[:median], eKeys[:median])
	copy(left.data[:median], eData[:median])
	for i := median; i < maxKeys; i++ {
		left.keys[i] = 0
		left.data[i] = dupCell{}
	}
	if !n.isLeaf {
		copy(left.children[:median+1], eChildren[:median+1])
		for i := median + 1; i < maxChildren; i++ {
			left.children[i] = pagefs.PageInvalid
		}
	}

	right := &node{
		page:          rightPage,
		parent:        n.parent,
		indexInParent: n.indexInParent, // corrected below once we know the real parent
		isLeaf:        n.isLeaf,
		keyCount:      int32(branchFactor - median - 1),
	}
	for i := range right.children {
		right.children[i] = pagefs.PageInvalid
	}
	copy(right.keys[:right.keyCount], eKeys[median+1:branchFactor])
	copy(right.data[:right.keyCount], eData[median+1:branchFactor])
	if !n.isLeaf {
		copy(right.children[:right.keyCount+1], eChildren[median+1:branchFactor+1])
	}

	if err := t.writeNode(left); err != nil {
		return err
	}
	if err := t.writeNode(right); err != nil {
		return err
	}
	if !left.isLeaf {
		for i := int32(0); i <= left.keyCount; i++ {
			if left.children[i] == pagefs.PageInvalid {
				continue
			}
			if err := t.restampChild(left.children[i], left.page, i); err != nil {
				return err
			}
		}
	}
	if !right.isLeaf {
		for i := int32(0); i <= right.keyCount; i++ {
			if right.children[i] == pagefs.PageInvalid {
				continue
			}
			if err := t.restampChild(right.children[i], right.page, i); err != nil {
				return err
			}
		}
	}

	if n.page == t.rootNode {
		return t.promoteNewRoot(left, right, medianKey, medianData)
	}

	parent, err := t.readNode(n.parent)
	if err != nil {
		return err
	}
	pidx := lowerBound(&parent.keys, parent.keyCount, medianKey)
	right.indexInParent = pidx + 1
	if err := t.writeNode(right); err != nil {
		return err
	}
	return t.insertAt(parent, pidx, medianKey, medianData, right.page)
}

func (t *Tree) promoteNewRoot(left, right *node, medianKey int64, medianData dupCell) error {
	rootPage, err := t.fs.AllocatePage()
	if err != nil {
		return err
	}
	t.pageCount++

	root := &node{page: rootPage, parent: pagefs.PageInvalid, indexInParent: -1, isLeaf: false, keyCount: 1}
	root.keys[0] = medianKey
	root.data[0] = medianData
	for i := range root.children {
		root.children[i] = pagefs.PageInvalid
	}
	root.children[0] = left.page
	root.children[1] = right.page

	left.parent = rootPage
	left.indexInParent = 0
	right.parent = rootPage
	right.indexInParent = 1

	if err := t.writeNode(left); err != nil {
		return err
	}
	if err := t.writeNode(right); err != nil {
		return err
	}
	if err := t.writeNode(root); err != nil {
		return err
	}

	t.rootNode = rootPage
	t.rootKeys = append(t.rootKeys[:0], medianKey)
	return t.flushHeader()
}
