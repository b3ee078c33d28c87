package index

import (
	"sync"

	"github.com/mnohosten/nora-db/pkg/document"
)

// BTree is an in-memory B+ tree mapping keys to posting lists of document
// ids. Keys are document values (or composite keys for compound indexes)
// ordered by the engine's total value order.
type BTree struct {
	root         *BTreeNode
	order        int // Maximum number of keys per node
	mu           sync.RWMutex
	size         int
	height       int
	lastSplitKey interface{} // Separator/promoted key from the most recent split
}

// BTreeNode represents a node in the B+ tree
type BTreeNode struct {
	isLeaf   bool
	keys     []interface{}
	postings [][]string   // Only used in leaf nodes
	children []*BTreeNode // Only used in internal nodes
	next     *BTreeNode   // Only used in leaf nodes (linked list)
	parent   *BTreeNode
}

// NewBTree creates a new B+ tree with the given order
func NewBTree(order int) *BTree {
	if order < 3 {
		order = 3 // Minimum order
	}

	return &BTree{
		root: &BTreeNode{
			isLeaf:   true,
			keys:     make([]interface{}, 0),
			postings: make([][]string, 0),
		},
		order:  order,
		size:   0,
		height: 1,
	}
}

// Add records id under key, creating the key when absent
func (bt *BTree) Add(key interface{}, id string) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	if leaf, pos, found := bt.findKey(bt.root, key); found {
		for _, existing := range leaf.postings[pos] {
			if existing == id {
				return
			}
		}
		leaf.postings[pos] = append(leaf.postings[pos], id)
		return
	}

	newRoot := bt.insertIntoNode(bt.root, key, []string{id})
	if newRoot != nil {
		bt.root = newRoot
		bt.height++
	}
	bt.size++
}

// Remove deletes id from the posting list of key; the key itself is removed
// once its posting list is empty
func (bt *BTree) Remove(key interface{}, id string) error {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	leaf, pos, found := bt.findKey(bt.root, key)
	if !found {
		return ErrKeyNotFound
	}

	ids := leaf.postings[pos]
	for i, existing := range ids {
		if existing == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	leaf.postings[pos] = ids

	if len(ids) == 0 {
		// Remove the key from the leaf without rebalancing; underflowed
		// leaves stay linked and scans remain correct
		leaf.keys = append(leaf.keys[:pos], leaf.keys[pos+1:]...)
		leaf.postings = append(leaf.postings[:pos], leaf.postings[pos+1:]...)
		bt.size--
	}

	return nil
}

// Lookup returns the posting list for an exact key match
func (bt *BTree) Lookup(key interface{}) ([]string, bool) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	leaf, pos, found := bt.findKey(bt.root, key)
	if !found {
		return nil, false
	}
	ids := make([]string, len(leaf.postings[pos]))
	copy(ids, leaf.postings[pos])
	return ids, true
}

// RangeScan returns all keys and posting lists in [start, end]; nil bounds
// are unbounded
func (bt *BTree) RangeScan(start, end interface{}) ([]interface{}, [][]string) {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	keys := make([]interface{}, 0)
	postings := make([][]string, 0)

	var leaf *BTreeNode
	if start == nil {
		leaf = bt.root
		for !leaf.isLeaf {
			leaf = leaf.children[0]
		}
	} else {
		leaf = bt.findLeaf(bt.root, start)
	}

	for leaf != nil {
		for i, k := range leaf.keys {
			if start != nil && bt.compare(k, start) < 0 {
				continue
			}
			if end != nil && bt.compare(k, end) > 0 {
				return keys, postings
			}
			keys = append(keys, k)
			ids := make([]string, len(leaf.postings[i]))
			copy(ids, leaf.postings[i])
			postings = append(postings, ids)
		}
		leaf = leaf.next
	}

	return keys, postings
}

// Size returns the number of distinct keys in the tree
func (bt *BTree) Size() int {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.size
}

// Height returns the height of the tree
func (bt *BTree) Height() int {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.height
}

// findKey locates the leaf and position holding key
func (bt *BTree) findKey(node *BTreeNode, key interface{}) (*BTreeNode, int, bool) {
	if node.isLeaf {
		for i, k := range node.keys {
			cmp := bt.compare(key, k)
			if cmp == 0 {
				return node, i, true
			}
			if cmp < 0 {
				return nil, 0, false
			}
		}
		return nil, 0, false
	}

	pos := bt.findPosition(node.keys, key)
	return bt.findKey(node.children[pos], key)
}

// insertIntoNode inserts a key and posting list, returns new root if split
func (bt *BTree) insertIntoNode(node *BTreeNode, key interface{}, ids []string) *BTreeNode {
	if node.isLeaf {
		return bt.insertIntoLeaf(node, key, ids)
	}
	return bt.insertIntoInternal(node, key, ids)
}

// insertIntoLeaf inserts into a leaf node
func (bt *BTree) insertIntoLeaf(leaf *BTreeNode, key interface{}, ids []string) *BTreeNode {
	pos := bt.findPosition(leaf.keys, key)

	leaf.keys = append(leaf.keys[:pos], append([]interface{}{key}, leaf.keys[pos:]...)...)
	leaf.postings = append(leaf.postings[:pos], append([][]string{ids}, leaf.postings[pos:]...)...)

	if len(leaf.keys) >= bt.order {
		return bt.splitLeaf(leaf)
	}

	return nil
}

// insertIntoInternal inserts into an internal node
func (bt *BTree) insertIntoInternal(node *BTreeNode, key interface{}, ids []string) *BTreeNode {
	pos := bt.findPosition(node.keys, key)
	child := node.children[pos]

	newChild := bt.insertIntoNode(child, key, ids)
	if newChild == nil {
		return nil
	}

	// Split occurred, use the stored split key
	splitKey := bt.lastSplitKey
	pos = bt.findPosition(node.keys, splitKey)

	node.keys = append(node.keys[:pos], append([]interface{}{splitKey}, node.keys[pos:]...)...)
	node.children = append(node.children[:pos+1], append([]*BTreeNode{newChild}, node.children[pos+1:]...)...)

	if len(node.keys) >= bt.order {
		return bt.splitInternal(node)
	}

	return nil
}

// splitLeaf splits a leaf node and returns the new root when the leaf was it
func (bt *BTree) splitLeaf(leaf *BTreeNode) *BTreeNode {
	mid := len(leaf.keys) / 2

	newLeaf := &BTreeNode{
		isLeaf:   true,
		keys:     append([]interface{}{}, leaf.keys[mid:]...),
		postings: append([][]string{}, leaf.postings[mid:]...),
		next:     leaf.next,
		parent:   leaf.parent,
	}

	separatorKey := newLeaf.keys[0]

	leaf.keys = leaf.keys[:mid]
	leaf.postings = leaf.postings[:mid]
	leaf.next = newLeaf

	if leaf.parent == nil {
		newRoot := &BTreeNode{
			isLeaf:   false,
			keys:     []interface{}{separatorKey},
			children: []*BTreeNode{leaf, newLeaf},
		}
		leaf.parent = newRoot
		newLeaf.parent = newRoot
		return newRoot
	}

	bt.lastSplitKey = separatorKey
	return newLeaf
}

// splitInternal splits an internal node and returns the new root when needed
func (bt *BTree) splitInternal(node *BTreeNode) *BTreeNode {
	mid := len(node.keys) / 2

	promoteKey := node.keys[mid]

	newNode := &BTreeNode{
		isLeaf:   false,
		keys:     append([]interface{}{}, node.keys[mid+1:]...),
		children: append([]*BTreeNode{}, node.children[mid+1:]...),
		parent:   node.parent,
	}

	for _, child := range newNode.children {
		child.parent = newNode
	}

	node.keys = node.keys[:mid]
	node.children = node.children[:mid+1]

	if node.parent == nil {
		newRoot := &BTreeNode{
			isLeaf:   false,
			keys:     []interface{}{promoteKey},
			children: []*BTreeNode{node, newNode},
		}
		node.parent = newRoot
		newNode.parent = newRoot
		return newRoot
	}

	bt.lastSplitKey = promoteKey
	return newNode
}

// findLeaf finds the leaf node that should contain the key
func (bt *BTree) findLeaf(node *BTreeNode, key interface{}) *BTreeNode {
	if node.isLeaf {
		return node
	}

	pos := bt.findPosition(node.keys, key)
	return bt.findLeaf(node.children[pos], key)
}

// findPosition finds the position where key should be inserted
func (bt *BTree) findPosition(keys []interface{}, key interface{}) int {
	for i, k := range keys {
		if bt.compare(key, k) < 0 {
			return i
		}
	}
	return len(keys)
}

// compare orders two index keys; composite keys compare field by field, all
// other keys use the engine's total value order
func (bt *BTree) compare(a, b interface{}) int {
	if va, ok := a.(*CompositeKey); ok {
		if vb, ok := b.(*CompositeKey); ok {
			return va.Compare(vb)
		}
	}
	return document.Compare(a, b)
}
