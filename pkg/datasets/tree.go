package datasets

// TreeNode is the slice of a dataset needed for tree traversal
type TreeNode struct {
	ID       int64
	RemoteID string
	ParentID *int64
}

// Index is an in-memory view of the dataset tree, built from a single
// snapshot query. It answers subtree and ancestry questions without
// issuing one query per level; the snapshot is only valid for the
// operation that built it.
type Index struct {
	nodes    map[int64]TreeNode
	children map[int64][]int64
}

// NewIndex builds a tree index from a node snapshot. Child slices keep
// the input order, so traversal order is deterministic when the
// snapshot is sorted.
func NewIndex(nodes []TreeNode) *Index {
	idx := &Index{
		nodes:    make(map[int64]TreeNode, len(nodes)),
		children: make(map[int64][]int64),
	}
	for _, node := range nodes {
		idx.nodes[node.ID] = node
		if node.ParentID != nil {
			idx.children[*node.ParentID] = append(idx.children[*node.ParentID], node.ID)
		}
	}
	return idx
}

// Contains reports whether the id is in the snapshot
func (idx *Index) Contains(id int64) bool {
	_, ok := idx.nodes[id]
	return ok
}

// Node returns the snapshot node for an id
func (idx *Index) Node(id int64) (TreeNode, bool) {
	node, ok := idx.nodes[id]
	return node, ok
}

// Children returns the direct child ids of a dataset
func (idx *Index) Children(id int64) []int64 {
	return idx.children[id]
}

// SubtreePostOrder returns the subtree rooted at id with every child
// listed before its parent. This is the deletion order: leaves first,
// the root last.
func (idx *Index) SubtreePostOrder(id int64) []TreeNode {
	if !idx.Contains(id) {
		return nil
	}
	var out []TreeNode
	var walk func(int64)
	walk = func(current int64) {
		for _, child := range idx.children[current] {
			walk(child)
		}
		out = append(out, idx.nodes[current])
	}
	walk(id)
	return out
}

// IsDescendant reports whether candidate lies strictly inside the
// subtree rooted at root. A node is not its own descendant.
func (idx *Index) IsDescendant(candidate, root int64) bool {
	if candidate == root {
		return false
	}
	node, ok := idx.nodes[candidate]
	if !ok {
		return false
	}
	for node.ParentID != nil {
		if *node.ParentID == root {
			return true
		}
		parent, ok := idx.nodes[*node.ParentID]
		if !ok {
			return false
		}
		node = parent
	}
	return false
}
