package nameserver

// trie is a byte-wise index over filenames, mapping each name to its slot
// in the registry's files slice. Not safe for concurrent use; the registry
// mutex guards it.
type trie struct {
	root *trieNode
}

type trieNode struct {
	children map[byte]*trieNode
	index    int
	terminal bool
}

func newTrie() *trie {
	return &trie{root: &trieNode{children: make(map[byte]*trieNode)}}
}

// Insert maps name to index, overwriting any previous mapping.
func (t *trie) Insert(name string, index int) {
	n := t.root
	for i := 0; i < len(name); i++ {
		c := name[i]
		child, ok := n.children[c]
		if !ok {
			child = &trieNode{children: make(map[byte]*trieNode)}
			n.children[c] = child
		}
		n = child
	}
	n.terminal = true
	n.index = index
}

// Lookup returns the slot index for name.
func (t *trie) Lookup(name string) (int, bool) {
	n := t.root
	for i := 0; i < len(name); i++ {
		child, ok := n.children[name[i]]
		if !ok {
			return 0, false
		}
		n = child
	}
	if !n.terminal {
		return 0, false
	}
	return n.index, true
}

// Delete removes name and prunes nodes left empty by the removal.
func (t *trie) Delete(name string) {
	t.deleteFrom(t.root, name, 0)
}

// deleteFrom reports whether the node is prunable after the removal.
func (t *trie) deleteFrom(n *trieNode, name string, depth int) bool {
	if depth == len(name) {
		n.terminal = false
	} else {
		c := name[depth]
		child, ok := n.children[c]
		if !ok {
			return false
		}
		if t.deleteFrom(child, name, depth+1) {
			delete(n.children, c)
		}
	}
	return !n.terminal && len(n.children) == 0
}
