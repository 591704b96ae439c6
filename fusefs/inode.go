package fusefs

import "sync"

// rootInode is the inode of the mount root.
const rootInode = 1

// inodeTable hands out stable inode numbers per path for the life of a
// mount. Blob stores have no inodes, so numbers are allocated on first
// sight and never reused.
type inodeTable struct {
	mu      sync.Mutex
	highest uint64
	byPath  map[string]uint64
}

func newInodeTable() *inodeTable {
	return &inodeTable{
		highest: rootInode,
		byPath:  map[string]uint64{"": rootInode},
	}
}

// get returns the inode of path, allocating one if needed.
func (t *inodeTable) get(path string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if inode, ok := t.byPath[path]; ok {
		return inode
	}
	t.highest++
	t.byPath[path] = t.highest
	return t.highest
}
