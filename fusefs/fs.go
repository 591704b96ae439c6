package fusefs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"sync"
	"syscall"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/dendrascience/dendra-blobfs/blobfs"
	"github.com/dendrascience/dendra-blobfs/blobstore"
	"go.uber.org/zap"
)

var (
	_ fs.FS                 = (*FS)(nil)
	_ fs.NodeStringLookuper = (*Dir)(nil)
	_ fs.HandleReadDirAller = (*Dir)(nil)
	_ fs.NodeCreater        = (*Dir)(nil)
	_ fs.NodeMkdirer        = (*Dir)(nil)
	_ fs.NodeRemover        = (*Dir)(nil)
	_ fs.HandleReadAller    = (*File)(nil)
	_ fs.HandleWriter       = (*File)(nil)
	_ fs.HandleFlusher      = (*File)(nil)
	_ fs.NodeFsyncer        = (*File)(nil)
	_ fs.NodeSetattrer      = (*File)(nil)
)

// FS implements the FUSE view of a blob container
type FS struct {
	files   *blobfs.FileSystem
	log     *zap.Logger
	inodes  *inodeTable
	mu      sync.Mutex      // serializes calls into files
	pending map[string]bool // directories made by mkdir that hold no blob yet
}

// New wraps files for serving with bazil.org/fuse.
func New(files *blobfs.FileSystem, log *zap.Logger) *FS {
	if log == nil {
		log = zap.NewNop()
	}
	return &FS{
		files:   files,
		log:     log,
		inodes:  newInodeTable(),
		pending: make(map[string]bool),
	}
}

// Root returns the root directory node
func (f *FS) Root() (fs.Node, error) {
	return &Dir{fs: f}, nil
}

// errno maps facade errors onto FUSE error numbers.
func (f *FS) errno(op, p string, err error) error {
	if errors.Is(err, blobfs.ErrNotFound) {
		return syscall.ENOENT
	}
	f.log.Error("fuse operation failed", zap.String("op", op), zap.String("path", p), zap.Error(err))
	return syscall.EIO
}

func (f *FS) isDir(ctx context.Context, parent, name string) (bool, error) {
	if f.pending[path.Join(parent, name)] {
		return true, nil
	}
	dirs, err := f.files.GetDirectories(ctx, parent)
	if err != nil {
		return false, err
	}
	for _, d := range dirs {
		if d == name {
			return true, nil
		}
	}
	return false, nil
}

// Dir implements both Node and Handle for directories
type Dir struct {
	fs   *FS
	path string // relative path, "" for the root
}

// Attr returns directory attributes
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	now := time.Now()
	a.Inode = d.fs.inodes.get(d.path)
	a.Mode = os.ModeDir | 0o755
	a.Mtime = now
	a.Ctime = now
	a.Atime = now
	return nil
}

// Lookup resolves a name to a file or a virtual directory. Files are found
// through the redirect index, so relocated blobs answer at their old path.
func (d *Dir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	p := path.Join(d.path, name)
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	if d.fs.files.FileExists(ctx, p) {
		props, err := d.fs.files.Stat(ctx, p)
		if err != nil {
			return nil, d.fs.errno("lookup", p, err)
		}
		return d.fs.newFile(p, props), nil
	}

	ok, err := d.fs.isDir(ctx, d.path, name)
	if err != nil {
		return nil, d.fs.errno("lookup", p, err)
	}
	if ok {
		return &Dir{fs: d.fs, path: p}, nil
	}
	return nil, syscall.ENOENT
}

// ReadDirAll lists the virtual directories and files directly under d
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	dirs, err := d.fs.files.GetDirectories(ctx, d.path)
	if err != nil {
		return nil, d.fs.errno("readdir", d.path, err)
	}
	files, err := d.fs.files.GetFiles(ctx, d.path, "")
	if err != nil {
		return nil, d.fs.errno("readdir", d.path, err)
	}

	seen := make(map[string]bool, len(dirs))
	var dirents []fuse.Dirent
	addDir := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		dirents = append(dirents, fuse.Dirent{
			Inode: d.fs.inodes.get(path.Join(d.path, name)),
			Name:  name,
			Type:  fuse.DT_Dir,
		})
	}
	for _, name := range dirs {
		addDir(name)
	}
	for p := range d.fs.pending {
		if path.Dir(p) == dirOf(d.path) {
			addDir(path.Base(p))
		}
	}
	for _, name := range files {
		dirents = append(dirents, fuse.Dirent{
			Inode: d.fs.inodes.get(name),
			Name:  blobstore.DirectoryName(name),
			Type:  fuse.DT_File,
		})
	}
	sort.Slice(dirents, func(i, j int) bool { return dirents[i].Name < dirents[j].Name })
	return dirents, nil
}

// dirOf is the path.Dir form of a directory path, "." for the root.
func dirOf(p string) string {
	if p == "" {
		return "."
	}
	return p
}

// Create creates a new file. Nothing is uploaded until the handle is
// flushed.
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	p := path.Join(d.path, req.Name)
	file := d.fs.newFile(p, blobstore.Properties{})
	file.data = []byte{}
	file.dirty = true
	file.modified = time.Now()

	file.fillAttr(&resp.Attr)
	return file, file, nil
}

// Mkdir creates a directory that exists until a file lands in it or the
// mount goes away
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fs.Node, error) {
	p := path.Join(d.path, req.Name)
	d.fs.mu.Lock()
	d.fs.pending[p] = true
	d.fs.mu.Unlock()
	return &Dir{fs: d.fs, path: p}, nil
}

// Remove deletes a file or a whole directory. Legacy folders protected by
// the watermark report EPERM.
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	p := path.Join(d.path, req.Name)
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	if !req.Dir {
		if err := d.fs.files.DeleteFile(ctx, p); err != nil {
			return d.fs.errno("remove", p, err)
		}
		return nil
	}

	delete(d.fs.pending, p)
	if err := d.fs.files.DeleteDirectory(ctx, p, true); err != nil {
		return d.fs.errno("rmdir", p, err)
	}
	if still, err := d.fs.isDir(ctx, d.path, req.Name); err == nil && still {
		return syscall.EPERM
	}
	return nil
}

// File implements both Node and Handle for files
type File struct {
	fs       *FS
	path     string
	inode    uint64
	props    blobstore.Properties
	data     []byte
	loaded   bool // data holds the stored content
	dirty    bool // data has changes not yet uploaded
	modified time.Time
	mu       sync.RWMutex
}

func (f *FS) newFile(p string, props blobstore.Properties) *File {
	return &File{fs: f, path: p, inode: f.inodes.get(p), props: props}
}

// fillAttr reports the attributes of f. Callers hold f.mu.
func (f *File) fillAttr(a *fuse.Attr) {
	a.Inode = f.inode
	a.Mode = 0o644
	a.Atime = time.Now()
	if f.loaded || f.dirty {
		a.Size = uint64(len(f.data))
	} else {
		a.Size = uint64(f.props.Size)
	}
	a.Mtime = f.props.LastModified
	if !f.modified.IsZero() {
		a.Mtime = f.modified
	}
	a.Ctime = f.props.Created
	if a.Ctime.IsZero() {
		a.Ctime = a.Mtime
	}
}

// Attr returns file attributes
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	f.fillAttr(a)
	return nil
}

// load reads the stored content once. Callers hold f.mu for writing.
func (f *File) load(ctx context.Context) error {
	if f.loaded || f.dirty {
		return nil
	}
	f.fs.mu.Lock()
	r, err := f.fs.files.OpenFile(ctx, f.path)
	f.fs.mu.Unlock()
	if err != nil {
		return f.fs.errno("read", f.path, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return f.fs.errno("read", f.path, err)
	}
	f.data = data
	f.loaded = true
	return nil
}

// ReadAll reads the entire file content
func (f *File) ReadAll(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(ctx); err != nil {
		return nil, err
	}
	return f.data, nil
}

// Write writes data to the file
func (f *File) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.load(ctx); err != nil {
		return err
	}

	newLen := int(req.Offset) + len(req.Data)
	if newLen > len(f.data) {
		newData := make([]byte, newLen)
		copy(newData, f.data)
		f.data = newData
	}
	copy(f.data[req.Offset:], req.Data)
	resp.Size = len(req.Data)

	f.modified = time.Now()
	f.dirty = true
	return nil
}

// Flush uploads pending changes
func (f *File) Flush(ctx context.Context, req *fuse.FlushRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirty {
		return nil
	}

	f.fs.mu.Lock()
	err := f.fs.files.AddFile(ctx, f.path, bytes.NewReader(f.data), true)
	if err == nil {
		delete(f.fs.pending, path.Dir(f.path))
	}
	f.fs.mu.Unlock()
	if err != nil {
		return f.fs.errno("flush", f.path, err)
	}

	f.dirty = false
	f.loaded = true
	f.props.Size = int64(len(f.data))
	f.props.LastModified = f.modified
	return nil
}

// Fsync forces synchronization
func (f *File) Fsync(ctx context.Context, req *fuse.FsyncRequest) error {
	return f.Flush(ctx, &fuse.FlushRequest{})
}

// Setattr truncates or extends the file and sets its modification time.
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if req.Valid.Size() {
		if err := f.load(ctx); err != nil {
			return err
		}
		if req.Size < uint64(len(f.data)) {
			f.data = f.data[:req.Size]
		} else if req.Size > uint64(len(f.data)) {
			newData := make([]byte, req.Size)
			copy(newData, f.data)
			f.data = newData
		}
		f.modified = time.Now()
		f.dirty = true
	}

	if req.Valid.Mtime() {
		f.modified = req.Mtime
	}

	f.fillAttr(&resp.Attr)
	return nil
}
