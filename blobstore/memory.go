package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Fault lets tests fail a single operation. It is called with the operation
// name ("exists", "stat", "upload", "open", "delete", "list", "copy",
// "copystatus") and the blob name; a non-nil return aborts the call.
type Fault func(op, name string) error

type memBlob struct {
	data  []byte
	props Properties
}

type memCopy struct {
	remaining int
	status    CopyStatus
}

// Memory is an in-process Backend. The zero value is not usable; call
// NewMemory.
type Memory struct {
	// CopyPolls is the number of CopyStatus calls that report CopyPending
	// before a copy completes.
	CopyPolls int
	// CopyResult is the terminal status of completed copies. Defaults to
	// CopySuccess.
	CopyResult CopyStatus
	Fault      Fault
	Now        func() time.Time

	mu        sync.Mutex
	container bool
	public    bool
	blobs     map[string]*memBlob
	copies    map[string]*memCopy
	calls     map[string]int
}

// NewMemory returns an empty store whose container does not exist yet.
func NewMemory() *Memory {
	return &Memory{
		CopyResult: CopySuccess,
		Now:        time.Now,
		blobs:      make(map[string]*memBlob),
		copies:     make(map[string]*memCopy),
		calls:      make(map[string]int),
	}
}

// Calls reports how many times op was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// ContainerExists reports whether EnsureContainer has run, and with which ACL.
func (m *Memory) ContainerExists() (exists, publicRead bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.container, m.public
}

// Names returns every stored blob name in lexical order.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedNames("")
}

// Put stores data directly, bypassing faults and call counting.
func (m *Memory) Put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	m.blobs[name] = &memBlob{
		data:  append([]byte(nil), data...),
		props: Properties{Size: int64(len(data)), Created: now, LastModified: now},
	}
}

func (m *Memory) enter(op, name string) error {
	m.calls[op]++
	if m.Fault != nil {
		return m.Fault(op, name)
	}
	return nil
}

func (m *Memory) sortedNames(prefix string) []string {
	names := make([]string, 0, len(m.blobs))
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (m *Memory) EnsureContainer(ctx context.Context, publicRead bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("container", ""); err != nil {
		return err
	}
	if !m.container {
		m.container = true
		m.public = publicRead
	}
	return nil
}

func (m *Memory) Exists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("exists", name); err != nil {
		return false, err
	}
	_, ok := m.blobs[name]
	return ok, nil
}

func (m *Memory) Stat(ctx context.Context, name string) (Properties, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("stat", name); err != nil {
		return Properties{}, err
	}
	b, ok := m.blobs[name]
	if !ok {
		return Properties{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return b.props, nil
}

func (m *Memory) Upload(ctx context.Context, name string, r io.Reader, opts UploadOptions) error {
	if name == "" {
		return ErrInvalidName
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read upload body: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("upload", name); err != nil {
		return err
	}
	now := m.Now()
	created := now
	if old, ok := m.blobs[name]; ok {
		created = old.props.Created
	}
	m.blobs[name] = &memBlob{
		data: data,
		props: Properties{
			Size:         int64(len(data)),
			ContentType:  opts.ContentType,
			CacheControl: opts.CacheControl,
			Created:      created,
			LastModified: now,
		},
	}
	return nil
}

func (m *Memory) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("open", name); err != nil {
		return nil, err
	}
	b, ok := m.blobs[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

func (m *Memory) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("delete", name); err != nil {
		return err
	}
	if _, ok := m.blobs[name]; !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	delete(m.blobs, name)
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string, flat bool) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("list", prefix); err != nil {
		return nil, err
	}
	names := m.sortedNames(prefix)
	props := func(name string) Properties { return m.blobs[name].props }
	if !flat {
		return collapse(prefix, names, props), nil
	}
	items := make([]Item, 0, len(names))
	for _, name := range names {
		items = append(items, Item{Name: name, Properties: props(name)})
	}
	return items, nil
}

// StartCopy makes the destination visible immediately; its status stays
// pending for CopyPolls polls.
func (m *Memory) StartCopy(ctx context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("copy", src); err != nil {
		return err
	}
	b, ok := m.blobs[src]
	if !ok {
		return fmt.Errorf("%s: %w", src, ErrNotFound)
	}
	now := m.Now()
	props := b.props
	props.Created = now
	props.LastModified = now
	m.blobs[dst] = &memBlob{data: append([]byte(nil), b.data...), props: props}
	m.copies[dst] = &memCopy{remaining: m.CopyPolls, status: CopyPending}
	return nil
}

func (m *Memory) CopyStatus(ctx context.Context, dst string) (CopyStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("copystatus", dst); err != nil {
		return CopyFailed, err
	}
	c, ok := m.copies[dst]
	if !ok {
		return CopyFailed, fmt.Errorf("%s: %w", dst, ErrNoCopy)
	}
	if c.status == CopyPending {
		if c.remaining > 0 {
			c.remaining--
			return CopyPending, nil
		}
		c.status = m.CopyResult
	}
	return c.status, nil
}
