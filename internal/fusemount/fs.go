package fusemount

import (
	"context"
	"errors"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/agentworkforce/gtaskfs/internal/docfs"
	"github.com/agentworkforce/gtaskfs/internal/taskdoc"
	"github.com/agentworkforce/gtaskfs/internal/tasksapi"
)

// Documents is the provider surface exposed through the mount.
type Documents interface {
	Stat(address string) docfs.FileStat
	Read(ctx context.Context, address string) ([]byte, error)
	Write(ctx context.Context, address string, content []byte) error
	ReadDirectory(address string) error
	CreateDirectory(address string) error
	Rename(oldAddress, newAddress string) error
	Delete(address string) error
}

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	FsName  string
	Debug   bool
	Timeout time.Duration
	Logger  Logger
}

// Mount serves docs at mountPoint as /<list>/<task>.json. Entries are only
// reachable by name; directories cannot be listed.
func Mount(mountPoint string, docs Documents, opts Options) (*fuse.Server, error) {
	if docs == nil {
		return nil, errors.New("documents are required")
	}
	fsName := strings.TrimSpace(opts.FsName)
	if fsName == "" {
		fsName = "gtaskfs"
	}
	noCache := time.Duration(0)
	return fs.Mount(mountPoint, NewRoot(docs, opts), &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName: fsName,
			Name:   "gtaskfs",
			Debug:  opts.Debug,
		},
		EntryTimeout: &noCache,
		AttrTimeout:  &noCache,
	})
}

type shared struct {
	docs    Documents
	timeout time.Duration
	logger  Logger
}

func (s *shared) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

func (s *shared) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

type rootNode struct {
	fs.Inode
	shared *shared
}

var (
	_ fs.NodeLookuper  = (*rootNode)(nil)
	_ fs.NodeReaddirer = (*rootNode)(nil)
	_ fs.NodeMkdirer   = (*rootNode)(nil)
	_ fs.NodeRmdirer   = (*rootNode)(nil)
	_ fs.NodeRenamer   = (*rootNode)(nil)
	_ fs.NodeCreater   = (*rootNode)(nil)
)

func NewRoot(docs Documents, opts Options) fs.InodeEmbedder {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &rootNode{shared: &shared{docs: docs, timeout: timeout, logger: opts.Logger}}
}

func (r *rootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if name == "" || strings.HasPrefix(name, ".") {
		return nil, unix.ENOENT
	}
	out.Mode = unix.S_IFDIR | 0o555
	child := r.NewInode(ctx, &listNode{shared: r.shared, segment: name}, fs.StableAttr{Mode: unix.S_IFDIR})
	return child, 0
}

func (r *rootNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	return nil, errnoFor(r.shared.docs.ReadDirectory("/"))
}

func (r *rootNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, errnoFor(r.shared.docs.CreateDirectory("/" + name))
}

func (r *rootNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errnoFor(r.shared.docs.Delete("/" + name))
}

func (r *rootNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return errnoFor(r.shared.docs.Rename("/"+name, "/"+newName))
}

func (r *rootNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, unix.EACCES
}

// listNode is the directory of one task list.
type listNode struct {
	fs.Inode
	shared  *shared
	segment string
}

var (
	_ fs.NodeLookuper  = (*listNode)(nil)
	_ fs.NodeReaddirer = (*listNode)(nil)
	_ fs.NodeMkdirer   = (*listNode)(nil)
	_ fs.NodeUnlinker  = (*listNode)(nil)
	_ fs.NodeRenamer   = (*listNode)(nil)
	_ fs.NodeCreater   = (*listNode)(nil)
)

func (l *listNode) address(name string) string {
	return "/" + l.segment + "/" + name
}

func (l *listNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if !strings.HasSuffix(name, taskdoc.DocumentSuffix) {
		return nil, unix.ENOENT
	}
	address := l.address(name)
	if _, err := taskdoc.Decode(address); err != nil {
		return nil, unix.ENOENT
	}
	fillAttr(&out.Attr, l.shared.docs.Stat(address))
	child := l.NewInode(ctx, &taskNode{shared: l.shared, address: address}, fs.StableAttr{Mode: unix.S_IFREG})
	return child, 0
}

func (l *listNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	return nil, errnoFor(l.shared.docs.ReadDirectory("/" + l.segment))
}

func (l *listNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, errnoFor(l.shared.docs.CreateDirectory(l.address(name)))
}

func (l *listNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return errnoFor(l.shared.docs.Delete(l.address(name)))
}

func (l *listNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	return errnoFor(l.shared.docs.Rename(l.address(name), l.address(newName)))
}

func (l *listNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, unix.EACCES
}

// taskNode is one task document.
type taskNode struct {
	fs.Inode
	shared  *shared
	address string
}

var (
	_ fs.NodeGetattrer = (*taskNode)(nil)
	_ fs.NodeSetattrer = (*taskNode)(nil)
	_ fs.NodeOpener    = (*taskNode)(nil)
)

func (n *taskNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, n.shared.docs.Stat(n.address))
	if h, ok := f.(*docHandle); ok {
		out.Size = uint64(h.size())
	}
	return 0
}

func (n *taskNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, n.shared.docs.Stat(n.address))
	size, ok := in.GetSize()
	if !ok {
		return 0
	}
	h, isHandle := f.(*docHandle)
	if !isHandle {
		// Truncating without an open handle would submit an empty document.
		return unix.EACCES
	}
	h.truncate(int64(size))
	out.Size = size
	return 0
}

func (n *taskNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	h := newDocHandle(n.shared, n.address)
	if flags&unix.O_TRUNC != 0 {
		h.truncate(0)
		return h, fuse.FOPEN_DIRECT_IO, 0
	}
	opCtx, cancel := n.shared.context(ctx)
	defer cancel()
	if errno := h.load(opCtx); errno != 0 {
		return nil, 0, errno
	}
	return h, fuse.FOPEN_DIRECT_IO, 0
}

// docHandle buffers one open document. Writes are submitted on flush.
type docHandle struct {
	shared  *shared
	address string

	mu    sync.Mutex
	data  []byte
	dirty bool
}

var (
	_ fs.FileReader  = (*docHandle)(nil)
	_ fs.FileWriter  = (*docHandle)(nil)
	_ fs.FileFlusher = (*docHandle)(nil)
	_ fs.FileFsyncer = (*docHandle)(nil)
)

func newDocHandle(s *shared, address string) *docHandle {
	return &docHandle{shared: s, address: address}
}

func (h *docHandle) load(ctx context.Context) syscall.Errno {
	content, err := h.shared.docs.Read(ctx, h.address)
	if err != nil {
		h.shared.logf("fusemount: read %s failed: %v", h.address, err)
		return errnoFor(err)
	}
	if len(content) > 0 && content[len(content)-1] != '\n' {
		content = append(content, '\n')
	}
	h.mu.Lock()
	h.data = content
	h.dirty = false
	h.mu.Unlock()
	return 0
}

func (h *docHandle) size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.data))
}

func (h *docHandle) truncate(size int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if size < 0 {
		size = 0
	}
	if size <= int64(len(h.data)) {
		h.data = h.data[:size]
	} else {
		h.data = append(h.data, make([]byte, size-int64(len(h.data)))...)
	}
	h.dirty = true
}

func (h *docHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if off >= int64(len(h.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	out := make([]byte, end-off)
	copy(out, h.data[off:end])
	return fuse.ReadResultData(out), 0
}

func (h *docHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if off < 0 {
		return 0, unix.EINVAL
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	end := off + int64(len(data))
	if end > int64(len(h.data)) {
		h.data = append(h.data, make([]byte, end-int64(len(h.data)))...)
	}
	copy(h.data[off:end], data)
	h.dirty = true
	return uint32(len(data)), 0
}

// Flush submits buffered edits. A rejected document stays buffered so a
// later flush from the same handle can retry it.
func (h *docHandle) Flush(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	if !h.dirty {
		h.mu.Unlock()
		return 0
	}
	content := append([]byte(nil), h.data...)
	h.mu.Unlock()

	opCtx, cancel := h.shared.context(ctx)
	defer cancel()
	if err := h.shared.docs.Write(opCtx, h.address, content); err != nil {
		h.shared.logf("fusemount: write %s failed: %v", h.address, err)
		return errnoFor(err)
	}
	h.mu.Lock()
	h.dirty = false
	h.mu.Unlock()
	return 0
}

func (h *docHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return h.Flush(ctx)
}

func fillAttr(attr *fuse.Attr, stat docfs.FileStat) {
	attr.Mode = unix.S_IFREG | 0o644
	attr.Size = uint64(stat.Size)
	mtime := time.UnixMilli(stat.Mtime)
	ctime := time.UnixMilli(stat.Ctime)
	attr.SetTimes(&mtime, &mtime, &ctime)
}

// errnoFor maps provider errors to the errno a filesystem caller expects.
func errnoFor(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, taskdoc.ErrNotFound), errors.Is(err, tasksapi.ErrNotFound):
		return unix.ENOENT
	case errors.Is(err, docfs.ErrNoPermissions), errors.Is(err, tasksapi.ErrUnauthorized):
		return unix.EACCES
	case errors.Is(err, docfs.ErrServiceNotReady):
		return unix.EAGAIN
	case errors.Is(err, taskdoc.ErrInvalidInput):
		return unix.EINVAL
	case errors.Is(err, context.DeadlineExceeded):
		return unix.ETIMEDOUT
	}
	return unix.EIO
}
