package mdal

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marfs-core/marfs/pkg/marfserr"
)

// memNode is one entry of the in-memory filesystem tree: either a regular
// file (Data/Xattrs populated) or a directory (Children populated).
type memNode struct {
	mode     fs.FileMode
	uid, gid int
	mtime    time.Time
	atime    time.Time
	ctime    time.Time
	nlink    int

	data     []byte
	xattrs   map[string][]byte
	children map[string]*memNode // nil for regular files
}

func newDirNode() *memNode {
	now := time.Now()
	return &memNode{mode: fs.ModeDir | 0755, children: map[string]*memNode{}, nlink: 1, mtime: now, atime: now, ctime: now}
}

func newFileNode() *memNode {
	now := time.Now()
	return &memNode{mode: 0644, xattrs: map[string][]byte{}, nlink: 1, mtime: now, atime: now, ctime: now}
}

// MemDriver is an in-memory MDAL used by tests and the example CLI
// bootstrap to exercise the whole core without a real metadata store, per
// the source project's vtable-driver/test-harness convention.
type MemDriver struct {
	mu        sync.Mutex
	namespace map[string]*memNode // namespacePath -> root
	usage     map[string]DataUsage
	inodes    map[string]InodeUsage
}

// NewMemDriver returns an empty in-memory MDAL.
func NewMemDriver() *MemDriver {
	return &MemDriver{
		namespace: map[string]*memNode{},
		usage:     map[string]DataUsage{},
		inodes:    map[string]InodeUsage{},
	}
}

type memCtxt struct {
	d    *MemDriver
	ns   string
	refs int32
}

func (c *memCtxt) Duplicate() (Ctxt, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.refs++
	return &memCtxt{d: c.d, ns: c.ns, refs: 1}, nil
}

func (c *memCtxt) Close() error { return nil }

func (d *MemDriver) NewCtxt(ctx context.Context, namespacePath string) (Ctxt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.namespace[namespacePath]; !ok {
		d.namespace[namespacePath] = newDirNode()
	}
	return &memCtxt{d: d, ns: namespacePath, refs: 1}, nil
}

func (d *MemDriver) root(c Ctxt) (*memNode, error) {
	mc, ok := c.(*memCtxt)
	if !ok {
		return nil, marfserr.New(marfserr.InvalidArgument, "mdal: context did not originate from MemDriver")
	}
	root, ok := d.namespace[mc.ns]
	if !ok {
		return nil, marfserr.Newf(marfserr.NotFound, "mdal: unknown namespace %q", mc.ns)
	}
	return root, nil
}

func split(p string) []string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func (d *MemDriver) lookup(root *memNode, p string, create bool) (*memNode, error) {
	parts := split(p)
	cur := root
	for i, part := range parts {
		if cur.children == nil {
			return nil, marfserr.Newf(marfserr.NotFound, "mdal: %q is not a directory", p)
		}
		next, ok := cur.children[part]
		if !ok {
			if create && i == len(parts)-1 {
				next = newFileNode()
				cur.children[part] = next
			} else if create {
				next = newDirNode()
				cur.children[part] = next
			} else {
				return nil, marfserr.Newf(marfserr.NotFound, "mdal: no such path %q", p)
			}
		}
		cur = next
	}
	return cur, nil
}

func (d *MemDriver) parent(root *memNode, p string) (*memNode, string, error) {
	parts := split(p)
	if len(parts) == 0 {
		return nil, "", marfserr.New(marfserr.InvalidArgument, "mdal: empty path")
	}
	cur := root
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur.children[part]
		if !ok {
			return nil, "", marfserr.Newf(marfserr.NotFound, "mdal: no such directory %q", p)
		}
		cur = next
	}
	return cur, parts[len(parts)-1], nil
}

type memFileInfo struct {
	name string
	node *memNode
}

func (i *memFileInfo) Name() string       { return i.name }
func (i *memFileInfo) Size() int64        { return int64(len(i.node.data)) }
func (i *memFileInfo) Mode() fs.FileMode  { return i.node.mode }
func (i *memFileInfo) ModTime() time.Time { return i.node.mtime }
func (i *memFileInfo) IsDir() bool        { return i.node.children != nil }
func (i *memFileInfo) Sys() interface{}   { return i.node }

// Nlink and CTime implement the ExtFileInfo interface, giving callers that
// need hard-link counts and change-time (e.g. the streamwalker's GC
// eligibility check) access without a Sys()-and-type-assert dance specific
// to this driver.
func (i *memFileInfo) Nlink() int         { return i.node.nlink }
func (i *memFileInfo) CTime() time.Time   { return i.node.ctime }

func (d *MemDriver) Stat(ctx context.Context, c Ctxt, p string) (fs.FileInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.root(c)
	if err != nil {
		return nil, err
	}
	node, err := d.lookup(root, p, false)
	if err != nil {
		return nil, err
	}
	return &memFileInfo{name: path.Base(p), node: node}, nil
}

func (d *MemDriver) Access(ctx context.Context, c Ctxt, p string, mode fs.FileMode) error {
	_, err := d.Stat(ctx, c, p)
	return err
}

func (d *MemDriver) Chmod(ctx context.Context, c Ctxt, p string, mode fs.FileMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.root(c)
	if err != nil {
		return err
	}
	node, err := d.lookup(root, p, false)
	if err != nil {
		return err
	}
	node.mode = (node.mode &^ fs.ModePerm) | (mode & fs.ModePerm)
	return nil
}

func (d *MemDriver) Chown(ctx context.Context, c Ctxt, p string, uid, gid int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.root(c)
	if err != nil {
		return err
	}
	node, err := d.lookup(root, p, false)
	if err != nil {
		return err
	}
	node.uid, node.gid = uid, gid
	return nil
}

func (d *MemDriver) Utimens(ctx context.Context, c Ctxt, p string, atime, mtime time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.root(c)
	if err != nil {
		return err
	}
	node, err := d.lookup(root, p, false)
	if err != nil {
		return err
	}
	node.atime, node.mtime = atime, mtime
	return nil
}

func (d *MemDriver) Unlink(ctx context.Context, c Ctxt, p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.root(c)
	if err != nil {
		return err
	}
	parent, name, err := d.parent(root, p)
	if err != nil {
		return err
	}
	node, ok := parent.children[name]
	if !ok {
		return marfserr.Newf(marfserr.NotFound, "mdal: no such file %q", p)
	}
	node.nlink--
	delete(parent.children, name)
	return nil
}

func (d *MemDriver) Rename(ctx context.Context, c Ctxt, oldPath, newPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.root(c)
	if err != nil {
		return err
	}
	oldParent, oldName, err := d.parent(root, oldPath)
	if err != nil {
		return err
	}
	node, ok := oldParent.children[oldName]
	if !ok {
		return marfserr.Newf(marfserr.NotFound, "mdal: no such file %q", oldPath)
	}
	newParent, newName, err := d.parent(root, newPath)
	if err != nil {
		return err
	}
	delete(oldParent.children, oldName)
	newParent.children[newName] = node
	return nil
}

func (d *MemDriver) Link(ctx context.Context, c Ctxt, oldPath, newPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.root(c)
	if err != nil {
		return err
	}
	oldParent, oldName, err := d.parent(root, oldPath)
	if err != nil {
		return err
	}
	node, ok := oldParent.children[oldName]
	if !ok {
		return marfserr.Newf(marfserr.NotFound, "mdal: no such file %q", oldPath)
	}
	newParent, newName, err := d.parent(root, newPath)
	if err != nil {
		return err
	}
	if _, exists := newParent.children[newName]; exists {
		return marfserr.Newf(marfserr.ExistsAlready, "mdal: %q already exists", newPath)
	}
	node.nlink++
	newParent.children[newName] = node
	return nil
}

func (d *MemDriver) Symlink(ctx context.Context, c Ctxt, target, linkPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.root(c)
	if err != nil {
		return err
	}
	parent, name, err := d.parent(root, linkPath)
	if err != nil {
		return err
	}
	node := newFileNode()
	node.mode |= fs.ModeSymlink
	node.data = []byte(target)
	parent.children[name] = node
	return nil
}

func (d *MemDriver) Readlink(ctx context.Context, c Ctxt, p string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.root(c)
	if err != nil {
		return "", err
	}
	node, err := d.lookup(root, p, false)
	if err != nil {
		return "", err
	}
	if node.mode&fs.ModeSymlink == 0 {
		return "", marfserr.Newf(marfserr.InvalidArgument, "mdal: %q is not a symlink", p)
	}
	return string(node.data), nil
}

// memFile is the open-handle side of a memNode.
type memFile struct {
	node   *memNode
	offset int64
}

func (f *memFile) Read(ctx context.Context, buf []byte) (int, error) {
	if f.offset >= int64(len(f.node.data)) {
		return 0, nil
	}
	n := copy(buf, f.node.data[f.offset:])
	f.offset += int64(n)
	return n, nil
}

func (f *memFile) Write(ctx context.Context, buf []byte) (int, error) {
	end := f.offset + int64(len(buf))
	if end > int64(len(f.node.data)) {
		grown := make([]byte, end)
		copy(grown, f.node.data)
		f.node.data = grown
	}
	n := copy(f.node.data[f.offset:end], buf)
	f.offset += int64(n)
	f.node.mtime = time.Now()
	return n, nil
}

func (f *memFile) Lseek(ctx context.Context, offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		f.offset = offset
	case 1:
		f.offset += offset
	case 2:
		f.offset = int64(len(f.node.data)) + offset
	default:
		return 0, marfserr.New(marfserr.InvalidArgument, "mdal: invalid whence")
	}
	if f.offset < 0 {
		return 0, marfserr.New(marfserr.InvalidArgument, "mdal: seek before start of file")
	}
	return f.offset, nil
}

func (f *memFile) Ftruncate(ctx context.Context, size int64) error {
	if size < 0 {
		return marfserr.New(marfserr.InvalidArgument, "mdal: negative truncate size")
	}
	if size <= int64(len(f.node.data)) {
		f.node.data = f.node.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, f.node.data)
	f.node.data = grown
	return nil
}

func (f *memFile) Close(ctx context.Context) error { return nil }

func (f *memFile) Fsetxattr(ctx context.Context, name string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	f.node.xattrs[name] = cp
	return nil
}

func (f *memFile) Fgetxattr(ctx context.Context, name string) ([]byte, error) {
	v, ok := f.node.xattrs[name]
	if !ok {
		return nil, marfserr.Newf(marfserr.NotFound, "mdal: no xattr %q", name)
	}
	return v, nil
}

func (f *memFile) Fremovexattr(ctx context.Context, name string) error {
	if _, ok := f.node.xattrs[name]; !ok {
		return marfserr.Newf(marfserr.NotFound, "mdal: no xattr %q", name)
	}
	delete(f.node.xattrs, name)
	return nil
}

func (f *memFile) Flistxattr(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(f.node.xattrs))
	for k := range f.node.xattrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func (d *MemDriver) Open(ctx context.Context, c Ctxt, p string, flags OpenFlags, mode fs.FileMode) (File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.root(c)
	if err != nil {
		return nil, err
	}
	create := flags&OCreate != 0
	node, err := d.lookup(root, p, create)
	if err != nil {
		return nil, err
	}
	if flags&OTruncate != 0 {
		node.data = nil
	}
	return &memFile{node: node}, nil
}

func (d *MemDriver) StatNamespace(ctx context.Context, c Ctxt) (fs.FileInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.root(c)
	if err != nil {
		return nil, err
	}
	return &memFileInfo{name: "/", node: root}, nil
}

func (d *MemDriver) ChmodNamespace(ctx context.Context, c Ctxt, mode fs.FileMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.root(c)
	if err != nil {
		return err
	}
	root.mode = (root.mode &^ fs.ModePerm) | (mode & fs.ModePerm)
	return nil
}

// Reference-path variants delegate to the same tree; they are kept as
// distinct methods (rather than aliases) because real drivers give them
// crash-atomicity guarantees plain Open/Stat/Link do not.

func (d *MemDriver) OpenRef(ctx context.Context, c Ctxt, refPath string, flags OpenFlags, mode fs.FileMode) (File, error) {
	return d.Open(ctx, c, refPath, flags, mode)
}

func (d *MemDriver) UnlinkRef(ctx context.Context, c Ctxt, refPath string) error {
	return d.Unlink(ctx, c, refPath)
}

func (d *MemDriver) StatRef(ctx context.Context, c Ctxt, refPath string) (fs.FileInfo, error) {
	return d.Stat(ctx, c, refPath)
}

func (d *MemDriver) LinkRef(ctx context.Context, c Ctxt, refPath, userPath string) error {
	return d.Link(ctx, c, refPath, userPath)
}

type memDir struct {
	entries []DirEntry
	pos     int
}

func (dir *memDir) Readdir(ctx context.Context) (*DirEntry, error) {
	if dir.pos >= len(dir.entries) {
		return nil, nil
	}
	e := dir.entries[dir.pos]
	dir.pos++
	return &e, nil
}

func (dir *memDir) Close(ctx context.Context) error { return nil }

func (d *MemDriver) OpenDir(ctx context.Context, c Ctxt, p string) (Dir, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.root(c)
	if err != nil {
		return nil, err
	}
	node, err := d.lookup(root, p, false)
	if err != nil {
		return nil, err
	}
	return dirOf(node), nil
}

func (d *MemDriver) OpenDirNamespace(ctx context.Context, c Ctxt) (Dir, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.root(c)
	if err != nil {
		return nil, err
	}
	return dirOf(root), nil
}

func dirOf(node *memNode) *memDir {
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]DirEntry, len(names))
	for i, name := range names {
		entries[i] = DirEntry{Name: name, IsDir: node.children[name].children != nil}
	}
	return &memDir{entries: entries}
}

func (d *MemDriver) DestroyRefDir(ctx context.Context, c Ctxt, refDirPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.root(c)
	if err != nil {
		return err
	}
	parent, name, err := d.parent(root, refDirPath)
	if err != nil {
		return err
	}
	node, ok := parent.children[name]
	if !ok {
		return marfserr.Newf(marfserr.NotFound, "mdal: no such reference directory %q", refDirPath)
	}
	if len(node.children) != 0 {
		return marfserr.Newf(marfserr.InvalidArgument, "mdal: reference directory %q is not empty", refDirPath)
	}
	delete(parent.children, name)
	return nil
}

// memScanner walks the whole reference tree depth-first, flattening it
// into one stream of leaf entries — used for a full-namespace sweep where
// the caller doesn't want to recurse through OpenDir level by level.
type memScanner struct {
	entries []DirEntry
	pos     int
}

func (s *memScanner) Scan(ctx context.Context) (*DirEntry, error) {
	if s.pos >= len(s.entries) {
		return nil, nil
	}
	e := s.entries[s.pos]
	s.pos++
	return &e, nil
}

func (s *memScanner) Close(ctx context.Context) error { return nil }

func (d *MemDriver) OpenScanner(ctx context.Context, c Ctxt, rootRefPath string) (Scanner, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, err := d.root(c)
	if err != nil {
		return nil, err
	}
	start, err := d.lookup(root, rootRefPath, false)
	if err != nil {
		return nil, err
	}
	var entries []DirEntry
	var walk func(prefix string, n *memNode)
	walk = func(prefix string, n *memNode) {
		if n.children == nil {
			entries = append(entries, DirEntry{Name: prefix})
			return
		}
		names := make([]string, 0, len(n.children))
		for name := range n.children {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			child := n.children[name]
			childPath := name
			if prefix != "" {
				childPath = prefix + "/" + name
			}
			walk(childPath, child)
		}
	}
	walk("", start)
	return &memScanner{entries: entries}, nil
}

func (d *MemDriver) GetDataUsage(ctx context.Context, c Ctxt) (DataUsage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mc := c.(*memCtxt)
	return d.usage[mc.ns], nil
}

func (d *MemDriver) SetDataUsage(ctx context.Context, c Ctxt, usage DataUsage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	mc := c.(*memCtxt)
	d.usage[mc.ns] = usage
	return nil
}

func (d *MemDriver) GetInodeUsage(ctx context.Context, c Ctxt) (InodeUsage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mc := c.(*memCtxt)
	return d.inodes[mc.ns], nil
}

func (d *MemDriver) SetInodeUsage(ctx context.Context, c Ctxt, usage InodeUsage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	mc := c.(*memCtxt)
	d.inodes[mc.ns] = usage
	return nil
}

var _ MDAL = (*MemDriver)(nil)
