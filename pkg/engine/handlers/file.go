package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/polisai/atomws/pkg/engine/runtime"
	"github.com/polisai/atomws/pkg/job"
)

const defaultFileRoot = "/var/www"

var errOutsideRoot = errors.New("file outside root path")

// FileHandler serves the job path from a root directory. Paths resolving
// outside the root, missing files and non-regular files pass the job on with a
// trail note instead of failing.
type FileHandler struct{}

// NewFileHandler returns a file atom.
func NewFileHandler() *FileHandler { return &FileHandler{} }

// Execute streams the file. Fields: root (/var/www), mimes (extension to type
// overrides), download (attachment disposition), encoding (utf-8).
func (h *FileHandler) Execute(ctx context.Context, node runtime.Node, j *job.Job) (runtime.Advance, error) {
	disposition := "inline"
	if toBool(node.Field("download", j, false)) {
		disposition = "attachment"
	}
	mimes := toStringMap(node.Field("mimes", j, nil))
	encoding := toString(node.Field("encoding", j, "utf-8"))

	file, info, err := resolveFile(toString(node.Field("root", j, defaultFileRoot)), j.Path())
	if err != nil {
		return runtime.Next().WithNote(fmt.Sprintf("--%v--", err)), nil
	}

	f, err := os.Open(file)
	if err != nil {
		return runtime.Next().WithNote(fmt.Sprintf("--%v--", err)), nil
	}
	defer f.Close()

	base := filepath.Base(file)
	resp := j.Response()
	header := resp.Header()
	header.Set("Content-Type", contentType(base, mimes)+"; charset="+encoding)
	header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	header.Set("Content-Disposition", disposition+"; filename="+base+";")
	modified := info.ModTime().UTC().Format(http.TimeFormat)
	header.Set("Last-Modified", modified)
	header.Set("Modification-Date", modified)
	resp.WriteHeader(http.StatusOK)

	if j.Method() == http.MethodHead {
		return runtime.Stop(), nil
	}
	if _, err := io.Copy(resp, contextReader{ctx: ctx, r: f}); err != nil {
		return runtime.Stop().WithNote(fmt.Sprintf("--%v--", err)), nil
	}
	return runtime.Stop(), nil
}

// resolveFile canonicalizes root/path, following symlinks, and rejects
// anything that does not resolve to a regular file inside root.
func resolveFile(root, reqPath string) (string, os.FileInfo, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", nil, err
	}
	if real, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = real
	}

	file, err := filepath.EvalSymlinks(filepath.Join(absRoot, filepath.FromSlash(reqPath)))
	if err != nil {
		return "", nil, err
	}
	rel, err := filepath.Rel(absRoot, file)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", nil, errOutsideRoot
	}

	info, err := os.Stat(file)
	if err != nil {
		return "", nil, err
	}
	if !info.Mode().IsRegular() {
		return "", nil, errors.New("not a regular file")
	}
	return file, info, nil
}

// contentType looks the extension up in the overrides, then the system table,
// and falls back to application/octet-stream.
func contentType(base string, overrides map[string]string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(base), "."))
	if ext == "" {
		return "application/octet-stream"
	}
	if t, ok := overrides[ext]; ok && t != "" {
		return t
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		if media, _, err := mime.ParseMediaType(t); err == nil {
			return media
		}
		return t
	}
	return "application/octet-stream"
}

// contextReader stops a copy once the job's context ends.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, context.Cause(c.ctx)
	}
	return c.r.Read(p)
}
