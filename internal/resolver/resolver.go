// Package resolver translates between client URIs and paths inside a
// workspace sandbox.
package resolver

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

var (
	ErrNotFileURI  = errors.New("not a file URI")
	ErrOutsideRoot = errors.New("outside of the project root")
)

// Resolver maps the client's project tree onto a sandbox mirror.
type Resolver struct {
	clientRoot  string
	sandboxRoot string
}

// New creates a Resolver for the project at rootURI mirrored at sandboxRoot.
func New(rootURI string, sandboxRoot string) (*Resolver, error) {
	clientRoot, err := PathFromURI(rootURI)
	if err != nil {
		return nil, err
	}
	sandboxRoot = filepath.Clean(sandboxRoot)
	if clientRoot == sandboxRoot {
		return nil, fmt.Errorf("sandbox %s is the project root", sandboxRoot)
	}
	return &Resolver{clientRoot: clientRoot, sandboxRoot: sandboxRoot}, nil
}

func (r *Resolver) ClientRoot() string  { return r.clientRoot }
func (r *Resolver) SandboxRoot() string { return r.sandboxRoot }

// PathFromURI returns the local path of a file URI.
func PathFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid URI %q: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("%q: %w", uri, ErrNotFileURI)
	}
	path := u.Path
	// file:///C:/x carries a leading slash before the drive letter.
	if len(path) >= 3 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	return filepath.Clean(filepath.FromSlash(path)), nil
}

// URIFromPath returns the file URI of a local path.
func URIFromPath(path string) protocol.DocumentUri {
	slashed := filepath.ToSlash(filepath.Clean(path))
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := url.URL{Scheme: "file", Path: slashed}
	return protocol.DocumentUri(u.String())
}

// Rel returns the path of uri relative to the client root.
func (r *Resolver) Rel(uri string) (string, error) {
	path, err := PathFromURI(uri)
	if err != nil {
		return "", err
	}
	return r.relClient(path)
}

func (r *Resolver) relClient(path string) (string, error) {
	rel, err := filepath.Rel(r.clientRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideRoot)
	}
	return rel, nil
}

// ClientPath returns the client-side path of a root-relative path.
func (r *Resolver) ClientPath(rel string) string {
	return filepath.Join(r.clientRoot, rel)
}

// SandboxPath returns where uri is mirrored. It does not check that the
// file exists.
func (r *Resolver) SandboxPath(uri string) (string, error) {
	rel, err := r.Rel(uri)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.sandboxRoot, rel), nil
}

// SandboxRel returns the path of a client path relative to the root, for
// mirroring.
func (r *Resolver) SandboxRel(clientPath string) (string, error) {
	return r.relClient(filepath.Clean(clientPath))
}

// ClientURI returns the client URI of a sandbox path.
func (r *Resolver) ClientURI(sandboxPath string) (protocol.DocumentUri, error) {
	rel, err := filepath.Rel(r.sandboxRoot, sandboxPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", sandboxPath, ErrOutsideRoot)
	}
	return URIFromPath(filepath.Join(r.clientRoot, rel)), nil
}
