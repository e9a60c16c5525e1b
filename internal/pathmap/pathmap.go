// Package pathmap rewrites server-local paths into the form clients see
// on their side of the shared mount. The rewrite is a pure string
// replacement: symlinks are never resolved, so the `golden -> products`
// link inside the shared tree keeps working for clients.
package pathmap

import "strings"

// Projector maps paths under the server's shared root to the client
// mount prefix.
type Projector struct {
	serverRoot   string
	clientPrefix string
}

// NewProjector creates a projector. Trailing slashes on either side are
// normalized away so the replacement is character-exact.
func NewProjector(serverRoot, clientPrefix string) *Projector {
	return &Projector{
		serverRoot:   strings.TrimRight(serverRoot, "/"),
		clientPrefix: strings.TrimRight(clientPrefix, "/"),
	}
}

// Project rewrites a server-local path into client-mount form. Paths
// outside the shared root are returned unchanged.
func (p *Projector) Project(path string) string {
	if path == "" || p.serverRoot == "" {
		return path
	}
	if path == p.serverRoot {
		return p.clientPrefix
	}
	if strings.HasPrefix(path, p.serverRoot+"/") {
		return p.clientPrefix + strings.TrimPrefix(path, p.serverRoot)
	}
	return path
}
