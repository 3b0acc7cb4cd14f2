package toolserver

import (
	"context"
	"sync"

	"github.com/hupe1980/gitscout/core"
)

// Catalog caches the tool descriptors of a session, keyed by connection
// epoch. Within one epoch repeated discovery returns an identical list
// without touching the transport; a reconnect invalidates the cache and the
// next use rediscovers lazily.
type Catalog struct {
	session *Session

	mu    sync.Mutex
	epoch uint64
	tools []core.ToolDescriptor
}

// NewCatalog creates a catalog over the given session.
func NewCatalog(session *Session) *Catalog {
	return &Catalog{session: session}
}

// Discover returns the ordered descriptor list for the session's current
// epoch. The session must be connected; if the epoch advanced since the last
// call the cache is refreshed from the session's handshake snapshot.
func (c *Catalog) Discover(ctx context.Context) ([]core.ToolDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if status := c.session.Status(); status != StatusReady {
		if err := c.session.Connect(ctx); err != nil {
			return nil, err
		}
	}

	epoch := c.session.Epoch()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tools != nil && c.epoch == epoch {
		return c.snapshotLocked(), nil
	}

	c.epoch = epoch
	c.tools = c.session.Descriptors()
	return c.snapshotLocked(), nil
}

// Lookup finds a descriptor by tool name within the cached catalog.
func (c *Catalog) Lookup(ctx context.Context, name string) (core.ToolDescriptor, bool, error) {
	tools, err := c.Discover(ctx)
	if err != nil {
		return core.ToolDescriptor{}, false, err
	}
	for _, t := range tools {
		if t.Name == name {
			return t, true, nil
		}
	}
	return core.ToolDescriptor{}, false, nil
}

// Descriptions returns a name→description map of the cached catalog.
func (c *Catalog) Descriptions(ctx context.Context) (map[string]string, error) {
	tools, err := c.Discover(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(tools))
	for _, t := range tools {
		out[t.Name] = t.Description
	}
	return out, nil
}

func (c *Catalog) snapshotLocked() []core.ToolDescriptor {
	out := make([]core.ToolDescriptor, len(c.tools))
	copy(out, c.tools)
	return out
}
