package streams

import (
	"fmt"
	"net"
	"strconv"

	"github.com/smazurov/camrelay/internal/frame"
	"github.com/smazurov/camrelay/internal/streaming"
)

// PathPrefix is the mount path prefix; streams are numbered from 1.
const PathPrefix = "/video_stream"

// Mounter accepts endpoint registrations. *streaming.Server implements it.
type Mounter interface {
	Mount(path string, src streaming.Source) error
}

// Registry owns the endpoints. It is immutable after construction.
type Registry struct {
	endpoints []*Endpoint
	byPath    map[string]*Endpoint
}

// NewRegistry creates count endpoints sharing slot, mounted at
// /video_stream1../video_streamN.
func NewRegistry(count int, cfg EndpointConfig, slot *frame.Slot) (*Registry, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: stream count %d must be at least 1", ErrInvalidConfig, count)
	}

	r := &Registry{
		endpoints: make([]*Endpoint, 0, count),
		byPath:    make(map[string]*Endpoint, count),
	}
	for i := 1; i <= count; i++ {
		ep, err := NewEndpoint(PathPrefix+strconv.Itoa(i), cfg, slot)
		if err != nil {
			return nil, err
		}
		r.endpoints = append(r.endpoints, ep)
		r.byPath[ep.Path()] = ep
	}
	return r, nil
}

// Endpoints returns the endpoints in mount order.
func (r *Registry) Endpoints() []*Endpoint {
	out := make([]*Endpoint, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}

// Lookup finds an endpoint by path, with or without the leading slash.
func (r *Registry) Lookup(path string) (*Endpoint, bool) {
	if len(path) > 0 && path[0] != '/' {
		path = "/" + path
	}
	ep, ok := r.byPath[path]
	return ep, ok
}

// Paths returns the mount paths in order.
func (r *Registry) Paths() []string {
	paths := make([]string, len(r.endpoints))
	for i, ep := range r.endpoints {
		paths[i] = ep.Path()
	}
	return paths
}

// Register mounts every endpoint on m, stopping at the first failure.
func (r *Registry) Register(m Mounter) error {
	for _, ep := range r.endpoints {
		if err := m.Mount(ep.Path(), ep); err != nil {
			return fmt.Errorf("mount %s: %w", ep.Path(), err)
		}
	}
	return nil
}

// URLs returns the RTSP URL of every endpoint as seen by clients.
func (r *Registry) URLs(host string, port int) []string {
	hostport := net.JoinHostPort(host, strconv.Itoa(port))
	urls := make([]string, len(r.endpoints))
	for i, ep := range r.endpoints {
		urls[i] = "rtsp://" + hostport + ep.Path()
	}
	return urls
}
