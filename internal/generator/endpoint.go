package generator

// #region imports
import (
	"fmt"
	"strings"
	"time"

	"github.com/danielpatrickdp/magi/go-controller/internal/codec"
)

// #endregion

// #region endpoint

// Endpoint is the resolved address of one backend.
type Endpoint struct {
	URL     string
	Command []string
	Timeout time.Duration
}

// NewFromEndpoint picks a transport for ep:
// grpc://host:port → gRPC, http(s):// → HTTP wrapper, no URL with a command → local CLI,
// nothing at all → HTTP stub that reports unavailable.
func NewFromEndpoint(id BackendID, ep Endpoint) (Client, error) {
	url := strings.TrimSpace(ep.URL)
	switch {
	case strings.HasPrefix(url, "grpc://"):
		addr := strings.TrimPrefix(url, "grpc://")
		cc, err := codec.NewClient(addr)
		if err != nil {
			return nil, fmt.Errorf("%s endpoint: %w", id, err)
		}
		return NewGRPCClient(id, addr, ep.Timeout, cc), nil
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return NewHTTPClient(id, url, ep.Timeout), nil
	case url == "" && len(ep.Command) > 0:
		return NewCommandClient(id, ep.Command, ep.Timeout), nil
	case url == "":
		return NewHTTPClient(id, "", ep.Timeout), nil
	default:
		return nil, fmt.Errorf("%s endpoint: unsupported url scheme %q", id, url)
	}
}

// NewSetFromEndpoints resolves one client per canonical backend.
func NewSetFromEndpoints(eps map[BackendID]Endpoint) (Set, error) {
	set := Set{}
	for _, id := range Canonical {
		c, err := NewFromEndpoint(id, eps[id])
		if err != nil {
			return nil, err
		}
		set[id] = c
	}
	return set, nil
}

// #endregion
