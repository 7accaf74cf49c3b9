// Package connect implements the connection-lifecycle controller.
// This file contains optional asynchronous pre-resolution of the remote
// list, performed once before the first connection attempt.
package connect

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/skobel/tunnelclient/common"
	"github.com/skobel/tunnelclient/config"
)

// PreResolver resolves hostnames in the remote list before the first
// connection attempt. The controller owns the handle while resolution is
// outstanding and releases it once resolution completes or is cancelled.
type PreResolver interface {
	// WorkAvailable reports whether there is anything to resolve.
	WorkAvailable() bool
	// Start begins asynchronous resolution. onComplete is invoked once
	// when all lookups have finished; it is not invoked after Cancel.
	Start(onComplete func())
	// Cancel aborts any in-flight lookups.
	Cancel()
	// Apply substitutes the resolved addresses into the remote list.
	// Must be called from the goroutine that owns the list.
	Apply(rl *RemoteList)
}

// lookupTimeout bounds a single hostname lookup.
const lookupTimeout = 10 * time.Second

// HostResolver is a PreResolver backed by the system DNS resolver.
// Hosts that are already IP literals are left untouched; lookup failures
// leave the original hostname in place so the attempt can still try it.
type HostResolver struct {
	resolver *net.Resolver
	remotes  []config.Remote

	mu       sync.Mutex
	resolved map[int]string
	cancel   context.CancelFunc
}

// NewHostResolver creates a resolver over the given endpoints.
func NewHostResolver(remotes []config.Remote) *HostResolver {
	list := make([]config.Remote, len(remotes))
	copy(list, remotes)
	return &HostResolver{
		resolver: net.DefaultResolver,
		remotes:  list,
		resolved: make(map[int]string),
	}
}

// WorkAvailable reports whether any remote host is not an IP literal.
func (hr *HostResolver) WorkAvailable() bool {
	for _, r := range hr.remotes {
		if net.ParseIP(r.Host) == nil {
			return true
		}
	}
	return false
}

// Start resolves all non-literal hosts in a background goroutine and then
// invokes onComplete, unless Cancel was called first.
func (hr *HostResolver) Start(onComplete func()) {
	ctx, cancel := context.WithCancel(context.Background())
	hr.mu.Lock()
	hr.cancel = cancel
	hr.mu.Unlock()

	go func() {
		for i, r := range hr.remotes {
			if net.ParseIP(r.Host) != nil {
				continue
			}
			addr, err := hr.lookup(ctx, r.Host)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				common.LogWarn("pre-resolve: lookup of %s failed: %v", r.Host, err)
				continue
			}
			common.LogDebug("pre-resolve: %s -> %s", r.Host, addr)
			hr.mu.Lock()
			hr.resolved[i] = addr
			hr.mu.Unlock()
		}
		if ctx.Err() != nil {
			return
		}
		onComplete()
	}()
}

// lookup resolves one hostname, preferring an IPv4 address.
func (hr *HostResolver) lookup(ctx context.Context, host string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	addrs, err := hr.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", &net.DNSError{Err: "no addresses", Name: host}
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return a.IP.String(), nil
		}
	}
	return addrs[0].IP.String(), nil
}

// Cancel aborts in-flight lookups. After Cancel the completion callback
// will not fire.
func (hr *HostResolver) Cancel() {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	if hr.cancel != nil {
		hr.cancel()
		hr.cancel = nil
	}
}

// Apply substitutes resolved addresses into the remote list.
func (hr *HostResolver) Apply(rl *RemoteList) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	for i, addr := range hr.resolved {
		rl.SetHost(i, addr)
	}
}
