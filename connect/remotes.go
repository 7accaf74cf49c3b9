// Package connect implements the connection-lifecycle controller.
// This file contains the rotating list of candidate server endpoints.
package connect

import "github.com/skobel/tunnelclient/config"

// RemoteList holds the ordered candidate endpoints and the cursor of the
// one currently in use. It is confined to the controller's event loop and
// needs no locking.
type RemoteList struct {
	remotes []config.Remote
	index   int
}

// NewRemoteList creates a RemoteList over the given endpoints.
func NewRemoteList(remotes []config.Remote) *RemoteList {
	// Copy so later config mutation cannot reach into the controller.
	list := make([]config.Remote, len(remotes))
	copy(list, remotes)
	return &RemoteList{remotes: list}
}

// Len returns the number of candidate endpoints.
func (rl *RemoteList) Len() int {
	return len(rl.remotes)
}

// Current returns the endpoint the next attempt should use.
func (rl *RemoteList) Current() config.Remote {
	return rl.remotes[rl.index]
}

// Next advances to the next candidate endpoint, wrapping around at the
// end of the list.
func (rl *RemoteList) Next() {
	if len(rl.remotes) == 0 {
		return
	}
	rl.index = (rl.index + 1) % len(rl.remotes)
}

// Reset moves the cursor back to the first endpoint.
func (rl *RemoteList) Reset() {
	rl.index = 0
}

// SetHost replaces the host of the endpoint at position i. Used by the
// pre-resolver to substitute resolved addresses.
func (rl *RemoteList) SetHost(i int, host string) {
	if i >= 0 && i < len(rl.remotes) {
		rl.remotes[i].Host = host
	}
}

// All returns a copy of the candidate endpoints.
func (rl *RemoteList) All() []config.Remote {
	out := make([]config.Remote, len(rl.remotes))
	copy(out, rl.remotes)
	return out
}
