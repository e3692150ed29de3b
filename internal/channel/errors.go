package channel

import "errors"

// ErrStoreClosed is returned by store operations after Close.
var ErrStoreClosed = errors.New("channel: store closed")

// ErrBroadcasterClosed is returned by Publish after the broadcaster has
// been closed.
var ErrBroadcasterClosed = errors.New("channel: broadcaster closed")
