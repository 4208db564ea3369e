package queue

import "errors"

// ErrShutdown is returned by any Fifo operation performed after Shutdown.
var ErrShutdown = errors.New("queue: fifo shut down")

// ErrEmpty is returned by the nonblocking accessors when no object is
// immediately available.
var ErrEmpty = errors.New("queue: no object available")
