package transport

import (
	"fmt"
	"os"
)

// OpenRead opens path for ingest. Regular files are never readable by
// epoll (EPOLL_CTL_ADD returns EPERM for them), so the reactor falls back
// to its always-trigger list for this transport automatically.
func OpenRead(path string) (*Conn, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transport: open %q: %w", path, err)
	}
	fd, err := DupDetached(f)
	if err != nil {
		return nil, fmt.Errorf("transport: detach %q: %w", path, err)
	}
	return New(fd, "file"), nil
}

// OpenAppend opens path for output, creating it if necessary and always
// appending rather than truncating, so two bus instances (or a restart)
// never clobber each other's history.
func OpenAppend(path string) (*Conn, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("transport: open %q for append: %w", path, err)
	}
	fd, err := DupDetached(f)
	if err != nil {
		return nil, fmt.Errorf("transport: detach %q: %w", path, err)
	}
	return New(fd, "file"), nil
}
