package transport

import (
	"fmt"
	"os"
)

// Stdin binds the process's own standard input as a receive transport.
func Stdin() (*Conn, error) {
	fd, err := DupDetached(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("transport: detach stdin: %w", err)
	}
	return New(fd, "stdin"), nil
}

// Stdout binds the process's own standard output as a send transport.
func Stdout() (*Conn, error) {
	fd, err := DupDetached(os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("transport: detach stdout: %w", err)
	}
	return New(fd, "stdout"), nil
}
