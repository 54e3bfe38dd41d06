package transport

import (
	"fmt"
	"os"
	"os/exec"
)

// Exec spawns command via a shell (matching the bus's original "--exec"
// convention of handing the user's string straight to /bin/sh -c) and
// returns two transports: one reading the child's stdout, one writing the
// child's stdin. The child's stderr is inherited so diagnostics still
// reach the operator's terminal/log.
func Exec(command string) (stdout, stdin *Conn, cmd *exec.Cmd, err error) {
	childStdinR, parentStdinW, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("transport: exec stdin pipe: %w", err)
	}
	parentStdoutR, childStdoutW, err := os.Pipe()
	if err != nil {
		childStdinR.Close()
		parentStdinW.Close()
		return nil, nil, nil, fmt.Errorf("transport: exec stdout pipe: %w", err)
	}

	cmd = exec.Command("/bin/sh", "-c", command)
	cmd.Stdin = childStdinR
	cmd.Stdout = childStdoutW
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		childStdinR.Close()
		parentStdinW.Close()
		parentStdoutR.Close()
		childStdoutW.Close()
		return nil, nil, nil, fmt.Errorf("transport: exec %q: %w", command, err)
	}
	childStdinR.Close()
	childStdoutW.Close()

	outFD, err := DupDetached(parentStdoutR)
	if err != nil {
		parentStdinW.Close()
		return nil, nil, nil, fmt.Errorf("transport: detach exec stdout: %w", err)
	}
	inFD, err := DupDetached(parentStdinW)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("transport: detach exec stdin: %w", err)
	}

	return New(outFD, "exec"), New(inFD, "exec"), cmd, nil
}
