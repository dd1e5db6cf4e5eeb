//go:build windows

package performer

import (
	"os"
	"os/exec"
)

// isolate only kills the step process itself; grandchildren may outlive it.
func isolate(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Kill)
	}
}
