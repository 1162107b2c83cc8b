//go:build windows

package supervisor

import "os"

// Windows has no portable graceful signal for a hidden console process, so
// termination is forced.
func terminateGroup(p *os.Process) error {
	return p.Kill()
}

func killGroup(p *os.Process) error {
	return p.Kill()
}
