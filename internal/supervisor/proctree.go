package supervisor

import (
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// TerminateTree terminates pid and every descendant, leaves first, then
// waits up to timeout for the root to exit. A process that no longer exists
// is success, not error: the desired end state already holds.
func TerminateTree(pid int, timeout time.Duration) error {
	root, err := process.NewProcess(int32(pid)) // #nosec G115
	if err != nil {
		return nil // already gone
	}
	for _, child := range descendants(root) {
		_ = child.Terminate()
	}
	_ = root.Terminate()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		running, err := root.IsRunning()
		if err != nil || !running {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	// Still running after SIGTERM grace; escalate.
	_ = root.Kill()
	return nil
}

// descendants enumerates the full subtree below p in post-order, leaves
// before their parents, so iterating forward tears the tree down bottom-up.
func descendants(p *process.Process) []*process.Process {
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var all []*process.Process
	for _, c := range children {
		all = append(all, descendants(c)...)
		all = append(all, c)
	}
	return all
}
