package modem

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Process is a supervised child process.
type Process interface {
	Pid() int
	// Exited reports, without blocking, whether the process has terminated.
	Exited() (bool, error)
	// Terminate sends SIGTERM and blocks until the process has exited.
	Terminate() error
	// Info samples the process from the operating system.
	Info() (ProcessInfo, error)
}

// Spawner starts external processes.
type Spawner interface {
	Spawn(path string, args []string) (Process, error)
}

// ProcessInfo describes a running process.
type ProcessInfo struct {
	Pid        int       `json:"pid"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	CreateTime time.Time `json:"create_time"`
	CPUPercent float64   `json:"cpu_percent"`
	RSS        uint64    `json:"rss"`
}

// ExecSpawner starts processes with os/exec.
type ExecSpawner struct{}

var _ Spawner = ExecSpawner{}

func (ExecSpawner) Spawn(path string, args []string) (Process, error) {
	cmd := exec.Command(path, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// execProcess reaps its process from a dedicated goroutine, so Exited
// never blocks and Terminate waits on done instead of on the process.
type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	// err is the result of Wait, valid once done is closed.
	err error

	termOnce sync.Once
	termErr  error
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Exited() (bool, error) {
	select {
	case <-p.done:
		return true, nil
	default:
		return false, nil
	}
}

func (p *execProcess) Terminate() error {
	p.termOnce.Do(func() {
		err := p.cmd.Process.Signal(syscall.SIGTERM)
		if err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.termErr = fmt.Errorf("signal pid %d: %w", p.Pid(), err)
			return
		}
		<-p.done
	})
	return p.termErr
}

func (p *execProcess) Info() (ProcessInfo, error) {
	if exited, _ := p.Exited(); exited {
		return ProcessInfo{}, fmt.Errorf("pid %d: %w", p.Pid(), os.ErrProcessDone)
	}
	return processInfo(p.Pid())
}

// processInfo samples pid with gopsutil. Fields the platform cannot report
// are left zero.
func processInfo(pid int) (ProcessInfo, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("inspect pid %d: %w", pid, err)
	}

	info := ProcessInfo{Pid: pid}
	if name, err := proc.Name(); err == nil {
		info.Name = name
	}
	if status, err := proc.Status(); err == nil && len(status) > 0 {
		info.Status = status[0]
	}
	if created, err := proc.CreateTime(); err == nil {
		info.CreateTime = time.UnixMilli(created)
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		info.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		info.RSS = mem.RSS
	}
	return info, nil
}
