package procs

import (
	"errors"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Stage is one escalation step of a termination.
type Stage string

const (
	StageGraceful Stage = "graceful"
	StageForced   Stage = "forced"
)

var ErrProcessGone = errors.New("procs: process already exited")

// Proc is one row of the process census.
type Proc struct {
	PID     int32
	PPID    int32
	Name    string
	Started time.Time
}

// Table is the host process view the Supervisor drives.
type Table interface {
	List() ([]Proc, error)
	Signal(pid int32, stage Stage) error
	Alive(pid int32) bool
	Release(pid int32) error
}

// HostTable reads the live process table through gopsutil.
type HostTable struct{}

func (HostTable) List() ([]Proc, error) {
	ps, err := process.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]Proc, 0, len(ps))
	for _, p := range ps {
		name, err := p.Name()
		if err != nil {
			continue
		}
		row := Proc{PID: p.Pid, Name: name}
		if ppid, err := p.Ppid(); err == nil {
			row.PPID = ppid
		}
		if created, err := p.CreateTime(); err == nil {
			row.Started = time.UnixMilli(created)
		}
		out = append(out, row)
	}
	return out, nil
}

func (HostTable) Alive(pid int32) bool {
	ok, err := process.PidExists(pid)
	return err == nil && ok
}

func (t HostTable) Signal(pid int32, stage Stage) error {
	if !t.Alive(pid) {
		return ErrProcessGone
	}
	return signalProcess(pid, stage)
}

// Release frees any handle the runtime holds for pid.
func (HostTable) Release(pid int32) error {
	p, err := os.FindProcess(int(pid))
	if err != nil {
		return err
	}
	return p.Release()
}
