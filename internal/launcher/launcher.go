// Package launcher starts the terminal process and reports when it exits.
package launcher

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// ErrorKind classifies a spawn failure
type ErrorKind int

const (
	ExecutableNotFound ErrorKind = iota
	LaunchFailed
)

// ErrExecutableNotFound matches SpawnErrors of kind ExecutableNotFound via errors.Is
var ErrExecutableNotFound = errors.New("terminal executable not found")

// SpawnError is returned when a terminal could not be started
type SpawnError struct {
	Kind   ErrorKind
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	if e.Kind == ExecutableNotFound {
		return fmt.Sprintf("spawn %s: executable not found: %v", e.Binary, e.Err)
	}
	return fmt.Sprintf("spawn %s: launch failed: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrExecutableNotFound) match by kind
func (e *SpawnError) Is(target error) bool {
	return target == ErrExecutableNotFound && e.Kind == ExecutableNotFound
}

// Process is a running terminal
type Process struct {
	PID       int
	SpawnedAt time.Time
	Identity  Identity
}

// Exit reports that a spawned process ended
type Exit struct {
	PID int
	Err error // nil for a clean exit
	At  time.Time
}

// Launcher spawns terminals. Each child is reaped on its own goroutine and
// reported through onExit.
type Launcher struct {
	onExit   func(Exit)
	log      zerolog.Logger
	lookPath func(string) (string, error)
}

// New creates a launcher. onExit is called from the reaping goroutine.
func New(onExit func(Exit), log zerolog.Logger) *Launcher {
	if onExit == nil {
		onExit = func(Exit) {}
	}
	return &Launcher{
		onExit:   onExit,
		log:      log,
		lookPath: exec.LookPath,
	}
}

// Spawn starts the terminal described by id
func (l *Launcher) Spawn(id Identity) (*Process, error) {
	path, err := l.lookPath(id.Binary)
	if err != nil {
		kind := LaunchFailed
		if errors.Is(err, exec.ErrNotFound) {
			kind = ExecutableNotFound
		}
		return nil, &SpawnError{Kind: kind, Binary: id.Binary, Err: err}
	}

	cmd := exec.Command(path, id.Argv()...)
	// Own process group: Ctrl-C aimed at the daemon must not reach the terminal
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	l.log.Info().
		Str("binary", path).
		Strs("args", cmd.Args[1:]).
		Str("marker", id.Marker).
		Str("strategy", id.Strategy.String()).
		Msg("spawning terminal")

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Kind: LaunchFailed, Binary: id.Binary, Err: err}
	}

	proc := &Process{
		PID:       cmd.Process.Pid,
		SpawnedAt: time.Now(),
		Identity:  id,
	}

	go func() {
		err := cmd.Wait()
		l.onExit(Exit{PID: proc.PID, Err: err, At: time.Now()})
	}()

	return proc, nil
}

// Terminate asks a process to exit with SIGTERM. A process that is already
// gone is not an error.
func Terminate(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}
	return nil
}
