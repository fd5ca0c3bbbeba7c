// Package lock provides the single-instance lock the daemon holds for its
// whole lifetime.
package lock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// ErrAlreadyLocked is returned when another holder owns the lock.
var ErrAlreadyLocked = errors.New("lock: already held")

// Lock is an exclusive advisory lock on a file that contains the holder's
// PID. Release unlocks and removes the file.
type Lock struct {
	path string
	pid  int

	mu   sync.Mutex
	file *os.File
}

const maxAcquireAttempts = 3

// Acquire takes the lock at path without blocking.
func Acquire(path string) (*Lock, error) {
	for attempt := 1; ; attempt++ {
		f, err := tryLock(path)
		if err != nil {
			return nil, err
		}
		// A releasing holder may have unlinked the file between our open and
		// flock; the lock is only meaningful on the inode still at path.
		if onPath(f, path) {
			return finishAcquire(f, path)
		}
		_ = f.Close()
		if attempt == maxAcquireAttempts {
			return nil, fmt.Errorf("%w: %s keeps being replaced", ErrAlreadyLocked, path)
		}
	}
}

func tryLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyLocked, path)
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}
	return f, nil
}

func onPath(f *os.File, path string) bool {
	held, err := f.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(held, current)
}

func finishAcquire(f *os.File, path string) (*Lock, error) {
	pid := os.Getpid()
	if err := writePID(f, pid); err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("write pid to %s: %w", path, err)
	}

	log.Info().Str("path", path).Int("pid", pid).Msg("acquired single-instance lock")
	return &Lock{path: path, pid: pid, file: f}, nil
}

func writePID(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(pid)), 0); err != nil {
		return err
	}
	return f.Sync()
}

// Release removes the lock file and unlocks it. It is safe to call more than once.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}

	// Remove while still holding the lock so a new holder never sees our file.
	rmErr := os.Remove(l.path)
	if errors.Is(rmErr, os.ErrNotExist) {
		rmErr = nil
	}
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	log.Info().Str("path", l.path).Msg("released single-instance lock")
	return errors.Join(rmErr, unlockErr, closeErr)
}

func (l *Lock) Path() string { return l.path }

func (l *Lock) PID() int { return l.pid }

// ReadPID returns the PID recorded in the lock file at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("lock file %s: %w", path, err)
	}
	return pid, nil
}
