package wayland

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/bnema/waydisplay/internal/logger"
	"golang.org/x/sys/unix"
)

// maxDisplays is how many wayland-N names are tried before giving up.
const maxDisplays = 32

var ErrNoSocket = errors.New("no free wayland display socket")

// Socket is the listening display socket together with its lock file.
type Socket struct {
	name     string
	path     string
	lockPath string
	lock     *os.File
	listener *net.UnixListener
}

// Listen binds the first free <prefix>-N socket in runtimeDir, N counting
// from 1. A name is free when its lock file can be locked; a stale socket
// left behind by a dead compositor is removed.
func Listen(runtimeDir, prefix string) (*Socket, error) {
	if runtimeDir == "" {
		return nil, fmt.Errorf("%w: XDG_RUNTIME_DIR is not set", ErrNoSocket)
	}
	if prefix == "" {
		prefix = "wayland"
	}
	if err := os.MkdirAll(runtimeDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create runtime dir: %w", err)
	}

	for n := 1; n <= maxDisplays; n++ {
		name := fmt.Sprintf("%s-%d", prefix, n)
		s, err := bind(runtimeDir, name)
		if err == nil {
			logger.Infof("Listening on %s", s.path)
			return s, nil
		}
		logger.Debug("Display socket unavailable", "name", name, "err", err)
	}
	return nil, fmt.Errorf("%w in %s", ErrNoSocket, runtimeDir)
}

func bind(dir, name string) (*Socket, error) {
	path := filepath.Join(dir, name)
	lockPath := path + ".lock"

	lock, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR|unix.O_CLOEXEC, 0660)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lock.Close()
		return nil, fmt.Errorf("display %s is locked: %w", name, err)
	}

	// We hold the lock, so any socket file is stale.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		unlock(lock, lockPath)
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}

	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		unlock(lock, lockPath)
		return nil, fmt.Errorf("failed to create socket listener: %w", err)
	}
	l.SetUnlinkOnClose(true)

	return &Socket{name: name, path: path, lockPath: lockPath, lock: lock, listener: l}, nil
}

func unlock(lock *os.File, path string) {
	os.Remove(path)
	lock.Close()
}

// Name is the WAYLAND_DISPLAY value clients connect with.
func (s *Socket) Name() string { return s.name }

// Path is the socket's filesystem path.
func (s *Socket) Path() string { return s.path }

func (s *Socket) accept() (*net.UnixConn, error) {
	return s.listener.AcceptUnix()
}

// Close stops listening and removes the socket and lock files.
func (s *Socket) Close() error {
	err := s.listener.Close()
	if rmErr := os.Remove(s.path); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	unlock(s.lock, s.lockPath)
	logger.Debug("Display socket removed", "path", s.path)
	return err
}
