//go:build linux

package device

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

const tunDevice = "/dev/net/tun"

// OpenTUN attaches to (or creates) the layer 3 TUN interface name without
// packet information headers, so every read and write is one IP packet.
// The descriptor is non-blocking and registered with the runtime poller,
// which lets Stop interrupt a pending read and enables read deadlines.
func OpenTUN(name string) Opener {
	return func(context.Context) (io.ReadWriteCloser, error) {
		fd, err := unix.Open(tunDevice, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", tunDevice, err)
		}
		ifr, err := unix.NewIfreq(name)
		if err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("tun %q: %w", name, err)
		}
		ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
		if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("tun %q: TUNSETIFF: %w", name, err)
		}
		return os.NewFile(uintptr(fd), ifr.Name()), nil
	}
}
