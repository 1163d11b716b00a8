//go:build !linux

package device

import (
	"context"
	"errors"
	"io"
)

// OpenTUN is only available on Linux.
func OpenTUN(name string) Opener {
	return func(context.Context) (io.ReadWriteCloser, error) {
		return nil, errors.New("tun " + name + ": TUN devices are only supported on linux")
	}
}
