// Copyright 2025 The tapip-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package device

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/KINGFIOX/tapip-go/pkg/clock"
	"github.com/KINGFIOX/tapip-go/pkg/wire"
)

// TUNTAP is an Ethernet device backed by a Linux TAP interface.
//
// Attaching to a persistent TAP configured with the current user's UID needs
// no special privileges; creating one requires CAP_NET_ADMIN.
type TUNTAP struct {
	fd   int
	name string
	caps Capabilities
}

// OpenTAP attaches to the TAP interface called name, creating it if it does
// not exist, and puts the descriptor in non-blocking mode.
func OpenTAP(name string) (*TUNTAP, error) {
	fd, err := unix.Open("/dev/net/tun", unix.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open /dev/net/tun")
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "bad interface name %q", name)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "TUNSETIFF %q", name)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, errors.Wrap(err, "set nonblocking")
	}

	mtu, err := interfaceMTU(name)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &TUNTAP{
		fd:   fd,
		name: name,
		caps: Capabilities{
			Medium: MediumEthernet,
			MTU:    mtu + wire.EthernetHeaderSize,
		},
	}, nil
}

// interfaceMTU reads the OS-visible (IP) MTU of the interface.
func interfaceMTU(name string) (int, error) {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return 0, errors.Wrap(err, "mtu probe socket")
	}
	defer unix.Close(sock)

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return 0, errors.Wrapf(err, "bad interface name %q", name)
	}
	if err := unix.IoctlIfreq(sock, unix.SIOCGIFMTU, ifr); err != nil {
		return 0, errors.Wrapf(err, "SIOCGIFMTU %q", name)
	}
	return int(ifr.Uint32()), nil
}

// Name returns the OS interface name.
func (d *TUNTAP) Name() string { return d.name }

// Wait blocks until the descriptor becomes readable or timeout elapses.
// A negative timeout waits indefinitely.
func (d *TUNTAP) Wait(timeout time.Duration) error {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
	}
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	_, err := unix.Poll(fds, ms)
	if err != nil && err != unix.EINTR {
		return errors.Wrap(err, "poll tap fd")
	}
	return nil
}

// Close releases the TAP descriptor.
func (d *TUNTAP) Close() error {
	return unix.Close(d.fd)
}

// Receive implements Device.Receive.
func (d *TUNTAP) Receive(now clock.Instant) (RxToken, TxToken, bool) {
	buf := make([]byte, d.caps.MTU)
	n, err := unix.Read(d.fd, buf)
	if err != nil || n <= 0 {
		// EAGAIN: nothing queued. Anything else is dropped like noise;
		// a dead fd will keep reporting no traffic.
		return nil, nil, false
	}
	return channelRxToken{frame: buf[:n]}, tapTxToken{dev: d}, true
}

// Transmit implements Device.Transmit.
func (d *TUNTAP) Transmit(now clock.Instant) (TxToken, bool) {
	return tapTxToken{dev: d}, true
}

// Capabilities implements Device.Capabilities.
func (d *TUNTAP) Capabilities() Capabilities {
	return d.caps
}

type tapTxToken struct {
	dev *TUNTAP
}

// Consume implements TxToken.Consume. Frames that cannot be written because
// the TAP queue is momentarily full are dropped, matching the lossy nature
// of the medium.
func (t tapTxToken) Consume(length int, f func(buf []byte)) {
	buf := make([]byte, length)
	f(buf)
	_, _ = unix.Write(t.dev.fd, buf)
}
