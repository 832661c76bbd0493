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

package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"

	"github.com/KINGFIOX/tapip-go/pkg/clock"
	"github.com/KINGFIOX/tapip-go/pkg/device"
	"github.com/KINGFIOX/tapip-go/pkg/iface"
	"github.com/KINGFIOX/tapip-go/pkg/socket"
	"github.com/KINGFIOX/tapip-go/pkg/wire"
)

// stack bundles everything a running command needs.
type stack struct {
	tap    *device.TUNTAP
	dev    device.Device
	iface  *iface.Interface
	logger *zap.Logger

	pcapFile *os.File
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// openStack attaches to the configured TAP device, provisions the host side
// of the link and builds an interface on top.
func openStack(cfg *Config) (*stack, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}

	tap, err := device.OpenTAP(cfg.Device.TAP)
	if err != nil {
		return nil, err
	}

	if err := provisionHostLink(cfg.Device); err != nil {
		tap.Close()
		return nil, err
	}

	s := &stack{tap: tap, dev: tap, logger: logger}

	if cfg.Device.Pcap != "" || verbose {
		var pcapOut io.Writer
		if cfg.Device.Pcap != "" {
			f, err := os.Create(cfg.Device.Pcap)
			if err != nil {
				tap.Close()
				return nil, errors.Wrap(err, "create pcap file")
			}
			s.pcapFile = f
			pcapOut = f
		}
		var sniffLogger *zap.Logger
		if verbose {
			sniffLogger = logger
		}
		sniffer, err := device.NewSniffer(tap, sniffLogger, pcapOut)
		if err != nil {
			tap.Close()
			return nil, err
		}
		s.dev = sniffer
	}

	hwAddr, err := parseHardwareAddr(cfg.Interface.HardwareAddr)
	if err != nil {
		s.Close()
		return nil, err
	}

	ifce := iface.New(iface.Config{
		RandomSeed:   uint64(time.Now().UnixNano()),
		HardwareAddr: hwAddr,
		Logger:       logger,
	}, s.dev, clock.Now())

	var addrs []wire.Cidr
	for _, a := range cfg.Interface.Addresses {
		cidr, err := parseCidr(a)
		if err != nil {
			s.Close()
			return nil, err
		}
		addrs = append(addrs, cidr)
	}
	ifce.UpdateIPAddrs(func(dst *[]wire.Cidr) { *dst = addrs })

	if cfg.Interface.Gateway != "" {
		gw, err := parseAddr(cfg.Interface.Gateway)
		if err != nil {
			s.Close()
			return nil, err
		}
		if _, _, err := ifce.Routes().AddDefaultIPv4Route(gw); err != nil {
			s.Close()
			return nil, err
		}
	}
	ifce.SetAnyIP(cfg.Interface.AnyIP)

	s.iface = ifce
	return s, nil
}

func (s *stack) Close() {
	if s.pcapFile != nil {
		s.pcapFile.Close()
	}
	s.tap.Close()
	s.logger.Sync()
}

// provisionHostLink brings the host side of the TAP link up and optionally
// assigns it an address, so the stack is reachable without manual ip(8)
// invocations.
func provisionHostLink(cfg DeviceConfig) error {
	link, err := netlink.LinkByName(cfg.TAP)
	if err != nil {
		return errors.Wrapf(err, "find link %q", cfg.TAP)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return errors.Wrapf(err, "set link %q up", cfg.TAP)
	}
	if cfg.HostAddr != "" {
		addr, err := netlink.ParseAddr(cfg.HostAddr)
		if err != nil {
			return errors.Wrapf(err, "parse host address %q", cfg.HostAddr)
		}
		if err := netlink.AddrAdd(link, addr); err != nil && !os.IsExist(err) {
			return errors.Wrapf(err, "assign %s to %q", cfg.HostAddr, cfg.TAP)
		}
	}
	return nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the stack, answering ARP and ICMP echo",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			s, err := openStack(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			s.logger.Info("serving",
				zap.String("tap", s.tap.Name()),
				zap.Strings("addresses", cfg.Interface.Addresses))

			sockets := socket.NewSet()
			for {
				select {
				case <-stop:
					s.logger.Info("shutting down")
					return nil
				default:
				}

				s.iface.Poll(clock.Now(), s.dev, sockets)

				wait := 50 * time.Millisecond
				if d, ok := s.iface.PollDelay(clock.Now(), sockets); ok && d < wait {
					wait = d
				}
				if err := s.tap.Wait(wait); err != nil {
					return err
				}
			}
		},
	}
}
