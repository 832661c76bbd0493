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
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/KINGFIOX/tapip-go/pkg/wire"
)

// Config is the on-disk configuration for the tapip daemon.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Interface InterfaceConfig `yaml:"interface"`
}

// DeviceConfig configures the TAP device and optional capture output.
type DeviceConfig struct {
	// TAP is the name of the TAP device to attach to, e.g. "tap0".
	TAP string `yaml:"tap"`

	// Pcap, when set, is a file path all traffic is mirrored to in pcap
	// format.
	Pcap string `yaml:"pcap"`

	// HostAddr, when set, is a CIDR assigned to the host side of the TAP
	// link so the host can reach the stack without manual setup.
	HostAddr string `yaml:"host_addr"`
}

// InterfaceConfig configures the interface's addresses and routes.
type InterfaceConfig struct {
	HardwareAddr string   `yaml:"hardware_addr"`
	Addresses    []string `yaml:"addresses"`
	Gateway      string   `yaml:"gateway"`
	AnyIP        bool     `yaml:"any_ip"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if cfg.Device.TAP == "" {
		return nil, errors.New("config: device.tap is required")
	}
	if cfg.Interface.HardwareAddr == "" {
		return nil, errors.New("config: interface.hardware_addr is required")
	}
	return &cfg, nil
}

func parseHardwareAddr(s string) (wire.EthernetAddress, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return wire.EthernetAddress{}, errors.Errorf("invalid hardware address %q", s)
	}
	var addr wire.EthernetAddress
	for i, part := range parts {
		b, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return wire.EthernetAddress{}, errors.Wrapf(err, "invalid hardware address %q", s)
		}
		addr[i] = byte(b)
	}
	return addr, nil
}

func parseAddr(s string) (wire.Address, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return wire.Address{}, errors.Errorf("invalid IPv4 address %q", s)
	}
	var addr wire.Address
	for i, part := range parts {
		b, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return wire.Address{}, errors.Wrapf(err, "invalid IPv4 address %q", s)
		}
		addr[i] = byte(b)
	}
	return addr, nil
}

func parseCidr(s string) (wire.Cidr, error) {
	addrStr, lenStr, ok := strings.Cut(s, "/")
	if !ok {
		return wire.Cidr{}, errors.Errorf("invalid CIDR %q", s)
	}
	addr, err := parseAddr(addrStr)
	if err != nil {
		return wire.Cidr{}, err
	}
	prefixLen, err := strconv.ParseUint(lenStr, 10, 8)
	if err != nil || prefixLen > 32 {
		return wire.Cidr{}, errors.Errorf("invalid prefix length in %q", s)
	}
	return wire.CidrFrom(addr, uint8(prefixLen)), nil
}
