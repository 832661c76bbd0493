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
	"encoding/binary"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/KINGFIOX/tapip-go/pkg/clock"
	"github.com/KINGFIOX/tapip-go/pkg/socket"
	"github.com/KINGFIOX/tapip-go/pkg/wire"
)

func newPingCommand() *cobra.Command {
	var (
		count    int
		interval time.Duration
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ping <address>",
		Short: "Send ICMP echo requests through the stack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseAddr(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			s, err := openStack(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			return runPing(s, target, count, interval, timeout)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 4, "number of echo requests to send")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "delay between requests")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "per-request timeout")
	return cmd
}

const pingIdent = 0x22b

func runPing(s *stack, target wire.Address, count int, interval, timeout time.Duration) error {
	sk := socket.NewICMP(16, 16)
	if err := sk.Bind(socket.BindIdent(pingIdent)); err != nil {
		return err
	}
	sockets := socket.NewSet()
	sockets.Add(sk)

	sentAt := make(map[uint16]clock.Instant)
	received := 0
	seqNo := uint16(0)
	nextSend := clock.Now()

	for received < count {
		now := clock.Now()
		s.iface.Poll(now, s.dev, sockets)

		if int(seqNo) < count && sk.CanSend() && !now.Before(nextSend) {
			// The payload carries the send timestamp so replies are
			// self-describing.
			req := wire.ICMPv4EchoRequest{
				Ident: pingIdent,
				SeqNo: seqNo,
				Data:  binary.BigEndian.AppendUint64(nil, uint64(now.Nanoseconds())),
			}
			buf := make([]byte, req.BufferLen())
			req.Emit(buf, wire.ChecksumCapabilities{})
			if err := sk.SendTo(buf, target); err != nil {
				return err
			}
			sentAt[seqNo] = now
			seqNo++
			nextSend = now.Add(interval)
		}

		for {
			msg, from, ok := sk.RecvFrom()
			if !ok {
				break
			}
			repr, err := wire.ParseICMPv4(msg, wire.IgnoredChecksums())
			if err != nil {
				continue
			}
			reply, ok := repr.(wire.ICMPv4EchoReply)
			if !ok || reply.Ident != pingIdent {
				continue
			}
			sent, ok := sentAt[reply.SeqNo]
			if !ok {
				continue
			}
			delete(sentAt, reply.SeqNo)
			received++
			rtt := now.Sub(sent)
			fmt.Printf("%d bytes from %s: icmp_seq=%d time=%v\n",
				len(reply.Data), from, reply.SeqNo, rtt)
		}

		// Expire requests that outlived their timeout.
		for seq, at := range sentAt {
			if now.Sub(at) > timeout {
				delete(sentAt, seq)
				fmt.Printf("icmp_seq=%d timed out\n", seq)
				received++
			}
		}

		wait := interval
		if d, ok := s.iface.PollDelay(now, sockets); ok && d < wait {
			wait = d
		}
		if err := s.tap.Wait(wait); err != nil {
			return err
		}
	}
	return nil
}
