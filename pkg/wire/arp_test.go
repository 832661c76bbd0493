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

package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestARPRoundTrip(t *testing.T) {
	want := ARPRepr{
		Op:                 ARPRequest,
		SourceHardwareAddr: EthernetAddress{0x02, 0, 0, 0, 0, 0x01},
		SourceProtocolAddr: AddrFrom4(192, 168, 1, 1),
		TargetHardwareAddr: EthernetBroadcast,
		TargetProtocolAddr: AddrFrom4(192, 168, 1, 2),
	}
	buf := make([]byte, want.BufferLen())
	want.Emit(buf)

	got, err := ParseARP(buf)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseARP mismatch (-want +got):\n%s", diff)
	}
}

func TestParseARPRejects(t *testing.T) {
	valid := func() []byte {
		repr := ARPRepr{Op: ARPReply}
		buf := make([]byte, repr.BufferLen())
		repr.Emit(buf)
		return buf
	}

	tests := []struct {
		name   string
		mutate func(b []byte) []byte
	}{
		{
			name:   "truncated",
			mutate: func(b []byte) []byte { return b[:ARPSize-1] },
		},
		{
			name: "wrong hardware space",
			mutate: func(b []byte) []byte {
				b[1] = 42
				return b
			},
		},
		{
			name: "wrong protocol space",
			mutate: func(b []byte) []byte {
				b[2], b[3] = 0x86, 0xdd
				return b
			},
		},
		{
			name: "wrong hardware size",
			mutate: func(b []byte) []byte {
				b[4] = 8
				return b
			},
		},
		{
			name: "wrong protocol size",
			mutate: func(b []byte) []byte {
				b[5] = 16
				return b
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseARP(test.mutate(valid()))
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}
