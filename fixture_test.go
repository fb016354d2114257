// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package cnt_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eegio/cnt"
)

// ptr returns a pointer to s, for optional trigger fields.
func ptr(s string) *string { return &s }

type fixtureTrigger struct {
	code        string
	sample      int
	duration    int
	condition   *string
	description *string
	impedances  *string
}

// fixture describes a CNT file to synthesize for tests. The encoder below is
// independent of the package under test so that reader bugs cannot cancel
// out against encoder bugs.
type fixture struct {
	version       int
	rate          int
	startTime     int64
	startDate     float64
	startFraction float64
	channels      []cnt.Channel
	patientName   string
	patientID     string
	sex           byte
	birthday      [3]int // year, month, day
	machineMake   string
	machineModel  string
	machineSerial string
	hospital      string
	triggers      []fixtureTrigger
	samples       [][]float32 // sample-major: samples[s][c]
}

func defaultFixture() fixture {
	return fixture{
		version:       cnt.VersionCurrent,
		rate:          500,
		startTime:     1700438400, // 2023-11-20T00:00:00Z
		startDate:     45250.0,    // same instant as an Excel serial date
		startFraction: 0.5,
		channels: []cnt.Channel{
			{Label: "Fp1", Unit: "uV", Reference: "CPz", Status: "good", Type: "eeg"},
			{Label: "Cz", Unit: "uV", Reference: "CPz", Status: "good", Type: "eeg"},
			{Label: "BIP1", Unit: "uV", Reference: "", Status: "good", Type: "bip"},
		},
		patientName:   "Jane Doe",
		patientID:     "S42",
		sex:           'F',
		birthday:      [3]int{1990, 4, 17},
		machineMake:   "ANT Neuro",
		machineModel:  "eego mylab",
		machineSerial: "EE-2024-1234",
		hospital:      "UMC Utrecht",
		samples: [][]float32{
			{1.5, -2.25, 3},
			{4, 5.5, -6},
			{7, 8, 9.125},
			{-10, 11, 12},
		},
	}
}

func (fx fixture) write(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recording.cnt")
	require.NoError(t, os.WriteFile(path, fx.encode(t), 0o600))
	return path
}

func (fx fixture) encode(t *testing.T) []byte {
	t.Helper()
	le := binary.LittleEndian

	var chanBuf bytes.Buffer
	for _, ch := range fx.channels {
		writePadded(&chanBuf, ch.Label, 32)
		writePadded(&chanBuf, ch.Unit, 16)
		writePadded(&chanBuf, ch.Reference, 32)
		if fx.version == cnt.VersionCurrent {
			writePadded(&chanBuf, ch.Status, 16)
			writePadded(&chanBuf, ch.Type, 16)
		}
	}

	var infoBuf bytes.Buffer
	writePadded(&infoBuf, fx.patientName, 64)
	writePadded(&infoBuf, fx.patientID, 64)
	infoBuf.WriteByte(fx.sex)
	infoBuf.WriteByte(0)
	require.NoError(t, binary.Write(&infoBuf, le, uint16(fx.birthday[0])))
	infoBuf.WriteByte(byte(fx.birthday[1]))
	infoBuf.WriteByte(byte(fx.birthday[2]))
	writePadded(&infoBuf, fx.machineMake, 64)
	writePadded(&infoBuf, fx.machineModel, 64)
	writePadded(&infoBuf, fx.machineSerial, 64)
	writePadded(&infoBuf, fx.hospital, 64)

	var trigBuf bytes.Buffer
	for _, trg := range fx.triggers {
		writeString(&trigBuf, trg.code)
		require.NoError(t, binary.Write(&trigBuf, le, uint64(trg.sample)))
		require.NoError(t, binary.Write(&trigBuf, le, uint32(trg.duration)))
		var flags byte
		if trg.condition != nil {
			flags |= 1 << 0
		}
		if trg.description != nil {
			flags |= 1 << 1
		}
		if trg.impedances != nil {
			flags |= 1 << 2
		}
		trigBuf.WriteByte(flags)
		for _, field := range []*string{trg.condition, trg.description, trg.impedances} {
			if field != nil {
				writeString(&trigBuf, *field)
			}
		}
	}

	var dataBuf bytes.Buffer
	for _, sample := range fx.samples {
		require.Len(t, sample, len(fx.channels))
		for _, v := range sample {
			require.NoError(t, binary.Write(&dataBuf, le, math.Float32bits(v)))
		}
	}

	headerSize := 96
	if fx.version == cnt.VersionLegacy {
		headerSize = 80
	}
	chanOff := headerSize
	infoOff := chanOff + chanBuf.Len()
	trigOff := infoOff + infoBuf.Len()
	dataOff := trigOff + trigBuf.Len()

	var hdr bytes.Buffer
	hdr.WriteString("CNTF")
	require.NoError(t, binary.Write(&hdr, le, uint16(fx.version)))
	hdr.Write([]byte{0, 0})
	require.NoError(t, binary.Write(&hdr, le, uint32(len(fx.channels))))
	require.NoError(t, binary.Write(&hdr, le, uint64(len(fx.samples))))
	require.NoError(t, binary.Write(&hdr, le, uint32(len(fx.triggers))))
	require.NoError(t, binary.Write(&hdr, le, uint32(fx.rate)))
	require.NoError(t, binary.Write(&hdr, le, fx.startTime))
	if fx.version == cnt.VersionCurrent {
		require.NoError(t, binary.Write(&hdr, le, math.Float64bits(fx.startDate)))
		require.NoError(t, binary.Write(&hdr, le, math.Float64bits(fx.startFraction)))
	}
	for _, off := range []int{chanOff, infoOff, trigOff, dataOff} {
		require.NoError(t, binary.Write(&hdr, le, uint64(off)))
	}
	hdr.Write(make([]byte, headerSize-hdr.Len()))

	var out bytes.Buffer
	out.Write(hdr.Bytes())
	out.Write(chanBuf.Bytes())
	out.Write(infoBuf.Bytes())
	out.Write(trigBuf.Bytes())
	out.Write(dataBuf.Bytes())
	return out.Bytes()
}

func writePadded(buf *bytes.Buffer, s string, width int) {
	b := make([]byte, width)
	copy(b, s)
	buf.Write(b)
}

func writeString(buf *bytes.Buffer, s string) {
	var lb [2]byte
	binary.LittleEndian.PutUint16(lb[:], uint16(len(s)))
	buf.Write(lb[:])
	buf.WriteString(s)
}
