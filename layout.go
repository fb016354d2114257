// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package cnt

import "encoding/binary"

// On-disk structure, all integers little-endian:
//
//	header        magic "CNTF", uint16 version, reserved, counts, sample
//	              frequency, start time, (current only) Excel-serial start
//	              date + sub-second fraction, section offsets
//	channel table fixed-width NUL-padded latin-1 records
//	info section  patient, date of birth, device, hospital
//	trigger table variable-length records, uint16 length-prefixed strings
//	sample block  float32, interleaved sample-major
const containerMagic = "CNTF"

// header holds the decoded fixed header, identical for both revisions once
// parsed. startDate/startFraction stay zero on legacy files.
type header struct {
	version         int
	channelCount    uint32
	sampleCount     uint64
	triggerCount    uint32
	sampleFrequency uint32
	startTime       int64   // UNIX seconds
	startDate       float64 // Excel serial date, current revision only
	startFraction   float64 // sub-second fraction, current revision only
	channelTableOff uint64
	infoOff         uint64
	triggerTableOff uint64
	dataOff         uint64
}

// layout abstracts the two on-disk revisions so that call sites never branch
// on the format version. The concrete layout is selected once at open time
// from the header version field.
type layout interface {
	headerSize() int
	channelRecordSize() int
	hasStartFraction() bool
	parseHeader(b []byte, h *header)
	parseChannel(b []byte, decode func([]byte) string) Channel
}

type currentLayout struct{}

func (currentLayout) headerSize() int        { return 96 }
func (currentLayout) channelRecordSize() int { return 112 }
func (currentLayout) hasStartFraction() bool { return true }

func (currentLayout) parseHeader(b []byte, h *header) {
	h.version = VersionCurrent
	h.channelCount = binary.LittleEndian.Uint32(b[8:12])
	h.sampleCount = binary.LittleEndian.Uint64(b[12:20])
	h.triggerCount = binary.LittleEndian.Uint32(b[20:24])
	h.sampleFrequency = binary.LittleEndian.Uint32(b[24:28])
	h.startTime = int64(binary.LittleEndian.Uint64(b[28:36]))
	h.startDate = float64frombytes(b[36:44])
	h.startFraction = float64frombytes(b[44:52])
	h.channelTableOff = binary.LittleEndian.Uint64(b[52:60])
	h.infoOff = binary.LittleEndian.Uint64(b[60:68])
	h.triggerTableOff = binary.LittleEndian.Uint64(b[68:76])
	h.dataOff = binary.LittleEndian.Uint64(b[76:84])
}

func (currentLayout) parseChannel(b []byte, decode func([]byte) string) Channel {
	return Channel{
		Label:     decode(b[0:32]),
		Unit:      decode(b[32:48]),
		Reference: decode(b[48:80]),
		Status:    decode(b[80:96]),
		Type:      decode(b[96:112]),
	}
}

type legacyLayout struct{}

func (legacyLayout) headerSize() int        { return 80 }
func (legacyLayout) channelRecordSize() int { return 80 }
func (legacyLayout) hasStartFraction() bool { return false }

func (legacyLayout) parseHeader(b []byte, h *header) {
	h.version = VersionLegacy
	h.channelCount = binary.LittleEndian.Uint32(b[8:12])
	h.sampleCount = binary.LittleEndian.Uint64(b[12:20])
	h.triggerCount = binary.LittleEndian.Uint32(b[20:24])
	h.sampleFrequency = binary.LittleEndian.Uint32(b[24:28])
	h.startTime = int64(binary.LittleEndian.Uint64(b[28:36]))
	h.channelTableOff = binary.LittleEndian.Uint64(b[36:44])
	h.infoOff = binary.LittleEndian.Uint64(b[44:52])
	h.triggerTableOff = binary.LittleEndian.Uint64(b[52:60])
	h.dataOff = binary.LittleEndian.Uint64(b[60:68])
}

// Legacy channel records carry only label, unit and reference. Status and
// type default to empty strings to keep the record shape uniform.
func (legacyLayout) parseChannel(b []byte, decode func([]byte) string) Channel {
	return Channel{
		Label:     decode(b[0:32]),
		Unit:      decode(b[32:48]),
		Reference: decode(b[48:80]),
	}
}

// recordingInfo is the decoded info section, identical in both revisions.
type recordingInfo struct {
	patientName string
	patientID   string
	sex         byte
	birthYear   int
	birthMonth  int
	birthDay    int
	machineMake string
	model       string
	serial      string
	hospital    string
}

const infoSectionSize = 390

func parseInfoSection(b []byte, decode func([]byte) string) recordingInfo {
	return recordingInfo{
		patientName: decode(b[0:64]),
		patientID:   decode(b[64:128]),
		sex:         b[128], // b[129] is padding
		birthYear:   int(binary.LittleEndian.Uint16(b[130:132])),
		birthMonth:  int(b[132]),
		birthDay:    int(b[133]),
		machineMake: decode(b[134:198]),
		model:       decode(b[198:262]),
		serial:      decode(b[262:326]),
		hospital:    decode(b[326:390]),
	}
}

// Trigger record presence flags.
const (
	trgHasCondition  = 1 << 0
	trgHasDesc       = 1 << 1
	trgHasImpedances = 1 << 2
)
