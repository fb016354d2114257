// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package cnt

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Excel-serial timestamp conversion. The serial range bounds plausible
// recording dates; values outside it are not interpreted as timestamps.
// The epoch offset is the fixed distance between the Excel and UNIX epochs
// in seconds. These constants are inherited from the format, do not re-derive
// them.
const (
	excelSerialMin   = 27538
	excelSerialMax   = 2958464
	excelEpochOffset = 2209161600
	secondsPerDay    = 86400
)

// Channel counts above this are rejected at open time as container
// corruption rather than deferred to an allocation failure.
const maxChannelCount = 1 << 16

// Reader reads a CNT file. Channel metadata, recording info and the trigger
// table are decoded and validated at open time; sample data is read from
// disk on demand.
//
// A Reader is not safe for concurrent use. Distinct Readers, including
// Readers over the same file, are independent.
type Reader struct {
	f        *os.File
	enc      encoding.Encoding
	lay      layout
	hdr      header
	channels []Channel
	info     recordingInfo
	triggers []Trigger
	closed   bool
}

// Option configures a Reader at open time.
type Option func(*Reader)

// WithEncoding sets the character encoding used to decode on-disk strings.
// The default is ISO 8859-1 (latin-1), which is what ANT acquisition
// software writes.
func WithEncoding(enc encoding.Encoding) Option {
	return func(r *Reader) { r.enc = enc }
}

// Open opens a CNT file for reading. It fails with ErrUnsupportedFormat if
// the path does not carry the .cnt extension, with the underlying fs error
// if the file cannot be opened, and with ErrOpenFailed if the container is
// malformed. The returned Reader must be released with Close.
func Open(path string, opts ...Option) (*Reader, error) {
	if ext := filepath.Ext(path); ext != ".cnt" {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedFormat, ext)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening cnt file: %w", err)
	}
	r := &Reader{f: f, enc: charmap.ISO8859_1}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.parse(); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	return r, nil
}

// Close releases the underlying file. It is safe to call more than once;
// subsequent calls are no-ops.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.f.Close()
}

// parse decodes the header and all metadata tables, failing on anything a
// later accessor would otherwise trip over lazily.
func (r *Reader) parse() error {
	st, err := r.f.Stat()
	if err != nil {
		return err
	}
	size := st.Size()

	var pre [8]byte
	if _, err := io.ReadFull(r.f, pre[:]); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if string(pre[0:4]) != containerMagic {
		return fmt.Errorf("bad magic %q", pre[0:4])
	}
	switch version := binary.LittleEndian.Uint16(pre[4:6]); version {
	case VersionLegacy:
		r.lay = legacyLayout{}
	case VersionCurrent:
		r.lay = currentLayout{}
	default:
		return fmt.Errorf("unknown format revision %d", version)
	}

	hb := make([]byte, r.lay.headerSize())
	copy(hb, pre[:])
	if _, err := io.ReadFull(r.f, hb[len(pre):]); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	r.lay.parseHeader(hb, &r.hdr)

	if r.hdr.channelCount == 0 || r.hdr.channelCount > maxChannelCount {
		return fmt.Errorf("implausible channel count %d", r.hdr.channelCount)
	}
	if r.hdr.sampleCount > math.MaxInt64/4/uint64(r.hdr.channelCount) {
		return fmt.Errorf("implausible sample count %d", r.hdr.sampleCount)
	}
	need := r.hdr.dataOff + r.hdr.sampleCount*uint64(r.hdr.channelCount)*4
	if uint64(size) < need {
		return fmt.Errorf("sample block truncated: file is %d bytes, need %d", size, need)
	}

	if err := r.parseChannelTable(); err != nil {
		return err
	}
	ib := make([]byte, infoSectionSize)
	if _, err := r.f.ReadAt(ib, int64(r.hdr.infoOff)); err != nil {
		return fmt.Errorf("reading recording info: %w", err)
	}
	r.info = parseInfoSection(ib, r.decodePadded)
	return r.parseTriggerTable()
}

func (r *Reader) parseChannelTable() error {
	recSize := r.lay.channelRecordSize()
	cb := make([]byte, int(r.hdr.channelCount)*recSize)
	if _, err := r.f.ReadAt(cb, int64(r.hdr.channelTableOff)); err != nil {
		return fmt.Errorf("reading channel table: %w", err)
	}
	r.channels = make([]Channel, r.hdr.channelCount)
	for i := range r.channels {
		r.channels[i] = r.lay.parseChannel(cb[i*recSize:(i+1)*recSize], r.decodePadded)
	}
	return nil
}

func (r *Reader) parseTriggerTable() error {
	if _, err := r.f.Seek(int64(r.hdr.triggerTableOff), io.SeekStart); err != nil {
		return fmt.Errorf("seeking to trigger table: %w", err)
	}
	br := bufio.NewReader(r.f)
	r.triggers = make([]Trigger, 0, r.hdr.triggerCount)
	for i := 0; i < int(r.hdr.triggerCount); i++ {
		trg, err := r.readTrigger(br)
		if err != nil {
			return fmt.Errorf("reading trigger %d: %w", i, err)
		}
		r.triggers = append(r.triggers, trg)
	}
	return nil
}

func (r *Reader) readTrigger(br *bufio.Reader) (Trigger, error) {
	code, err := r.readString(br)
	if err != nil {
		return Trigger{}, err
	}
	var fixed [13]byte // sample index, duration, presence flags
	if _, err := io.ReadFull(br, fixed[:]); err != nil {
		return Trigger{}, err
	}
	trg := Trigger{
		Code:     code,
		Sample:   int(binary.LittleEndian.Uint64(fixed[0:8])),
		Duration: int(binary.LittleEndian.Uint32(fixed[8:12])),
	}
	flags := fixed[12]
	for _, field := range []struct {
		flag byte
		dst  **string
	}{
		{trgHasCondition, &trg.Condition},
		{trgHasDesc, &trg.Description},
		{trgHasImpedances, &trg.Impedances},
	} {
		if flags&field.flag == 0 {
			continue
		}
		s, err := r.readString(br)
		if err != nil {
			return Trigger{}, err
		}
		*field.dst = &s
	}
	return trg, nil
}

// readString reads a uint16 length-prefixed string.
func (r *Reader) readString(br *bufio.Reader) (string, error) {
	var lb [2]byte
	if _, err := io.ReadFull(br, lb[:]); err != nil {
		return "", err
	}
	b := make([]byte, binary.LittleEndian.Uint16(lb[:]))
	if _, err := io.ReadFull(br, b); err != nil {
		return "", err
	}
	return r.decodeString(b)
}

// decodePadded decodes a fixed-width NUL/space-padded field.
func (r *Reader) decodePadded(b []byte) string {
	s, err := r.decodeString(bytes.TrimRight(b, "\x00 "))
	if err != nil {
		// Keep the raw bytes rather than dropping the field; the default
		// latin-1 decoder cannot fail.
		return string(b)
	}
	return s
}

func (r *Reader) decodeString(b []byte) (string, error) {
	out, err := r.enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Version reports the container format revision, VersionLegacy or
// VersionCurrent.
func (r *Reader) Version() int { return r.hdr.version }

// ChannelCount reports the total number of channels.
func (r *Reader) ChannelCount() int { return len(r.channels) }

// SampleCount reports the total number of samples, a sample being one value
// per channel.
func (r *Reader) SampleCount() int { return int(r.hdr.sampleCount) }

// TriggerCount reports the total number of triggers (annotations).
func (r *Reader) TriggerCount() int { return len(r.triggers) }

// SampleFrequency reports the sampling frequency in Hz.
func (r *Reader) SampleFrequency() int { return int(r.hdr.sampleFrequency) }

// Channel returns the channel record at the given 0-based index.
func (r *Reader) Channel(index int) (Channel, error) {
	if index < 0 {
		return Channel{}, fmt.Errorf("channel index %d: %w", index, ErrNegativeIndex)
	}
	if n := len(r.channels); index >= n {
		return Channel{}, fmt.Errorf("channel index %d exceeds total channel count %d: %w", index, n, ErrIndexExceedsCount)
	}
	return r.channels[index], nil
}

// Trigger returns the trigger record at the given 0-based index.
func (r *Reader) Trigger(index int) (Trigger, error) {
	if index < 0 {
		return Trigger{}, fmt.Errorf("trigger index %d: %w", index, ErrNegativeIndex)
	}
	if n := len(r.triggers); index >= n {
		return Trigger{}, fmt.Errorf("trigger index %d exceeds total trigger count %d: %w", index, n, ErrIndexExceedsCount)
	}
	return r.triggers[index], nil
}

// StartTime returns the acquisition start time with integer-second
// precision.
func (r *Reader) StartTime() time.Time {
	return time.Unix(r.hdr.startTime, 0).UTC()
}

// StartTimeAndFraction returns the acquisition start time with sub-second
// precision. The second return value is false when the file is a legacy
// recording or the stored Excel-serial date lies outside the valid range,
// in which case the value cannot be interpreted as a timestamp.
func (r *Reader) StartTimeAndFraction() (time.Time, bool) {
	if !r.lay.hasStartFraction() {
		return time.Time{}, false
	}
	serial := r.hdr.startDate
	if serial < excelSerialMin || serial > excelSerialMax {
		return time.Time{}, false
	}
	secs := int64(math.Round(serial*secondsPerDay)) - excelEpochOffset
	frac := time.Duration(r.hdr.startFraction * float64(time.Second))
	return time.Unix(secs, 0).Add(frac).UTC(), true
}

// Patient returns the subject information. When the on-disk date of birth
// does not form a valid calendar date, the record is returned with a zero
// Birthday alongside an error wrapping ErrMalformedMetadata.
func (r *Reader) Patient() (Patient, error) {
	p := Patient{
		Name: r.info.patientName,
		ID:   r.info.patientID,
		Sex:  parseSex(r.info.sex),
	}
	birthday, err := calendarDate(r.info.birthYear, r.info.birthMonth, r.info.birthDay)
	if err != nil {
		return p, fmt.Errorf("patient date of birth: %w", err)
	}
	p.Birthday = birthday
	return p, nil
}

// A raw NUL sex byte means the field was never populated and is treated the
// same as an explicit empty value.
func parseSex(b byte) Sex {
	switch b {
	case 'M':
		return SexMale
	case 'F':
		return SexFemale
	default:
		return SexUnknown
	}
}

// calendarDate assembles a date from decomposed fields. Zeroed or impossible
// components (the on-disk initial value is 0/0/0) are a data-quality
// condition, not a date.
func calendarDate(year, month, day int) (time.Time, error) {
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if year == 0 || t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return time.Time{}, fmt.Errorf("invalid date %04d-%02d-%02d: %w", year, month, day, ErrMalformedMetadata)
	}
	return t, nil
}

// DeviceInfo returns the acquisition hardware information.
func (r *Reader) DeviceInfo() Device {
	return Device{
		Make:         r.info.machineMake,
		Model:        r.info.model,
		SerialNumber: r.info.serial,
		Site:         r.info.hospital,
	}
}

// Hospital returns the hospital or site name of the recording.
func (r *Reader) Hospital() string { return r.info.hospital }

// Samples returns the samples in the half-open range [fro, to) as a flat
// sequence ordered sample-major: all channels of sample fro, then all
// channels of sample fro+1, and so on. Values are in raw device units; see
// ScaleMatrix for conversion to SI units.
func (r *Reader) Samples(fro, to int) ([]float32, error) {
	if err := r.checkSampleRange(fro, to); err != nil {
		return nil, err
	}
	if r.closed {
		return nil, ErrClosed
	}
	nchan := r.ChannelCount()
	buf := make([]byte, (to-fro)*nchan*4)
	off := int64(r.hdr.dataOff) + int64(fro)*int64(nchan)*4
	if _, err := r.f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("reading samples [%d:%d): %w", fro, to, err)
	}
	out := make([]float32, (to-fro)*nchan)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

// SampleMatrix returns the samples in [fro, to) as a channel-major matrix of
// shape (channel count, to-fro): the transpose of the flat form returned by
// Samples. The matrix is built from a single read of the underlying block.
func (r *Reader) SampleMatrix(fro, to int) ([][]float32, error) {
	flat, err := r.Samples(fro, to)
	if err != nil {
		return nil, err
	}
	nchan := r.ChannelCount()
	n := to - fro
	backing := make([]float32, nchan*n)
	out := make([][]float32, nchan)
	for c := range out {
		out[c] = backing[c*n : (c+1)*n]
	}
	for s := 0; s < n; s++ {
		for c := 0; c < nchan; c++ {
			out[c][s] = flat[s*nchan+c]
		}
	}
	return out, nil
}

func (r *Reader) checkSampleRange(fro, to int) error {
	if fro < 0 || to < 0 {
		return fmt.Errorf("start/stop index %d/%d cannot be negative: %w", fro, to, ErrInvalidRange)
	}
	if n := r.SampleCount(); to > n {
		return fmt.Errorf("end index %d exceeds total sample count %d: %w", to, n, ErrInvalidRange)
	}
	if to < fro {
		return fmt.Errorf("start index %d exceeds end index %d: %w", fro, to, ErrInvalidRange)
	}
	return nil
}

func float64frombytes(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}
