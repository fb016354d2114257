// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package cnt reads ANT Neuro CNT EEG recordings: channel metadata,
// continuous multi-channel sample data, and trigger annotations.
package cnt

import "time"

// Container format revisions. The legacy revision lacks the channel
// status/type fields and the high-precision start timestamp.
const (
	VersionLegacy  = 3
	VersionCurrent = 4
)

// Channel describes a single recording channel. Status and Type are empty
// strings on legacy files, which do not store them.
type Channel struct {
	Label     string // Channel label (e.g. Fp1)
	Unit      string // Unit of the stored values (e.g. uV)
	Reference string // Reference electrode label, empty for bipolar channels
	Status    string
	Type      string
}

// Sex of the recorded subject.
type Sex int

const (
	SexUnknown Sex = iota
	SexMale
	SexFemale
)

func (s Sex) String() string {
	switch s {
	case SexMale:
		return "male"
	case SexFemale:
		return "female"
	default:
		return "unknown"
	}
}

// Patient holds the subject information stored in the recording info section.
type Patient struct {
	Name     string
	ID       string
	Sex      Sex
	Birthday time.Time // Zero when the file carries no valid date of birth.
}

// Device holds the acquisition hardware information.
type Device struct {
	Make         string
	Model        string
	SerialNumber string
	Site         string // Hospital or site name.
}

// Trigger is a raw event marker as stored in the trigger table. Condition,
// Description and Impedances are nil when the file does not carry the field,
// which is distinct from an empty string.
type Trigger struct {
	Code        string
	Sample      int // Onset, in samples from the start of the recording.
	Duration    int // Duration in samples.
	Condition   *string
	Description *string
	Impedances  *string // Space-separated per-channel impedance values.
}
