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
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Annotations is the classified view of a file's trigger stream. Onsets,
// Durations and Descriptions are parallel slices. Impedances holds one
// per-channel vector for each impedance measurement, in chronological order;
// the matching annotation carries the impedance label.
type Annotations struct {
	Onsets       []int
	Durations    []int
	Descriptions []string
	Impedances   [][]float64
	Disconnect   Disconnect
}

// Disconnect holds the raw amplifier disconnect/reconnect onsets, in
// samples, before span pairing.
type Disconnect struct {
	Start []int
	Stop  []int
}

func (a *Annotations) append(onset, duration int, description string) {
	a.Onsets = append(a.Onsets, onset)
	a.Durations = append(a.Durations, duration)
	a.Descriptions = append(a.Descriptions, description)
}

// TriggerOption configures ReadTriggers.
type TriggerOption func(*triggerOptions)

type triggerOptions struct {
	impedanceAnnotation string
}

// WithImpedanceAnnotation sets the description emitted for impedance
// measurement annotations. The default is "impedance"; an impedance
// measurement may mark a discontinuity in the recording, in which case a
// BAD_-prefixed label lets downstream tooling reject the segment.
func WithImpedanceAnnotation(label string) TriggerOption {
	return func(o *triggerOptions) { o.impedanceAnnotation = label }
}

// ReadTriggers classifies the trigger stream into annotations, impedance
// measurements and amplifier disconnect spans.
//
// Triggers whose description is "impedance" (case-insensitive) and which
// carry an impedance payload become impedance measurements. Triggers whose
// condition is "amplifier disconnected" or "amplifier reconnected"
// (case-insensitive) feed the disconnect side-channel. Everything else
// becomes a regular annotation described by the trigger's description, or
// its code when no description is present.
//
// Disconnect onsets are resolved into one "BAD_disconnection" span per
// start/stop pair when the starts and stops pair up cleanly. Otherwise each
// onset becomes its own zero-duration "Amplifier disconnected" /
// "Amplifier reconnected" annotation; no finer pairing is attempted.
func ReadTriggers(r *Reader, opts ...TriggerOption) (*Annotations, error) {
	o := triggerOptions{impedanceAnnotation: "impedance"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.impedanceAnnotation == "" {
		return nil, errors.New("the impedance annotation cannot be an empty string")
	}

	ann := &Annotations{}
	for k := 0; k < r.TriggerCount(); k++ {
		trg, err := r.Trigger(k)
		if err != nil {
			return nil, err
		}
		// detect impedance measurements
		if trg.Description != nil && strings.EqualFold(*trg.Description, "impedance") && trg.Impedances != nil {
			values, err := parseImpedances(*trg.Impedances)
			if err != nil {
				return nil, fmt.Errorf("trigger %d: %w", k, err)
			}
			ann.Impedances = append(ann.Impedances, values)
			ann.append(trg.Sample, trg.Duration, o.impedanceAnnotation)
			continue
		}
		// detect amplifier disconnection
		if trg.Condition != nil && strings.EqualFold(*trg.Condition, "amplifier disconnected") {
			ann.Disconnect.Start = append(ann.Disconnect.Start, trg.Sample)
			continue
		}
		if trg.Condition != nil && strings.EqualFold(*trg.Condition, "amplifier reconnected") {
			ann.Disconnect.Stop = append(ann.Disconnect.Stop, trg.Sample)
			continue
		}
		// treat all the other triggers as regular event annotations
		description := trg.Code
		if trg.Description != nil {
			description = *trg.Description
		}
		ann.append(trg.Sample, trg.Duration, description)
	}

	ann.resolveDisconnect()
	return ann, nil
}

// resolveDisconnect turns the disconnect side-channel into annotations.
// Don't bother with all the special cases: if the onsets look weird, just
// emit the bare disconnect/reconnect point annotations.
func (a *Annotations) resolveDisconnect() {
	d := a.Disconnect
	paired := len(d.Start) == len(d.Stop) && len(d.Start) != 0 &&
		d.Start[0] < d.Stop[0] && d.Start[len(d.Start)-1] < d.Stop[len(d.Stop)-1]
	if paired {
		for i, start := range d.Start {
			a.append(start, d.Stop[i]-start, "BAD_disconnection")
		}
		return
	}
	for _, onset := range d.Start {
		a.append(onset, 0, "Amplifier disconnected")
	}
	for _, onset := range d.Stop {
		a.append(onset, 0, "Amplifier reconnected")
	}
}

// parseImpedances splits a payload of space-separated per-channel impedance
// values. The vector length is trusted to match the channel count.
func parseImpedances(payload string) ([]float64, error) {
	fields := strings.Split(payload, " ")
	values := make([]float64, len(fields))
	for i, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("impedance value %q: %w", field, ErrMalformedMetadata)
		}
		values[i] = v
	}
	return values, nil
}
