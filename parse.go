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
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// ChannelInfo holds the per-channel metadata as parallel slices, the shape
// downstream raw-file adapters consume. Units are lowercased for unit
// mapping.
type ChannelInfo struct {
	Names      []string
	Units      []string
	References []string
	Status     []string
	Types      []string
}

// ReadInfo collects the channel metadata of all channels.
func ReadInfo(r *Reader) ChannelInfo {
	n := r.ChannelCount()
	info := ChannelInfo{
		Names:      make([]string, 0, n),
		Units:      make([]string, 0, n),
		References: make([]string, 0, n),
		Status:     make([]string, 0, n),
		Types:      make([]string, 0, n),
	}
	for k := 0; k < n; k++ {
		ch, _ := r.Channel(k) // k is in range by construction
		info.Names = append(info.Names, ch.Label)
		info.Units = append(info.Units, strings.ToLower(ch.Unit)) // always lower the unit for mapping
		info.References = append(info.References, ch.Reference)
		info.Status = append(info.Status, ch.Status)
		info.Types = append(info.Types, ch.Type)
	}
	return info
}

// BipolarIndices resolves a list of "anode-cathode" channel pairs against
// the file's channel metadata. For each pair the anode is located by name
// and its on-file reference electrode must equal the requested cathode. The
// returned indices identify the channels to re-label as bipolar; the channel
// records themselves are not modified.
func BipolarIndices(info ChannelInfo, pairs []string) ([]int, error) {
	indices := make([]int, 0, len(pairs))
	for _, pair := range pairs {
		anode, cathode, ok := strings.Cut(pair, "-")
		if !ok {
			return nil, fmt.Errorf("bipolar channels should be provided as 'anode-cathode': %q is not valid", pair)
		}
		idx := slices.Index(info.Names, anode)
		if idx < 0 {
			return nil, fmt.Errorf("anode channel %q not found in the channels: %w", anode, ErrChannelNotFound)
		}
		if ref := info.References[idx]; ref != cathode {
			return nil, fmt.Errorf("reference electrode for %s is %q, not %q: %w", anode, ref, cathode, ErrReferenceMismatch)
		}
		indices = append(indices, idx)
	}
	return indices, nil
}

// siScales maps lowercased channel units to the multiplier that converts
// stored values to SI units.
var siScales = map[string]float64{
	"uv": 1e-6,
}

// ScaleFactor returns the multiplier converting values in the given unit to
// SI units, and whether the unit is recognized.
func ScaleFactor(unit string) (float64, bool) {
	factor, ok := siScales[strings.ToLower(unit)]
	return factor, ok
}

// ScaleMatrix scales a channel-major sample matrix to SI units in place,
// one unit per channel. Unrecognized units are logged and passed through
// unscaled; they are not an error.
func ScaleMatrix(data [][]float32, units []string) {
	for c, unit := range units {
		factor, ok := ScaleFactor(unit)
		if !ok {
			slog.Warn("channel unit not recognized, not scaling", "channel", c, "unit", unit)
			continue
		}
		row := data[c]
		for s := range row {
			row[s] = float32(float64(row[s]) * factor)
		}
	}
}
