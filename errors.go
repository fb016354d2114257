// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package cnt

import "errors"

// Sentinel errors. All errors returned by this package wrap one of these
// where a sentinel applies, so callers can match with errors.Is.
var (
	// ErrUnsupportedFormat is returned by Open for files without the
	// .cnt extension. The extension check is case-sensitive.
	ErrUnsupportedFormat = errors.New("unsupported file extension")

	// ErrOpenFailed is returned by Open when the container itself is
	// malformed: bad magic, unknown revision, truncated header or tables,
	// or a sample block shorter than the header-declared counts.
	ErrOpenFailed = errors.New("malformed cnt container")

	// ErrClosed is returned by accessors that need the underlying file
	// after Close has been called.
	ErrClosed = errors.New("cnt file is closed")

	// ErrNegativeIndex and ErrIndexExceedsCount are the two bounds
	// failures for channel and trigger access.
	ErrNegativeIndex     = errors.New("index cannot be negative")
	ErrIndexExceedsCount = errors.New("index exceeds count")

	// ErrInvalidRange is returned for sample ranges with negative bounds
	// or an end index past the total sample count.
	ErrInvalidRange = errors.New("invalid sample range")

	// ErrMalformedMetadata marks data-quality conditions in decoded
	// metadata, such as an impossible date of birth or an unparseable
	// impedance value.
	ErrMalformedMetadata = errors.New("malformed metadata")

	// ErrChannelNotFound and ErrReferenceMismatch are returned by
	// BipolarIndices when a requested anode does not exist or its on-file
	// reference is not the requested cathode.
	ErrChannelNotFound   = errors.New("channel not found")
	ErrReferenceMismatch = errors.New("reference electrode mismatch")
)
