// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 identifying a span.
//
// A span is a sequence of operations that can fail in a single, specific
// way. [*Pool.Get] uses a span ID to tag each [*Borrow] so that the get,
// use and release events of one withdrawal can be correlated.
//
// This function panics if the system random number generator fails.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
