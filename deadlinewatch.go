// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import (
	"context"
	"time"
)

// aLongTimeAgo is a non-zero deadline in the past that unblocks pending I/O.
var aLongTimeAgo = time.Unix(1, 0)

// watchDeadline binds one I/O deadline of a stream to ctx for one operation.
//
// The set argument is either SetReadDeadline or SetWriteDeadline of the
// stream. The ctx deadline, if any, becomes the stream deadline. Cancelling
// ctx moves the deadline into the past so that blocked I/O fails promptly.
// Unlike closing the stream, this leaves it usable by the next borrower.
//
// The returned function unregisters the watcher and clears the deadline. It
// must be called exactly once after the I/O completes.
func watchDeadline(ctx context.Context, set func(time.Time) error) (done func()) {
	// Deadline errors are ignored: a stream that rejects them fails the I/O.
	deadline, _ := ctx.Deadline()
	set(deadline)

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		set(aLongTimeAgo)
	})

	return func() {
		if !stop() {
			// The watcher already started: wait for it before clearing.
			<-fired
		}
		set(time.Time{})
	}
}
