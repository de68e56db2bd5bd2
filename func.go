// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import "context"

// Func is a generic operation that accepts an input and returns a result.
//
// Func instances are composed using [Compose2], [Compose3], etc. into dial
// pipelines where the output of one step flows into the next.
//
// Resource cleanup contract: when a Func receives a closeable resource as input
// and returns an error, it closes that resource before returning.
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter wraps a function as a [Func] implementation.
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}
