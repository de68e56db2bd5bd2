// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

// Stage is a symmetric byte transform.
//
// Implementations must satisfy Expose(Protect(d)) == d for every d within the
// sizes they accept. Both methods must be safe for concurrent use.
type Stage interface {
	// Protect transforms outgoing data.
	Protect(data []byte) ([]byte, error)

	// Expose inverts [Stage.Protect] on incoming data.
	Expose(data []byte) ([]byte, error)
}

// overheader is implemented by stages that add a fixed number of bytes.
type overheader interface {
	Overhead() int
}

// Handler is a one-way byte transform.
type Handler interface {
	Handle(data []byte) ([]byte, error)
}

// HandlerFunc adapts a function to the [Handler] interface.
type HandlerFunc func(data []byte) ([]byte, error)

var _ Handler = HandlerFunc(nil)

// Handle implements [Handler].
func (f HandlerFunc) Handle(data []byte) ([]byte, error) {
	return f(data)
}

// ProtectHandler returns a [Handler] bound to [Stage.Protect].
func ProtectHandler(s Stage) Handler {
	return HandlerFunc(s.Protect)
}

// ExposeHandler returns a [Handler] bound to [Stage.Expose].
func ExposeHandler(s Stage) Handler {
	return HandlerFunc(s.Expose)
}

// Chain is an ordered list of stages.
//
// Outgoing data goes through [Stage.Protect] in list order. Incoming data
// goes through [Stage.Expose] in reverse list order. The zero value is an
// empty chain that passes data through unchanged.
type Chain []Stage

// Outgoing applies every stage's Protect in declared order.
func (c Chain) Outgoing(data []byte) ([]byte, error) {
	handlers := make([]Handler, 0, len(c))
	for _, stage := range c {
		handlers = append(handlers, ProtectHandler(stage))
	}
	return runHandlers(handlers, data)
}

// Incoming applies every stage's Expose in reverse declared order.
func (c Chain) Incoming(data []byte) ([]byte, error) {
	handlers := make([]Handler, 0, len(c))
	for idx := len(c) - 1; idx >= 0; idx-- {
		handlers = append(handlers, ExposeHandler(c[idx]))
	}
	return runHandlers(handlers, data)
}

// Overhead returns the number of bytes [Chain.Outgoing] adds, counting only
// stages that report a fixed overhead.
func (c Chain) Overhead() (total int) {
	for _, stage := range c {
		if oh, ok := stage.(overheader); ok {
			total += oh.Overhead()
		}
	}
	return
}

// runHandlers threads data through handlers. The first failure stops the
// chain and is returned unchanged.
func runHandlers(handlers []Handler, data []byte) ([]byte, error) {
	processed := data
	for _, h := range handlers {
		out, err := h.Handle(processed)
		if err != nil {
			return nil, err
		}
		processed = out
	}
	return processed, nil
}
