// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcMover adapts functions to the Mover interface.
type funcMover struct {
	SendFunc    func(ctx context.Context, data []byte) (int, error)
	ReceiveFunc func(ctx context.Context, buf []byte) (int, error)
}

func (m *funcMover) Send(ctx context.Context, data []byte) (int, error) {
	return m.SendFunc(ctx, data)
}

func (m *funcMover) Receive(ctx context.Context, buf []byte) (int, error) {
	return m.ReceiveFunc(ctx, buf)
}

func newStartedLink(t *testing.T, size int) *Link {
	settings := NewSettings()
	settings.Size = size
	link := NewLink(NewConfig(), settings, DefaultSLogger())
	require.NoError(t, link.Start(context.Background()))
	return link
}

// NewLink populates all fields and starts in ModeInit.
func TestNewLink(t *testing.T) {
	settings := NewSettings()
	link := NewLink(NewConfig(), settings, DefaultSLogger())

	assert.Equal(t, ModeInit, link.Mode())
	assert.Empty(t, link.Chain)
	assert.Nil(t, link.Mover)
	assert.Same(t, settings, link.Settings)
	assert.NotNil(t, link.ErrClassifier)
	assert.NotNil(t, link.Logger)
	assert.NotNil(t, link.TimeNow)
	assert.NotNil(t, link.State())
}

// Start and Stop drive the mode.
func TestLinkLifecycle(t *testing.T) {
	logger, records := newCapturingLogger()
	link := NewLink(NewConfig(), NewSettings(), logger)

	require.NoError(t, link.Start(context.Background()))
	assert.Equal(t, ModeReady, link.Mode())
	require.NoError(t, link.Stop(context.Background()))
	assert.Equal(t, ModeClose, link.Mode())

	assert.Equal(t, 1, countMessages(*records, "linkStart"))
	assert.Equal(t, 1, countMessages(*records, "linkStop"))
}

// Send and Receive fail with a state error unless the link is ready.
func TestLinkNotReady(t *testing.T) {
	for _, mode := range []Mode{ModeInit, ModeActive, ModePause, ModeClose} {
		t.Run(mode.String(), func(t *testing.T) {
			link := NewLink(NewConfig(), NewSettings(), DefaultSLogger())
			link.State().SetMode(mode)

			_, err := link.Send(context.Background(), []byte("x"))
			assert.ErrorIs(t, err, ErrNotReady)
			assert.ErrorIs(t, err, KindState)

			_, err = link.Receive(context.Background(), make([]byte, 1))
			assert.ErrorIs(t, err, ErrNotReady)

			assert.Equal(t, Measure{}, link.Measure())
		})
	}
}

// Size is an inclusive limit for both directions.
func TestLinkSizeLimit(t *testing.T) {
	link := newStartedLink(t, 4)

	count, err := link.Send(context.Background(), make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	_, err = link.Send(context.Background(), make([]byte, 5))
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.ErrorIs(t, err, KindTransport)

	_, err = link.Receive(context.Background(), make([]byte, 5))
	assert.ErrorIs(t, err, ErrTooLarge)

	m := link.Measure()
	assert.Equal(t, uint64(4), m.Send)
	assert.Equal(t, uint64(0), m.Error)
}

// Send returns and accounts the protected length.
func TestLinkSendWithChain(t *testing.T) {
	link := newStartedLink(t, 64)
	link.Chain = Chain{NewSignStage([]byte("key"))}

	count, err := link.Send(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, SignatureSize+5, count)
	assert.Equal(t, uint64(SignatureSize+5), link.Measure().Send)
	assert.False(t, link.Measure().Start.IsZero())
}

// A failing stage is returned verbatim and counted as an error.
func TestLinkSendStageFailure(t *testing.T) {
	link := newStartedLink(t, 64)
	link.Chain = Chain{NewCheckStage(NotEmpty())}

	_, err := link.Send(context.Background(), nil)
	assert.ErrorIs(t, err, ErrValidation)

	m := link.Measure()
	assert.Equal(t, uint64(0), m.Send)
	assert.Equal(t, uint64(1), m.Error)
}

// Without a mover Receive only accounts the buffer length.
func TestLinkReceiveWithoutMover(t *testing.T) {
	link := newStartedLink(t, 64)
	count, err := link.Receive(context.Background(), make([]byte, 16))
	require.NoError(t, err)
	assert.Equal(t, 16, count)
	assert.Equal(t, uint64(16), link.Measure().Receive)
}

// With a mover, protected bytes travel through it in both directions.
func TestLinkWithMover(t *testing.T) {
	var wire []byte
	link := newStartedLink(t, 64)
	link.Chain = Chain{NewSignStage([]byte("key")), NewSealStage([]byte("key"))}
	link.Mover = &funcMover{
		SendFunc: func(ctx context.Context, data []byte) (int, error) {
			wire = append([]byte{}, data...)
			return len(data), nil
		},
		ReceiveFunc: func(ctx context.Context, buf []byte) (int, error) {
			return copy(buf, wire), nil
		},
	}

	sent, err := link.Send(context.Background(), []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, len(wire), sent)
	assert.NotContains(t, string(wire), "ping")

	buf := make([]byte, 64)
	count, err := link.Receive(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), buf[:count])
	assert.Equal(t, uint64(4), link.Measure().Receive)
}

// Mover failures are returned and counted as errors.
func TestLinkMoverFailure(t *testing.T) {
	wantErr := errors.New("broken pipe")
	link := newStartedLink(t, 64)
	link.Mover = &funcMover{
		SendFunc: func(ctx context.Context, data []byte) (int, error) {
			return 0, wantErr
		},
		ReceiveFunc: func(ctx context.Context, buf []byte) (int, error) {
			return 0, wantErr
		},
	}

	_, err := link.Send(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, wantErr)
	_, err = link.Receive(context.Background(), make([]byte, 4))
	assert.ErrorIs(t, err, wantErr)

	m := link.Measure()
	assert.Equal(t, uint64(2), m.Error)
	assert.Equal(t, uint64(0), m.Send)
	assert.Equal(t, uint64(0), m.Receive)
}

// A link with stages sends its full Size over connections with matching
// headroom.
func TestLinkOverConnection(t *testing.T) {
	settings := NewSettings()
	settings.Size = 64
	chain := Chain{NewSignStage([]byte("k"))}
	fn := NewConnectionFunc(NewConfig(), settings, DefaultSLogger())
	fn.Headroom = chain.Overhead()
	left, right := net.Pipe()
	client, _ := fn.Call(context.Background(), left)
	server, _ := fn.Call(context.Background(), right)
	defer client.Close()
	defer server.Close()

	newLink := func(mover Mover) *Link {
		link := NewLink(NewConfig(), settings, DefaultSLogger())
		link.Chain = chain
		link.Mover = mover
		require.NoError(t, link.Start(context.Background()))
		return link
	}
	sender, receiver := newLink(client), newLink(server)

	payload := make([]byte, settings.Size)
	for idx := range payload {
		payload[idx] = byte(idx)
	}
	errch := make(chan error, 1)
	go func() {
		_, err := sender.Send(context.Background(), payload)
		errch <- err
	}()
	buf := make([]byte, settings.Size)
	count, err := receiver.Receive(context.Background(), buf)
	require.NoError(t, err)
	require.NoError(t, <-errch)
	assert.Equal(t, payload, buf[:count])
	assert.Equal(t, uint64(settings.Size+SignatureSize), sender.Measure().Send)
}
