package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpointEqualityAndUniqueness(t *testing.T) {
	a := NewEndpoint()
	b := NewEndpoint()

	assert.True(t, a.Equal(a))
	assert.False(t, a.Equal(b))
	assert.NotEqual(t, a.String(), b.String())
}

func TestMessageSeqNo(t *testing.T) {
	m := Init{MessageBase: MessageBase{Seq: 7}, PageSize: 4096}
	assert.Equal(t, uint64(7), m.SeqNo())
}

type recordingDispatcher struct {
	mu   sync.Mutex
	seen []uint64
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, msg.SeqNo())
	return nil
}

func TestDemuxPreservesPerObjectOrderAndFansOutAcrossObjects(t *testing.T) {
	controlA := NewEndpoint()
	controlB := NewEndpoint()

	dispatchers := map[Endpoint]*recordingDispatcher{
		controlA: {},
		controlB: {},
	}

	d := &Demux{
		KeyOf: func(m Message) any {
			switch msg := m.(type) {
			case DataRequest:
				return msg.Control
			default:
				return nil
			}
		},
		Lookup: func(key any) (Dispatcher, bool) {
			ep, ok := key.(Endpoint)
			if !ok {
				return nil, false
			}
			disp, ok := dispatchers[ep]
			return disp, ok
		},
	}

	in := make(chan Message, 8)
	in <- DataRequest{MessageBase: MessageBase{Seq: 0}, Control: controlA, Start: 0, Length: 4096}
	in <- DataRequest{MessageBase: MessageBase{Seq: 1}, Control: controlA, Start: 4096, Length: 4096}
	in <- DataRequest{MessageBase: MessageBase{Seq: 0}, Control: controlB, Start: 0, Length: 4096}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, d.Run(ctx, in))

	assert.Equal(t, []uint64{0, 1}, dispatchers[controlA].seen)
	assert.Equal(t, []uint64{0}, dispatchers[controlB].seen)
}

func TestDemuxDropsMessagesForUnclaimedKeys(t *testing.T) {
	d := &Demux{
		KeyOf:  func(Message) any { return "nobody-home" },
		Lookup: func(any) (Dispatcher, bool) { return nil, false },
	}

	in := make(chan Message, 1)
	in <- DataRequest{MessageBase: MessageBase{Seq: 0}}
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, d.Run(ctx, in))
}
