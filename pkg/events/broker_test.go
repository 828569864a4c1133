package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/simple-durable-ops/pkg/core"
)

func TestBroker_DeliversToAllSubscribers(t *testing.T) {
	b := NewBroker(4)
	first := b.Subscribe()
	second := b.Subscribe()

	b.Emit(&core.OperationDispatched{OperationID: "op-1"})

	for _, ch := range []<-chan core.Event{first, second} {
		select {
		case e := <-ch:
			require.IsType(t, &core.OperationDispatched{}, e)
			assert.Equal(t, "op-1", e.(*core.OperationDispatched).OperationID)
		default:
			t.Fatal("expected an event")
		}
	}
}

func TestBroker_DropsWhenFull(t *testing.T) {
	b := NewBroker(1)
	ch := b.Subscribe()

	b.Emit(&core.OperationDispatched{OperationID: "a"})
	b.Emit(&core.OperationDispatched{OperationID: "b"})

	assert.Len(t, ch, 1)
	assert.Equal(t, "a", (<-ch).(*core.OperationDispatched).OperationID)
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := NewBroker(0)
	ch := b.Subscribe()
	assert.Equal(t, DefaultBufferSize, cap(ch))

	b.Unsubscribe(ch)
	b.Emit(&core.OperationDispatched{})

	assert.Empty(t, ch)
}

func TestBroker_NilIgnoresEvents(t *testing.T) {
	var b *Broker
	assert.NotPanics(t, func() { b.Emit(&core.OperationDispatched{}) })
}
