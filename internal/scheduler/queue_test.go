// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/aperio/internal/jobs"
)

func TestQueueDispatchOrder(t *testing.T) {
	q := newQueue(10)
	require.True(t, q.Push("low", jobs.PriorityLow))
	require.True(t, q.Push("n1", jobs.PriorityNormal))
	require.True(t, q.Push("high", jobs.PriorityHigh))
	require.True(t, q.Push("n2", jobs.PriorityNormal))

	var got []string
	for {
		id, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, id)
	}
	assert.Equal(t, []string{"high", "n1", "n2", "low"}, got)
	assert.Zero(t, q.Len())
}

func TestQueueBound(t *testing.T) {
	q := newQueue(2)
	require.True(t, q.Push("a", jobs.PriorityNormal))
	require.True(t, q.Push("b", jobs.PriorityHigh))
	assert.False(t, q.Push("c", jobs.PriorityHigh), "full queue rejects regardless of priority")

	_, ok := q.Pop()
	require.True(t, ok)
	assert.True(t, q.Push("c", jobs.PriorityHigh), "capacity frees up after pop")
}

func TestQueueRemove(t *testing.T) {
	q := newQueue(10)
	q.Push("a", jobs.PriorityNormal)
	q.Push("b", jobs.PriorityNormal)
	q.Push("c", jobs.PriorityNormal)

	assert.True(t, q.Remove("b"))
	assert.False(t, q.Remove("b"), "second remove is a no-op")
	assert.False(t, q.Remove("missing"))
	assert.Equal(t, 2, q.Len())

	id, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", id)
	id, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "c", id)
}
