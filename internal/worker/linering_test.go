// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package worker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineRingKeepsTail(t *testing.T) {
	r := NewLineRing(3)
	for i := 1; i <= 5; i++ {
		_, _ = fmt.Fprintf(r, "line-%d\n", i)
	}
	assert.Equal(t, []string{"line-3", "line-4", "line-5"}, r.LastN(3))
	assert.Equal(t, []string{"line-5"}, r.LastN(1))
}

func TestLineRingPartialFill(t *testing.T) {
	r := NewLineRing(10)
	_, _ = r.Write([]byte("only\n"))
	assert.Equal(t, []string{"only"}, r.LastN(5))
	assert.Empty(t, NewLineRing(10).LastN(5))
}

func TestLineRingMultiLineWrite(t *testing.T) {
	r := NewLineRing(5)
	_, _ = r.Write([]byte("a\nb\nc\n"))
	assert.Equal(t, []string{"a", "b", "c"}, r.LastN(5))
}

func TestLineRingTail(t *testing.T) {
	r := NewLineRing(5)
	_, _ = r.Write([]byte("first\nsecond\n"))
	assert.Equal(t, "first; second", r.Tail(5))
}

func TestLineRingDefaultCapacity(t *testing.T) {
	r := NewLineRing(0)
	_, _ = r.Write([]byte("x\n"))
	assert.Equal(t, []string{"x"}, r.LastN(1))
}
