package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushDropsOldest(t *testing.T) {
	tests := []struct {
		name        string
		capacity    int
		push        []int
		wantItems   []int
		wantDropped uint64
	}{
		{name: "single slot keeps newest", capacity: 1, push: []int{1, 2, 3}, wantItems: []int{3}, wantDropped: 2},
		{name: "no drops below capacity", capacity: 3, push: []int{1, 2}, wantItems: []int{1, 2}, wantDropped: 0},
		{name: "deeper queue", capacity: 2, push: []int{1, 2, 3, 4}, wantItems: []int{3, 4}, wantDropped: 2},
		{name: "zero capacity acts as one", capacity: 0, push: []int{7, 8}, wantItems: []int{8}, wantDropped: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New[int](tt.capacity, DropOldest)
			for _, v := range tt.push {
				require.True(t, q.Push(v))
			}
			st := q.Stats()
			assert.Equal(t, tt.wantDropped, st.Dropped)
			assert.Equal(t, uint64(len(tt.push)), st.Pushed)
			assert.Equal(t, len(tt.wantItems), st.Len)

			for _, want := range tt.wantItems {
				got, ok := q.Pop()
				require.True(t, ok)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestDroppedOnlyGrowsOnFullPush(t *testing.T) {
	q := New[int](2, DropOldest)
	var last uint64
	for i := range 10 {
		wasFull := q.Stats().Len == 2
		q.Push(i)
		d := q.Stats().Dropped
		if wasFull {
			assert.Equal(t, last+1, d)
		} else {
			assert.Equal(t, last, d)
		}
		last = d
		if i%3 == 0 {
			q.Pop()
		}
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New[string](1, DropOldest)
	got := make(chan string, 1)
	go func() {
		v, ok := q.Pop()
		if ok {
			got <- v
		}
		close(got)
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before any push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push("frame")
	select {
	case v := <-got:
		assert.Equal(t, "frame", v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestCloseReleasesEveryWaiterOnce(t *testing.T) {
	q := New[int](1, DropOldest)
	const waiters = 8

	var wg sync.WaitGroup
	results := make(chan bool, waiters*2)
	for range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.Pop()
			results <- ok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Close()
	q.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiters were not released")
	}
	close(results)

	count := 0
	for ok := range results {
		assert.False(t, ok)
		count++
	}
	assert.Equal(t, waiters, count)

	assert.False(t, q.Push(1), "push after close must be rejected")
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestBlockProducer(t *testing.T) {
	q := New[int](1, BlockProducer)
	require.True(t, q.Push(1))

	pushed := make(chan bool, 1)
	go func() { pushed <- q.Push(2) }()

	select {
	case <-pushed:
		t.Fatal("Push should block while the queue is full")
	case <-time.After(20 * time.Millisecond):
	}

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	select {
	case ok := <-pushed:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("blocked producer was not released")
	}
	assert.Zero(t, q.Stats().Dropped)
}

func TestBlockProducerReleasedByClose(t *testing.T) {
	q := New[int](1, BlockProducer)
	q.Push(1)

	pushed := make(chan bool, 1)
	go func() { pushed <- q.Push(2) }()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-pushed:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("blocked producer was not released by Close")
	}
}

func TestFlush(t *testing.T) {
	q := New[int](3, DropOldest)
	q.Push(1)
	q.Push(2)

	assert.Equal(t, 2, q.Flush())
	st := q.Stats()
	assert.Zero(t, st.Len)
	assert.Zero(t, st.Dropped)
	assert.Equal(t, uint64(2), st.Flushed)

	q.Push(3)
	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 3, v)
}
