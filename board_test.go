/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 3x3 board with "A" at (0,0) and (1,2).
var testLabels = []string{
	"A", "B", "C",
	"D", "E", "A",
	"F", "G", "H",
}

func newTestBoard(t *testing.T, flipDelay time.Duration) *Board {
	t.Helper()

	b, err := NewBoard(&Config{flipDelay: flipDelay}, 3, 3, testLabels)
	require.NoError(t, err)

	return b
}

// cell returns the snapshot line for (row, col) as seen by playerID.
func cell(t *testing.T, b *Board, playerID string, row, col int) string {
	t.Helper()

	snapshot, err := b.Inspect(playerID)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(snapshot, "\n"), "\n")
	require.Len(t, lines, 1+b.Width()*b.Height())

	return lines[1+row*b.Width()+col]
}

func TestNewBoard(t *testing.T) {
	tests := []struct {
		name    string
		width   int
		height  int
		labels  []string
		wantErr bool
	}{
		{name: "valid", width: 2, height: 1, labels: []string{"A", "A"}},
		{name: "zero width", width: 0, height: 1, labels: nil, wantErr: true},
		{name: "negative height", width: 1, height: -1, labels: nil, wantErr: true},
		{name: "too few labels", width: 2, height: 2, labels: []string{"A", "A", "B"}, wantErr: true},
		{name: "too many labels", width: 1, height: 1, labels: []string{"A", "B"}, wantErr: true},
		{name: "empty label", width: 2, height: 1, labels: []string{"A", ""}, wantErr: true},
		{name: "label with space", width: 2, height: 1, labels: []string{"A", "B C"}, wantErr: true},
		{name: "size overflows", width: math.MaxInt/2 + 1, height: 2, labels: nil, wantErr: true},
		{name: "size wraps to zero", width: math.MaxInt, height: math.MaxInt, labels: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBoard(&Config{}, tt.width, tt.height, tt.labels)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedBoard)
				assert.Nil(t, b)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, b.Validate())
		})
	}
}

func TestInspectStartsFaceDown(t *testing.T) {
	b := newTestBoard(t, time.Hour)

	snapshot, err := b.Inspect("p1")
	require.NoError(t, err)

	assert.Equal(t, "3x3\n"+strings.Repeat("down\n", 9), snapshot)

	_, err = b.Inspect("")
	assert.ErrorIs(t, err, ErrInvalidPlayer)
}

func TestFlipFirstCard(t *testing.T) {
	b := newTestBoard(t, time.Hour)

	out, err := b.Flip("p1", 0, 1)
	require.NoError(t, err)

	assert.Equal(t, OutcomeFlipped, out.Kind)
	assert.Equal(t, []Position{{Row: 0, Col: 1}}, out.Positions)
	assert.Equal(t, "flipped 0,1", out.String())

	assert.Equal(t, "my B", cell(t, b, "p1", 0, 1))
	assert.Equal(t, "up B", cell(t, b, "p2", 0, 1))
	assert.Equal(t, "down", cell(t, b, "p1", 0, 0))

	assert.Equal(t, uint64(1), b.Stats().Generation)
}

func TestFlipMatchRemovesPair(t *testing.T) {
	b := newTestBoard(t, time.Hour)

	_, err := b.Flip("p1", 0, 0)
	require.NoError(t, err)

	out, err := b.Flip("p1", 1, 2)
	require.NoError(t, err)

	assert.Equal(t, OutcomeMatch, out.Kind)
	assert.Equal(t, []Position{{Row: 0, Col: 0}, {Row: 1, Col: 2}}, out.Positions)
	assert.Equal(t, "match 0,0 1,2", out.String())

	assert.Equal(t, "none", cell(t, b, "p1", 0, 0))
	assert.Equal(t, "none", cell(t, b, "p2", 1, 2))

	stats := b.Stats()
	assert.Equal(t, 0, stats.Holding)
	assert.Equal(t, 7, stats.Remaining)

	last, ok := b.LastOutcome("p1")
	require.True(t, ok)
	assert.Equal(t, OutcomeMatch, last.Kind)

	for _, player := range []string{"p1", "p2"} {
		out, err := b.Flip(player, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRemoved, out.Kind)
	}

	// The player is free to start a new pair straight away.
	out, err = b.Flip("p1", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFlipped, out.Kind)
}

func TestFlipMismatchFlipsBack(t *testing.T) {
	b := newTestBoard(t, 50*time.Millisecond)

	_, err := b.Flip("p1", 0, 0)
	require.NoError(t, err)

	out, err := b.Flip("p1", 0, 1)
	require.NoError(t, err)

	assert.Equal(t, OutcomeMismatch, out.Kind)
	assert.Equal(t, "no match 0,0 0,1, will flip back", out.String())

	assert.Equal(t, "my A", cell(t, b, "p1", 0, 0))
	assert.Equal(t, "my B", cell(t, b, "p1", 0, 1))
	assert.Equal(t, "up A", cell(t, b, "p2", 0, 0))

	require.Eventually(t, func() bool {
		return cell(t, b, "p1", 0, 0) == "down" && cell(t, b, "p1", 0, 1) == "down"
	}, time.Second, 5*time.Millisecond)

	stats := b.Stats()
	assert.Equal(t, 0, stats.Holding)
	assert.Equal(t, 0, stats.FaceUp)

	last, ok := b.LastOutcome("p1")
	require.True(t, ok)
	assert.Equal(t, OutcomeFlippedBack, last.Kind)

	out, err = b.Flip("p2", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFlipped, out.Kind)
}

func TestStaleFlipBackIsIgnored(t *testing.T) {
	b := newTestBoard(t, time.Hour)

	_, err := b.Flip("p1", 0, 0)
	require.NoError(t, err)

	gen := b.Stats().Generation

	// Neither card is face up under p1, so nothing is reverted.
	b.flipBack("p1", Position{Row: 2, Col: 1}, Position{Row: 2, Col: 2})

	assert.Equal(t, gen, b.Stats().Generation)
	assert.NoError(t, b.Validate())
	assert.Equal(t, "my A", cell(t, b, "p1", 0, 0))
	assert.Equal(t, "down", cell(t, b, "p1", 2, 2))

	last, ok := b.LastOutcome("p1")
	require.True(t, ok)
	assert.Equal(t, OutcomeFlipped, last.Kind)

	// A card held by someone else is left alone too.
	_, err = b.Flip("p2", 2, 2)
	require.NoError(t, err)
	gen = b.Stats().Generation

	b.flipBack("p1", Position{Row: 2, Col: 2})

	assert.Equal(t, gen, b.Stats().Generation)
	assert.Equal(t, "my H", cell(t, b, "p2", 2, 2))
	assert.NoError(t, b.Validate())
}

func TestFlipRejections(t *testing.T) {
	b := newTestBoard(t, time.Hour)

	_, err := b.Flip("p1", 0, 0)
	require.NoError(t, err)

	gen := b.Stats().Generation

	tests := []struct {
		name   string
		player string
		row    int
		col    int
		want   OutcomeKind
	}{
		{name: "row below range", player: "p1", row: -1, col: 0, want: OutcomeInvalidPosition},
		{name: "row above range", player: "p1", row: 3, col: 0, want: OutcomeInvalidPosition},
		{name: "col below range", player: "p1", row: 0, col: -1, want: OutcomeInvalidPosition},
		{name: "col above range", player: "p1", row: 0, col: 3, want: OutcomeInvalidPosition},
		{name: "held by another player", player: "p2", row: 0, col: 0, want: OutcomeControlled},
		{name: "own card again", player: "p1", row: 0, col: 0, want: OutcomeAlreadyFlipped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := b.Flip(tt.player, tt.row, tt.col)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Kind)
			assert.False(t, out.Changed())
		})
	}

	assert.Equal(t, gen, b.Stats().Generation, "rejections must not notify watchers")
	assert.Equal(t, "my A", cell(t, b, "p1", 0, 0))

	_, err = b.Flip("", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidPlayer)
}

func TestFlipWhileFlipBackPending(t *testing.T) {
	b := newTestBoard(t, time.Hour)

	_, err := b.Flip("p1", 0, 0)
	require.NoError(t, err)
	_, err = b.Flip("p1", 0, 1)
	require.NoError(t, err)

	out, err := b.Flip("p1", 2, 2)
	require.NoError(t, err)

	assert.Equal(t, OutcomePending, out.Kind)
	assert.Equal(t, []Position{{Row: 0, Col: 0}, {Row: 0, Col: 1}}, out.Positions)
	assert.Equal(t, "down", cell(t, b, "p1", 2, 2))
	assert.NoError(t, b.Validate())
}

func TestTransform(t *testing.T) {
	b := newTestBoard(t, time.Hour)

	result, err := b.Transform("p1", strings.ToLower)
	require.NoError(t, err)
	assert.Equal(t, "nothing to transform", result)
	assert.Equal(t, uint64(0), b.Stats().Generation)

	_, err = b.Flip("p1", 0, 0)
	require.NoError(t, err)
	_, err = b.Flip("p2", 2, 2)
	require.NoError(t, err)

	gen := b.Stats().Generation

	result, err = b.Transform("p1", strings.ToLower)
	require.NoError(t, err)
	assert.Equal(t, "0,0 A -> a", result)
	assert.Equal(t, gen+1, b.Stats().Generation)

	assert.Equal(t, "my a", cell(t, b, "p1", 0, 0))
	assert.Equal(t, "up H", cell(t, b, "p1", 2, 2), "other players' cards are untouched")

	// The other "A" was not controlled, so flipping it is now a mismatch.
	out, err := b.Flip("p1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMismatch, out.Kind)
}

func TestTransformRejectsBadInput(t *testing.T) {
	b := newTestBoard(t, time.Hour)

	_, err := b.Flip("p1", 0, 0)
	require.NoError(t, err)

	_, err = b.Transform("p1", nil)
	assert.ErrorIs(t, err, ErrInvalidTransform)

	_, err = b.Transform("", strings.ToLower)
	assert.ErrorIs(t, err, ErrInvalidPlayer)

	gen := b.Stats().Generation

	_, err = b.Transform("p1", func(string) string { return "two words" })
	assert.ErrorIs(t, err, ErrInvalidTransform)

	assert.Equal(t, "my A", cell(t, b, "p1", 0, 0))
	assert.Equal(t, gen, b.Stats().Generation)
}

func TestReplaceTurnsMismatchIntoLaterMatch(t *testing.T) {
	b := newTestBoard(t, 50*time.Millisecond)

	_, err := b.Flip("p1", 0, 0)
	require.NoError(t, err)
	out, err := b.Flip("p1", 0, 1)
	require.NoError(t, err)
	require.Equal(t, OutcomeMismatch, out.Kind)

	result, err := b.Replace("p1", "B", "A")
	require.NoError(t, err)
	assert.Equal(t, "0,0 A -> A\n0,1 B -> A", result)

	assert.Equal(t, "my A", cell(t, b, "p1", 0, 1))

	require.Eventually(t, func() bool {
		return b.Stats().FaceUp == 0
	}, time.Second, 5*time.Millisecond)

	_, err = b.Flip("p1", 0, 1)
	require.NoError(t, err)
	out, err = b.Flip("p1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMatch, out.Kind)
}

func TestWatchWakesAllWatchers(t *testing.T) {
	b := newTestBoard(t, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		snapshot string
		err      error
	}

	results := make(chan result, 2)

	for _, player := range []string{"p2", "p3"} {
		go func() {
			snapshot, err := b.Watch(ctx, player)
			results <- result{snapshot, err}
		}()
	}

	require.Eventually(t, func() bool {
		return b.Stats().Watchers == 2
	}, time.Second, time.Millisecond)

	_, err := b.Flip("p1", 0, 0)
	require.NoError(t, err)

	for range 2 {
		r := <-results
		require.NoError(t, r.err)
		assert.Contains(t, r.snapshot, "up A")
	}

	assert.Equal(t, 0, b.Stats().Watchers)
}

func TestWatchDoesNotReplayEarlierChanges(t *testing.T) {
	b := newTestBoard(t, time.Hour)

	_, err := b.Flip("p1", 0, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = b.Watch(ctx, "p1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, b.Stats().Watchers)
}

func TestWatchCanceled(t *testing.T) {
	b := newTestBoard(t, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := b.Watch(ctx, "p1")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return b.Stats().Watchers == 1
	}, time.Second, time.Millisecond)

	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, b.Stats().Watchers)

	_, err := b.Watch(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidPlayer)
}

func TestWatchSeesFlipBack(t *testing.T) {
	b := newTestBoard(t, 50*time.Millisecond)

	_, err := b.Flip("p1", 0, 0)
	require.NoError(t, err)
	_, err = b.Flip("p1", 0, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snapshot, err := b.Watch(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "3x3\n"+strings.Repeat("down\n", 9), snapshot)
}

func TestWatchAfterReturnsImmediatelyWhenBehind(t *testing.T) {
	b := newTestBoard(t, time.Hour)

	_, gen, err := b.InspectAt("p1")
	require.NoError(t, err)

	_, err = b.Flip("p1", 0, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	snapshot, next, err := b.WatchAfter(ctx, "p1", gen)
	require.NoError(t, err)
	assert.Equal(t, gen+1, next)
	assert.Contains(t, snapshot, "my A")
}

func TestConcurrentRandomFlips(t *testing.T) {
	labels := make([]string, 16)
	for i := range labels {
		labels[i] = fmt.Sprintf("L%d", i/2)
	}

	b, err := NewBoard(&Config{flipDelay: time.Millisecond}, 4, 4, labels)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var watchers sync.WaitGroup
	for i := range 3 {
		watchers.Add(1)
		go func() {
			defer watchers.Done()
			for {
				if _, err := b.Watch(ctx, fmt.Sprintf("watcher-%d", i)); err != nil {
					return
				}
			}
		}()
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		var players sync.WaitGroup
		for i := range 12 {
			players.Add(1)
			go func() {
				defer players.Done()
				player := fmt.Sprintf("p%d", i)
				for n := range 200 {
					_, err := b.Flip(player, (n*7+i)%4, (n*3+i*5)%4)
					assert.NoError(t, err)
				}
			}()
		}
		players.Wait()
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent flips did not finish, likely deadlock")
	}

	cancel()
	watchers.Wait()

	assert.NoError(t, b.Validate())

	require.Eventually(t, func() bool {
		return b.Stats().FaceUp <= 12
	}, time.Second, 5*time.Millisecond)
}
