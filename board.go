/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Shared memory-match board.
//
// Every operation locks b.mu for its whole critical section, and so does the
// flip-back timer. Watchers wait on b.changed without holding the lock; each
// change closes the channel and replaces it, which wakes every watcher that
// captured it exactly once.

package main

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"
)

type Board struct {
	cfg *Config

	mu sync.Mutex

	width  int
	height int
	cards  []Card

	selections map[string][]Position // playerID -> face-up, unresolved positions in flip order
	outcomes   map[string]Outcome    // playerID -> last resolution

	generation uint64
	changed    chan struct{}
	watchers   int

	flipDelay time.Duration
}

// Stats is a point-in-time summary of the board.
type Stats struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Remaining  int    `json:"remaining"`
	FaceUp     int    `json:"face_up"`
	Holding    int    `json:"holding"` // players with face-up, unresolved cards
	Watchers   int    `json:"watchers"`
	Generation uint64 `json:"generation"`
}

// NewBoard builds a face-down board from row-major labels.
func NewBoard(cfg *Config, width, height int, labels []string) (*Board, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %dx%d", ErrMalformedBoard, width, height)
	}
	if width > math.MaxInt/height {
		return nil, fmt.Errorf("%w: %dx%d board is too large", ErrMalformedBoard, width, height)
	}
	if len(labels) != width*height {
		return nil, fmt.Errorf("%w: expected %d labels, got %d", ErrMalformedBoard, width*height, len(labels))
	}

	cards := make([]Card, len(labels))
	for i, label := range labels {
		if !validLabel(label) {
			return nil, fmt.Errorf("%w: invalid label %q at card %d", ErrMalformedBoard, label, i)
		}
		cards[i] = Card{label: label, state: Down}
	}

	b := &Board{
		cfg:        cfg,
		width:      width,
		height:     height,
		cards:      cards,
		selections: make(map[string][]Position),
		outcomes:   make(map[string]Outcome),
		changed:    make(chan struct{}),
		flipDelay:  cfg.flipDelay,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkRepLocked()

	return b, nil
}

func validLabel(label string) bool {
	return label != "" && !strings.ContainsFunc(label, unicode.IsSpace)
}

func (b *Board) Width() int {
	return b.width
}

func (b *Board) Height() int {
	return b.height
}

func (b *Board) inBounds(p Position) bool {
	return p.Row >= 0 && p.Row < b.height && p.Col >= 0 && p.Col < b.width
}

func (b *Board) cardAt(p Position) *Card {
	return &b.cards[p.Row*b.width+p.Col]
}

// notifyLocked wakes every pending watcher. Assumes b.mu is held.
func (b *Board) notifyLocked() {
	b.generation++
	close(b.changed)
	b.changed = make(chan struct{})
}

// Inspect returns the board as seen by playerID.
func (b *Board) Inspect(playerID string) (string, error) {
	if playerID == "" {
		return "", ErrInvalidPlayer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.renderLocked(playerID), nil
}

// renderLocked writes the dimensions followed by one line per card:
// "none", "down", "up LABEL" or "my LABEL" for cards playerID controls.
func (b *Board) renderLocked(playerID string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%dx%d\n", b.width, b.height)

	for _, card := range b.cards {
		switch card.state {
		case Removed:
			sb.WriteString("none\n")
		case Down:
			sb.WriteString("down\n")
		case Up:
			if card.controller == playerID {
				sb.WriteString("my " + card.label + "\n")
			} else {
				sb.WriteString("up " + card.label + "\n")
			}
		}
	}

	return sb.String()
}

// Flip turns the card at (row, col) face up for playerID and resolves the
// pair once it is the player's second card. It never blocks on other
// players: a card controlled by someone else is rejected immediately.
func (b *Board) Flip(playerID string, row, col int) (Outcome, error) {
	if playerID == "" {
		return Outcome{}, ErrInvalidPlayer
	}

	pos := Position{Row: row, Col: col}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.inBounds(pos) {
		return Outcome{Kind: OutcomeInvalidPosition, Positions: []Position{pos}}, nil
	}

	card := b.cardAt(pos)

	switch card.state {
	case Removed:
		return Outcome{Kind: OutcomeRemoved, Positions: []Position{pos}}, nil
	case Up:
		if card.controller != playerID {
			return Outcome{Kind: OutcomeControlled, Positions: []Position{pos}}, nil
		}
		return Outcome{Kind: OutcomeAlreadyFlipped, Positions: []Position{pos}}, nil
	}

	selected := b.selections[playerID]

	// Two mismatched cards are still waiting for their flip-back.
	if len(selected) == 2 {
		return Outcome{Kind: OutcomePending, Positions: slices.Clone(selected)}, nil
	}

	card.state = Up
	card.controller = playerID
	selected = append(selected, pos)
	b.selections[playerID] = selected

	var out Outcome

	if len(selected) == 1 {
		out = Outcome{Kind: OutcomeFlipped, Positions: []Position{pos}}
	} else {
		out = b.resolveLocked(playerID, selected[0], selected[1])
	}

	b.outcomes[playerID] = out
	b.notifyLocked()
	b.checkRepLocked()

	return out, nil
}

// resolveLocked compares the player's two selected cards in flip order.
func (b *Board) resolveLocked(playerID string, first, second Position) Outcome {
	a, c := b.cardAt(first), b.cardAt(second)
	positions := []Position{first, second}

	if a.label == c.label {
		a.state, a.controller = Removed, ""
		c.state, c.controller = Removed, ""
		delete(b.selections, playerID)

		logf(b.cfg, "BOARD: %q matched %q at %s and %s", playerID, a.label, first, second)

		return Outcome{Kind: OutcomeMatch, Positions: positions}
	}

	time.AfterFunc(b.flipDelay, func() {
		b.flipBack(playerID, first, second)
	})

	logf(b.cfg, "BOARD: %q mismatched %q at %s and %q at %s", playerID, a.label, first, c.label, second)

	return Outcome{Kind: OutcomeMismatch, Positions: positions}
}

// flipBack conceals a mismatched pair once the delay has elapsed. A card is
// only reverted if it is still face up under the same player.
func (b *Board) flipBack(playerID string, positions ...Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reverted := make([]Position, 0, len(positions))

	for _, p := range positions {
		card := b.cardAt(p)
		if card.state != Up || card.controller != playerID {
			continue
		}

		card.state = Down
		card.controller = ""
		reverted = append(reverted, p)
	}

	remaining := slices.DeleteFunc(b.selections[playerID], func(p Position) bool {
		return slices.Contains(positions, p)
	})
	if len(remaining) == 0 {
		delete(b.selections, playerID)
	} else {
		b.selections[playerID] = remaining
	}

	if len(reverted) == 0 {
		logf(b.cfg, "BOARD: Stale flip-back for %q at %s", playerID, joinPositions(positions))
		b.checkRepLocked()
		return
	}

	out := Outcome{Kind: OutcomeFlippedBack, Positions: reverted}
	b.outcomes[playerID] = out

	logf(b.cfg, "BOARD: Flipped back %s for %q", joinPositions(reverted), playerID)

	b.notifyLocked()
	b.checkRepLocked()
}

// Transform replaces the label of every card playerID controls with
// fn(label). fn runs under the board lock and must not call back into the
// board. If any new label is invalid nothing is changed.
func (b *Board) Transform(playerID string, fn func(string) string) (string, error) {
	if playerID == "" {
		return "", ErrInvalidPlayer
	}
	if fn == nil {
		return "", ErrInvalidTransform
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	type change struct {
		pos      Position
		old, new string
	}

	var changes []change

	for _, p := range b.selections[playerID] {
		card := b.cardAt(p)
		if card.state == Removed {
			continue
		}

		next := fn(card.label)
		if !validLabel(next) {
			return "", fmt.Errorf("%w: %q maps to invalid label %q", ErrInvalidTransform, card.label, next)
		}

		changes = append(changes, change{pos: p, old: card.label, new: next})
	}

	if len(changes) == 0 {
		return "nothing to transform", nil
	}

	lines := make([]string, len(changes))
	for i, c := range changes {
		b.cardAt(c.pos).label = c.new
		lines[i] = fmt.Sprintf("%s %s -> %s", c.pos, c.old, c.new)
	}

	logf(b.cfg, "BOARD: %q transformed %d card(s)", playerID, len(changes))

	b.notifyLocked()
	b.checkRepLocked()

	return strings.Join(lines, "\n"), nil
}

// Replace is a Transform that swaps every controlled label equal to from
// for to.
func (b *Board) Replace(playerID, from, to string) (string, error) {
	return b.Transform(playerID, func(label string) string {
		if label == from {
			return to
		}
		return label
	})
}

// Watch blocks until the next change to the board, then returns the board as
// seen by playerID. Changes made before the call are not replayed. Returns
// ctx.Err() if ctx ends first.
func (b *Board) Watch(ctx context.Context, playerID string) (string, error) {
	if playerID == "" {
		return "", ErrInvalidPlayer
	}

	b.mu.Lock()
	gen := b.generation
	b.mu.Unlock()

	snapshot, _, err := b.WatchAfter(ctx, playerID, gen)
	return snapshot, err
}

// InspectAt is Inspect plus the generation the snapshot was taken at, for
// use with WatchAfter.
func (b *Board) InspectAt(playerID string) (string, uint64, error) {
	if playerID == "" {
		return "", 0, ErrInvalidPlayer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return b.renderLocked(playerID), b.generation, nil
}

// WatchAfter returns as soon as the board has moved past generation gen,
// without waiting if it already has. It returns the board as seen by
// playerID and its new generation.
func (b *Board) WatchAfter(ctx context.Context, playerID string, gen uint64) (string, uint64, error) {
	if playerID == "" {
		return "", 0, ErrInvalidPlayer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.generation == gen {
		changed := b.changed
		b.watchers++
		b.mu.Unlock()

		var err error
		select {
		case <-changed:
		case <-ctx.Done():
			err = ctx.Err()
		}

		b.mu.Lock()
		b.watchers--

		if err != nil {
			return "", gen, err
		}
	}

	return b.renderLocked(playerID), b.generation, nil
}

// LastOutcome returns the most recent resolution recorded for playerID.
func (b *Board) LastOutcome(playerID string) (Outcome, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out, ok := b.outcomes[playerID]
	return out, ok
}

func (b *Board) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Width:      b.width,
		Height:     b.height,
		Holding:    len(b.selections),
		Watchers:   b.watchers,
		Generation: b.generation,
	}

	for _, card := range b.cards {
		switch card.state {
		case Up:
			s.FaceUp++
			s.Remaining++
		case Down:
			s.Remaining++
		}
	}

	return s
}

// Validate checks the board invariants.
func (b *Board) Validate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.validateLocked()
}

func (b *Board) validateLocked() error {
	if b.width <= 0 || b.height <= 0 {
		return fmt.Errorf("dimensions %dx%d", b.width, b.height)
	}
	if b.width > math.MaxInt/b.height {
		return fmt.Errorf("dimensions %dx%d overflow", b.width, b.height)
	}
	if len(b.cards) != b.width*b.height {
		return fmt.Errorf("%d cards on a %dx%d board", len(b.cards), b.width, b.height)
	}

	for i, card := range b.cards {
		if card.label == "" {
			return fmt.Errorf("card %d has no label", i)
		}

		switch card.state {
		case Up:
			if card.controller == "" {
				return fmt.Errorf("card %d is up without a controller", i)
			}
		case Down, Removed:
			if card.controller != "" {
				return fmt.Errorf("card %d is %s but controlled by %q", i, card.state, card.controller)
			}
		default:
			return fmt.Errorf("card %d has state %d", i, card.state)
		}
	}

	for playerID, selected := range b.selections {
		if len(selected) > 2 {
			return fmt.Errorf("%q has %d selected cards", playerID, len(selected))
		}

		for _, p := range selected {
			if !b.inBounds(p) {
				return fmt.Errorf("%q selected out of bounds position %s", playerID, p)
			}

			card := b.cardAt(p)
			if card.state != Up || card.controller != playerID {
				return fmt.Errorf("%q selected %s, which is %s under %q", playerID, p, card.state, card.controller)
			}
		}
	}

	return nil
}

// checkRepLocked panics on an invariant violation, which is always a bug.
func (b *Board) checkRepLocked() {
	if err := b.validateLocked(); err != nil {
		panic("board invariant violated: " + err.Error())
	}
}
