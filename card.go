/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"strconv"
	"strings"
)

type CardState int

const (
	Down CardState = iota
	Up
	Removed
)

func (s CardState) String() string {
	switch s {
	case Down:
		return "down"
	case Up:
		return "up"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Card is a single grid cell. Cards only live inside a Board.
type Card struct {
	label      string
	state      CardState
	controller string
}

type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (p Position) String() string {
	return strconv.Itoa(p.Row) + "," + strconv.Itoa(p.Col)
}

// parsePosition accepts "row,col".
func parsePosition(s string) (Position, error) {
	row, col, ok := strings.Cut(s, ",")
	if !ok {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidLocation, s)
	}

	r, err := strconv.Atoi(strings.TrimSpace(row))
	if err != nil {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidLocation, s)
	}

	c, err := strconv.Atoi(strings.TrimSpace(col))
	if err != nil {
		return Position{}, fmt.Errorf("%w: %q", ErrInvalidLocation, s)
	}

	return Position{Row: r, Col: c}, nil
}

type OutcomeKind int

const (
	OutcomeInvalidPosition OutcomeKind = iota
	OutcomeRemoved
	OutcomeControlled
	OutcomeAlreadyFlipped
	OutcomePending
	OutcomeFlipped
	OutcomeMatch
	OutcomeMismatch
	OutcomeFlippedBack
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeInvalidPosition:
		return "invalid_position"
	case OutcomeRemoved:
		return "already_removed"
	case OutcomeControlled:
		return "controlled"
	case OutcomeAlreadyFlipped:
		return "already_flipped"
	case OutcomePending:
		return "pending"
	case OutcomeFlipped:
		return "flipped"
	case OutcomeMatch:
		return "match"
	case OutcomeMismatch:
		return "mismatch"
	case OutcomeFlippedBack:
		return "flipped_back"
	default:
		return "unknown"
	}
}

func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Outcome describes the result of a flip. Rule rejections are outcomes,
// not errors.
type Outcome struct {
	Kind      OutcomeKind `json:"kind"`
	Positions []Position  `json:"positions"`
}

// Changed reports whether the outcome mutated the board.
func (o Outcome) Changed() bool {
	switch o.Kind {
	case OutcomeFlipped, OutcomeMatch, OutcomeMismatch, OutcomeFlippedBack:
		return true
	}
	return false
}

func (o Outcome) String() string {
	var at string
	if len(o.Positions) > 0 {
		at = o.Positions[0].String()
	}

	switch o.Kind {
	case OutcomeInvalidPosition:
		return "invalid position " + at
	case OutcomeRemoved:
		return "already removed " + at
	case OutcomeControlled:
		return "controlled by another player " + at
	case OutcomeAlreadyFlipped:
		return "already flipped " + at
	case OutcomePending:
		return "waiting for flip-back " + joinPositions(o.Positions)
	case OutcomeFlipped:
		return "flipped " + at
	case OutcomeMatch:
		return "match " + joinPositions(o.Positions)
	case OutcomeMismatch:
		return "no match " + joinPositions(o.Positions) + ", will flip back"
	case OutcomeFlippedBack:
		return "flipped back " + joinPositions(o.Positions)
	default:
		return "unknown outcome"
	}
}

func joinPositions(ps []Position) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.String()
	}
	return strings.Join(parts, " ")
}
