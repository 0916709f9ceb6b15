/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bufio"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path"
	"strconv"
	"strings"
)

//go:embed boards/*.txt
var boards embed.FS

const embeddedPrefix = "embedded:"

// ParseBoard reads a board description: a "WIDTHxHEIGHT" line followed by
// exactly WIDTH*HEIGHT label lines in row-major order.
func ParseBoard(cfg *Config, r io.Reader) (*Board, error) {
	scanner := bufio.NewScanner(r)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: empty description", ErrMalformedBoard)
	}

	width, height, err := parseDimensions(lines[0])
	if err != nil {
		return nil, err
	}

	return NewBoard(cfg, width, height, lines[1:])
}

func parseDimensions(line string) (int, int, error) {
	w, h, ok := strings.Cut(line, "x")
	if !ok {
		return 0, 0, fmt.Errorf("%w: expected WIDTHxHEIGHT, got %q", ErrMalformedBoard, line)
	}

	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad width %q", ErrMalformedBoard, w)
	}

	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad height %q", ErrMalformedBoard, h)
	}

	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("%w: dimensions must be positive, got %dx%d", ErrMalformedBoard, width, height)
	}

	return width, height, nil
}

// LoadBoard loads the board named by source: a file path, "embedded:NAME"
// for one of the bundled boards, or "" for the bundled default.
func LoadBoard(cfg *Config, source string) (*Board, error) {
	if source == "" {
		source = embeddedPrefix + "default"
	}

	var f io.ReadCloser
	var err error

	if name, ok := strings.CutPrefix(source, embeddedPrefix); ok {
		f, err = boards.Open(path.Join("boards", name+".txt"))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("unknown embedded board %q (available: %s): %w", name, strings.Join(embeddedBoards(), ", "), err)
		}
	} else {
		f, err = os.Open(source)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	b, err := ParseBoard(cfg, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	logf(cfg, "BOARD: Loaded %dx%d board from %s", b.Width(), b.Height(), source)

	return b, nil
}

// embeddedBoards lists the names accepted after "embedded:".
func embeddedBoards() []string {
	entries, err := boards.ReadDir("boards")
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".txt"))
	}

	return names
}

// RandomBoard deals pairs of symbols onto a width x height board in random
// order. An odd card count leaves one unpaired card.
func RandomBoard(cfg *Config, width, height int, symbols []string, rng *rand.Rand) (*Board, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %dx%d", ErrMalformedBoard, width, height)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols to deal", ErrMalformedBoard)
	}

	labels := make([]string, width*height)
	for i := range labels {
		labels[i] = symbols[(i/2)%len(symbols)]
	}

	rng.Shuffle(len(labels), func(i, j int) {
		labels[i], labels[j] = labels[j], labels[i]
	})

	return NewBoard(cfg, width, height, labels)
}
