/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var simulationSymbols = []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J", "K", "L", "M", "N", "O", "P"}

// SimulationReport summarizes a finished simulation.
type SimulationReport struct {
	Players       int
	Flips         int64
	Matches       int64
	Mismatches    int64
	Rejected      int64
	Notifications int64
	Elapsed       time.Duration
	Final         Stats
}

func (r SimulationReport) String() string {
	return fmt.Sprintf("%d players made %d flips in %s: %d matches, %d mismatches, %d rejected, %d watcher wakeups, %d of %d cards left",
		r.Players,
		r.Flips,
		r.Elapsed.Round(time.Millisecond),
		r.Matches,
		r.Mismatches,
		r.Rejected,
		r.Notifications,
		r.Final.Remaining,
		r.Final.Width*r.Final.Height,
	)
}

// Simulate runs sim.players goroutines making random flips on a random
// board while a watcher counts change notifications. It fails if the run
// overruns sim.deadline or the board is left inconsistent.
func Simulate(ctx context.Context, cfg *Config, sim *SimulateConfig) (SimulationReport, error) {
	seed := uint64(sim.seed)
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed>>1))

	board, err := RandomBoard(cfg, sim.size, sim.size, simulationSymbols, rng)
	if err != nil {
		return SimulationReport{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, sim.deadline)
	defer cancel()

	var flips, matches, mismatches, rejected, notifications atomic.Int64

	watchCtx, stopWatching := context.WithCancel(ctx)
	defer stopWatching()

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		for {
			if _, err := board.Watch(watchCtx, "watcher"); err != nil {
				return
			}
			notifications.Add(1)
		}
	}()

	logf(cfg, "SIMULATE: %d players, %d rounds, %dx%d board, seed %d", sim.players, sim.rounds, sim.size, sim.size, seed)

	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)

	for i := range sim.players {
		playerID := uuid.NewString()
		prng := rand.New(rand.NewPCG(seed, uint64(i)+1))

		g.Go(func() error {
			for range sim.rounds {
				if err := gctx.Err(); err != nil {
					return err
				}

				out, err := board.Flip(playerID, prng.IntN(sim.size), prng.IntN(sim.size))
				if err != nil {
					return err
				}
				flips.Add(1)

				switch out.Kind {
				case OutcomeMatch:
					matches.Add(1)
				case OutcomeMismatch:
					mismatches.Add(1)
				case OutcomeFlipped:
				default:
					rejected.Add(1)
				}

				if sim.maxThink > 0 {
					time.Sleep(time.Duration(prng.Int64N(int64(sim.maxThink) + 1)))
				}
			}
			return nil
		})
	}

	err = g.Wait()

	stopWatching()
	<-watchDone

	report := SimulationReport{
		Players:       sim.players,
		Flips:         flips.Load(),
		Matches:       matches.Load(),
		Mismatches:    mismatches.Load(),
		Rejected:      rejected.Load(),
		Notifications: notifications.Load(),
		Elapsed:       time.Since(start),
		Final:         board.Stats(),
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return report, fmt.Errorf("simulation did not finish within %s", sim.deadline)
	}
	if err != nil {
		return report, err
	}

	if err := board.Validate(); err != nil {
		return report, fmt.Errorf("board invariant violated: %w", err)
	}

	logf(cfg, "SIMULATE: %s", report)

	return report, nil
}
