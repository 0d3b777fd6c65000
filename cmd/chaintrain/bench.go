package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/latticefree/chaintrain/chain"
	"github.com/latticefree/chaintrain/internal/mathutil"
)

func newBenchCommand(app *App) *cobra.Command {
	var (
		numStates    int
		numPdfs      int
		numSeq       int
		framesPerSeq int
		featDim      int
		iterations   int
		seed         int64
	)
	opts := chain.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Repeat the chain driver call and report timing",
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, err := buildSyntheticGraph(numStates, numPdfs)
			if err != nil {
				return fmt.Errorf("building synthetic graph: %w", err)
			}
			sup := buildSyntheticSupervision(numSeq, framesPerSeq, numPdfs, 1.0)
			rng := rand.New(rand.NewSource(seed))

			start := time.Now()
			for i := 0; i < iterations; i++ {
				x := scoreMatrix(rng, numSeq, framesPerSeq, numPdfs, featDim)
				dX := mathutil.NewMat(len(x), numPdfs)
				if _, err := chain.ComputeChainObjfAndDeriv(opts, graph, sup, x, dX, nil, nil, app.logger); err != nil {
					return err
				}
			}
			elapsed := time.Since(start)

			app.logger.Info("bench complete", "iterations", iterations, "elapsed", elapsed, "per_call", elapsed/time.Duration(iterations))
			fmt.Printf("%d calls in %s (%s/call)\n", iterations, elapsed, elapsed/time.Duration(iterations))
			return nil
		},
	}

	cmd.Flags().IntVar(&numStates, "states", 4, "denominator graph state count")
	cmd.Flags().IntVar(&numPdfs, "pdfs", 8, "pdf-id class count")
	cmd.Flags().IntVar(&numSeq, "sequences", 4, "sequences per minibatch")
	cmd.Flags().IntVar(&framesPerSeq, "frames", 20, "frames per sequence")
	cmd.Flags().IntVar(&featDim, "feat-dim", 16, "synthetic feature dimension")
	cmd.Flags().IntVar(&iterations, "iterations", 50, "number of repeated driver calls")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed for the synthetic score matrix")
	opts.RegisterFlags(cmd.Flags())
	return cmd
}
