package main

import (
	"bufio"
	"fmt"
	"math"
	"math/rand/v2"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	jacobianOut string
	checkSeed   uint64
	checkTol    float64
)

// runDpred prints one line per datum: source, receiver, datum, value
func runDpred(cmd *cobra.Command, args []string) error {
	run, err := loadRun()
	if err != nil {
		return err
	}
	defer run.Sim.Clean()

	d, err := run.Sim.Dpred(run.Model, nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# %s data, %d values\n", run.Sim.DataType(), len(d))
	for i, src := range run.Survey.Sources {
		for j, rx := range src.Receivers() {
			off := run.Survey.Offset(i, j)
			for k := 0; k < rx.NData(); k++ {
				fmt.Fprintf(out, "%d %d %d % .8e\n", i, j, k, d[off+k])
			}
		}
	}
	return nil
}

func runJacobian(cmd *cobra.Command, args []string) error {
	run, err := loadRun()
	if err != nil {
		return err
	}
	defer run.Sim.Clean()

	j, err := run.Sim.GetJ(run.Model, nil)
	if err != nil {
		return err
	}
	r, c := j.Dims()
	fmt.Fprintf(cmd.OutOrStdout(), "sensitivity %d x %d (%s), sign %+g\n",
		r, c, humanize.Bytes(uint64(r*c*8)), run.Sim.Sign())
	if jacobianOut == "" {
		return nil
	}
	if err := writeMatrix(jacobianOut, j); err != nil {
		return err
	}
	logger.Info("wrote sensitivity", zap.String("path", jacobianOut))
	return nil
}

// writeMatrix writes one whitespace separated row per line
func writeMatrix(path string, a mat.Matrix) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	w := bufio.NewWriter(file)
	r, c := a.Dims()
	for i := 0; i < r; i++ {
		for k := 0; k < c; k++ {
			if k > 0 {
				w.WriteByte(' ')
			}
			fmt.Fprintf(w, "%.8e", a.At(i, k))
		}
		w.WriteByte('\n')
	}
	return w.Flush()
}

// runCheck compares w·(J v) with v·(Jᵀ w) for random v and w
func runCheck(cmd *cobra.Command, args []string) error {
	run, err := loadRun()
	if err != nil {
		return err
	}
	defer run.Sim.Clean()

	rng := rand.New(rand.NewPCG(checkSeed, checkSeed^0x9e3779b97f4a7c15))
	random := func(n int) []float64 {
		v := make([]float64, n)
		for i := range v {
			v[i] = 2*rng.Float64() - 1
		}
		return v
	}
	v, w := random(run.Sim.NP()), random(run.Sim.NData())

	jv, err := run.Sim.Jvec(run.Model, v, nil)
	if err != nil {
		return err
	}
	jtw, err := run.Sim.Jtvec(run.Model, w, nil)
	if err != nil {
		return err
	}
	lhs, rhs := floats.Dot(w, jv), floats.Dot(v, jtw)
	scale := math.Max(math.Abs(lhs), math.Abs(rhs))
	rel := 0.0
	if scale > 0 {
		rel = math.Abs(lhs-rhs) / scale
	}
	fmt.Fprintf(cmd.OutOrStdout(), "w·Jv = % .12e\nv·Jᵀw = % .12e\nrelative difference %.3e\n", lhs, rhs, rel)
	if rel > checkTol {
		return fmt.Errorf("adjoint check failed: relative difference %.3e exceeds %.3e", rel, checkTol)
	}
	return nil
}
