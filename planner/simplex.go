package planner

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	simplexTol  = 1e-10
	integralTol = 1e-6
)

// solveBinary minimizes the model while driving the listed variables to 0 or
// 1 by branch and bound over simplex relaxations. Branching fixes a variable
// with an extra equality row; the up-branch is explored first since lifting
// an export cap never makes the model worse.
//
// The context is honored between node solves. A cancelled or expired context
// surfaces as ErrSolverTimeout: the caller treats both the same way.
func solveBinary(ctx context.Context, m *lpModel, binary []int) ([]float64, error) {
	type node struct {
		fixes map[int]float64
	}
	stack := []node{{fixes: map[int]float64{}}}

	var bestX []float64
	bestObj := math.Inf(1)
	root := true

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, ErrSolverTimeout
		}

		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		x, obj, err := solveRelaxation(ctx, m, nd.fixes)
		if err != nil {
			if errors.Is(err, ErrSolverTimeout) {
				return nil, err
			}
			if root {
				return nil, fmt.Errorf("%w: %v", ErrInfeasible, err)
			}
			continue // pruned: this branch has no feasible point
		}
		root = false

		if obj >= bestObj {
			continue
		}

		if frac := firstFractional(x, binary); frac >= 0 {
			down := cloneFixes(nd.fixes)
			down[frac] = 0
			up := cloneFixes(nd.fixes)
			up[frac] = 1
			stack = append(stack, node{fixes: down}, node{fixes: up})
			continue
		}

		bestObj = obj
		bestX = x
	}

	if bestX == nil {
		return nil, ErrInfeasible
	}
	return bestX, nil
}

// solveRelaxation runs one simplex solve with the given variables pinned.
// The solve itself is not interruptible, so it runs on its own goroutine and
// the context decides who wins.
func solveRelaxation(ctx context.Context, m *lpModel, fixes map[int]float64) ([]float64, float64, error) {
	eq := m.eq
	eqRhs := m.eqRhs
	if len(fixes) > 0 {
		eq = append([][]float64(nil), m.eq...)
		eqRhs = append([]float64(nil), m.eqRhs...)
		for idx, val := range fixes {
			row := make([]float64, m.nv)
			row[idx] = 1
			eq = append(eq, row)
			eqRhs = append(eqRhs, val)
		}
	}

	g := denseFromRows(m.ineq, m.nv)
	a := denseFromRows(eq, m.nv)

	type answer struct {
		x   []float64
		obj float64
		err error
	}
	done := make(chan answer, 1)
	go func() {
		cStd, aStd, bStd := lp.Convert(m.obj, g, m.ineqRhs, a, eqRhs)
		obj, xStd, err := lp.Simplex(cStd, aStd, bStd, simplexTol, nil)
		if err != nil {
			done <- answer{err: err}
			return
		}
		// Convert splits every variable into a positive and negative part.
		x := make([]float64, m.nv)
		for i := range x {
			x[i] = xStd[i] - xStd[m.nv+i]
		}
		done <- answer{x: x, obj: obj}
	}()

	select {
	case <-ctx.Done():
		return nil, 0, ErrSolverTimeout
	case ans := <-done:
		return ans.x, ans.obj, ans.err
	}
}

func denseFromRows(rows [][]float64, nv int) *mat.Dense {
	d := mat.NewDense(len(rows), nv, nil)
	for i, row := range rows {
		d.SetRow(i, row)
	}
	return d
}

func firstFractional(x []float64, binary []int) int {
	for _, idx := range binary {
		v := x[idx]
		if math.Abs(v-math.Round(v)) > integralTol {
			return idx
		}
	}
	return -1
}

func cloneFixes(fixes map[int]float64) map[int]float64 {
	out := make(map[int]float64, len(fixes)+1)
	for k, v := range fixes {
		out[k] = v
	}
	return out
}
