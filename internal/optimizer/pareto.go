package optimizer

import (
	"math"
	"sort"
)

// dominates reports whether a Pareto-dominates b: no worse in every
// objective and strictly better in at least one.
func dominates(a, b []float64, directions []Direction) bool {
	strictly := false
	for i, d := range directions {
		if d.better(b[i], a[i]) {
			return false
		}
		if d.better(a[i], b[i]) {
			strictly = true
		}
	}
	return strictly
}

// ParetoFront returns the trials not dominated by any other trial, in trial
// order. Trials must carry one value per direction.
func ParetoFront(trials []FrozenTrial, directions []Direction) []FrozenTrial {
	var front []FrozenTrial
	for i, t := range trials {
		dominated := false
		for j, o := range trials {
			if i != j && dominates(o.Values, t.Values, directions) {
				dominated = true
				break
			}
		}
		if !dominated {
			front = append(front, t)
		}
	}
	return front
}

// nonDominatedSort splits trials into successive Pareto fronts.
func nonDominatedSort(trials []FrozenTrial, directions []Direction) [][]FrozenTrial {
	n := len(trials)
	dominatedBy := make([]int, n)
	dominating := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			switch {
			case dominates(trials[i].Values, trials[j].Values, directions):
				dominating[i] = append(dominating[i], j)
				dominatedBy[j]++
			case dominates(trials[j].Values, trials[i].Values, directions):
				dominating[j] = append(dominating[j], i)
				dominatedBy[i]++
			}
		}
	}

	var fronts [][]FrozenTrial
	var current []int
	for i := 0; i < n; i++ {
		if dominatedBy[i] == 0 {
			current = append(current, i)
		}
	}
	for len(current) > 0 {
		front := make([]FrozenTrial, len(current))
		var next []int
		for k, i := range current {
			front[k] = trials[i]
			for _, j := range dominating[i] {
				dominatedBy[j]--
				if dominatedBy[j] == 0 {
					next = append(next, j)
				}
			}
		}
		fronts = append(fronts, front)
		current = next
	}
	return fronts
}

// crowdingDistance returns the NSGA-II crowding distance of every member of
// one front. Boundary members get +Inf.
func crowdingDistance(front []FrozenTrial, nObjectives int) []float64 {
	n := len(front)
	dist := make([]float64, n)
	if n <= 2 {
		for i := range dist {
			dist[i] = math.Inf(1)
		}
		return dist
	}
	idx := make([]int, n)
	for m := 0; m < nObjectives; m++ {
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return front[idx[a]].Values[m] < front[idx[b]].Values[m]
		})
		lo, hi := front[idx[0]].Values[m], front[idx[n-1]].Values[m]
		dist[idx[0]] = math.Inf(1)
		dist[idx[n-1]] = math.Inf(1)
		if hi == lo {
			continue
		}
		for k := 1; k < n-1; k++ {
			dist[idx[k]] += (front[idx[k+1]].Values[m] - front[idx[k-1]].Values[m]) / (hi - lo)
		}
	}
	return dist
}
