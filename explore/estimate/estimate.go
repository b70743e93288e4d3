// Package estimate implements the runtime estimator (Component C): given
// a historical timing table and a query tuple, it predicts wall-time in
// seconds via a linear fit in packages*nwavelengths/total_cores, falling
// back to nearest-neighbor when too few rows match.
package estimate

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// Row is one historical timing observation.
type Row struct {
	Host                  string
	Cluster               string
	ParallelizationSignature string // e.g. "data_parallel" or "task_parallel"
	Packages              int64
	NWavelengths          int
	WallSeconds           float64
}

// x returns the row's regressor value: packages*nwavelengths/total_cores.
func (r Row) x(totalCores int) float64 {
	if totalCores <= 0 {
		totalCores = 1
	}
	return float64(r.Packages) * float64(r.NWavelengths) / float64(totalCores)
}

// Query describes the (host, cluster, parallelization, packages,
// nwavelengths, total_cores) tuple to predict a wall-time for.
type Query struct {
	Host                     string
	Cluster                  string
	ParallelizationSignature string
	Packages                 int64
	NWavelengths             int
	TotalCores               int
}

// Estimator holds a timing table and the minimum sample count required
// before it trusts a linear fit over nearest-neighbor.
type Estimator struct {
	rows          []Row
	minSamples    int
}

// New builds an Estimator over the given timing table. minSamples is the
// minimum number of matching rows required to fit a line; below that the
// estimator falls back to the nearest neighbor by regressor distance.
func New(rows []Row, minSamples int) *Estimator {
	if minSamples < 2 {
		minSamples = 2
	}
	cp := make([]Row, len(rows))
	copy(cp, rows)
	return &Estimator{rows: cp, minSamples: minSamples}
}

// Add appends a new observation to the table, e.g. after a simulation
// completes and its wall-time becomes known.
func (e *Estimator) Add(r Row) {
	e.rows = append(e.rows, r)
}

func matches(r Row, q Query) bool {
	return r.Host == q.Host && r.Cluster == q.Cluster && r.ParallelizationSignature == q.ParallelizationSignature
}

// Estimate predicts wall-time in seconds for q. Returns an error only if
// the table has no row at all matching (host, cluster, parallelization).
func (e *Estimator) Estimate(q Query) (float64, error) {
	var matched []Row
	for _, r := range e.rows {
		if matches(r, q) {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return 0, fmt.Errorf("estimate: no timing samples for host=%s cluster=%s parallelization=%s",
			q.Host, q.Cluster, q.ParallelizationSignature)
	}

	target := (Row{Packages: q.Packages, NWavelengths: q.NWavelengths}).x(q.TotalCores)

	if len(matched) < e.minSamples {
		logrus.Debugf("[estimate] only %d samples (< %d) for %s/%s/%s, using nearest neighbor",
			len(matched), e.minSamples, q.Host, q.Cluster, q.ParallelizationSignature)
		return nearestNeighbor(matched, target, q.TotalCores), nil
	}

	xs := make([]float64, len(matched))
	ys := make([]float64, len(matched))
	for i, r := range matched {
		xs[i] = r.x(q.TotalCores)
		ys[i] = r.WallSeconds
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	predicted := alpha + beta*target
	if predicted < 0 || math.IsNaN(predicted) || math.IsInf(predicted, 0) {
		logrus.Debugf("[estimate] linear fit degenerate for %s/%s/%s, using nearest neighbor",
			q.Host, q.Cluster, q.ParallelizationSignature)
		return nearestNeighbor(matched, target, q.TotalCores), nil
	}
	return predicted, nil
}

// nearestNeighbor returns the wall-time of the matched row whose regressor
// value (computed against the query's own total_cores, so every row is
// compared on the same axis) is closest to target.
func nearestNeighbor(rows []Row, target float64, totalCores int) float64 {
	best := rows[0]
	bestDist := math.Abs(best.x(totalCores) - target)
	for _, r := range rows[1:] {
		d := math.Abs(r.x(totalCores) - target)
		if d < bestDist {
			best = r
			bestDist = d
		}
	}
	return best.WallSeconds
}
