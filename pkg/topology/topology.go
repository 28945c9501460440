// Package topology maps process ranks onto a named, n-dimensional grid of
// parallelism axes (pipeline stages, data-parallel replicas, model slices).
//
// Layout is row-major in the order the axes are given: for axes
// ["x", "y"], coordinates (x, y) and (x, y+1) map to adjacent ranks.
package topology

import (
	"fmt"
	"sort"
	"strings"
)

// Standard axis names.
const (
	AxisPipe  = "pipe"
	AxisData  = "data"
	AxisModel = "model"
)

// Coord is a point in the grid, one value per axis in axis order.
type Coord []int

// Topology is an immutable rank <-> coordinate mapping.
type Topology struct {
	axes    []string
	dims    []int
	strides []int
}

// New creates a topology with the given axis names and lengths.
func New(axes []string, dims []int) (*Topology, error) {
	if len(axes) == 0 {
		return nil, fmt.Errorf("topology needs at least one axis")
	}
	if len(axes) != len(dims) {
		return nil, fmt.Errorf("got %d axes but %d dims", len(axes), len(dims))
	}

	seen := make(map[string]bool, len(axes))
	for i, axis := range axes {
		if axis == "" {
			return nil, fmt.Errorf("axis %d has no name", i)
		}
		if seen[axis] {
			return nil, fmt.Errorf("duplicate axis %q", axis)
		}
		seen[axis] = true
		if dims[i] <= 0 {
			return nil, fmt.Errorf("axis %q has non-positive length %d", axis, dims[i])
		}
	}

	t := &Topology{
		axes:    append([]string(nil), axes...),
		dims:    append([]int(nil), dims...),
		strides: make([]int, len(dims)),
	}
	stride := 1
	for i := len(dims) - 1; i >= 0; i-- {
		t.strides[i] = stride
		stride *= dims[i]
	}
	return t, nil
}

// NewPipeData is a hybrid pipeline and data parallel topology. Data
// parallelism is the innermost axis so gradient reductions stay on
// intra-node links.
func NewPipeData(pp, dp int) (*Topology, error) {
	return New([]string{AxisPipe, AxisData}, []int{pp, dp})
}

// NewPipeModelData is a hybrid pipeline, model and data parallel topology.
func NewPipeModelData(pp, dp, mp int) (*Topology, error) {
	return New([]string{AxisPipe, AxisData, AxisModel}, []int{pp, dp, mp})
}

// Axes returns the axis names in layout order.
func (t *Topology) Axes() []string {
	return append([]string(nil), t.axes...)
}

// Dim returns the length of an axis, or 0 if the axis does not exist.
func (t *Topology) Dim(axis string) int {
	i := t.axisIndex(axis)
	if i < 0 {
		return 0
	}
	return t.dims[i]
}

// HasAxis reports whether the axis is part of the topology.
func (t *Topology) HasAxis(axis string) bool {
	return t.axisIndex(axis) >= 0
}

// WorldSize is the number of ranks in the grid.
func (t *Topology) WorldSize() int {
	n := 1
	for _, d := range t.dims {
		n *= d
	}
	return n
}

// Rank returns the global rank of a fully specified coordinate.
func (t *Topology) Rank(coord map[string]int) (int, error) {
	if len(coord) != len(t.axes) {
		return 0, fmt.Errorf("rank lookup needs all %d axes, got %d; use FilterMatch for slices", len(t.axes), len(coord))
	}

	rank := 0
	for i, axis := range t.axes {
		v, ok := coord[axis]
		if !ok {
			return 0, fmt.Errorf("missing axis %q", axis)
		}
		if v < 0 || v >= t.dims[i] {
			return 0, fmt.Errorf("coordinate %s=%d out of range [0, %d)", axis, v, t.dims[i])
		}
		rank += v * t.strides[i]
	}
	return rank, nil
}

// Coord returns the coordinate owned by a rank.
func (t *Topology) Coord(rank int) (Coord, error) {
	if rank < 0 || rank >= t.WorldSize() {
		return nil, fmt.Errorf("rank %d not found in topology", rank)
	}
	return t.coord(rank), nil
}

// CoordOf returns a single axis coordinate of a rank.
func (t *Topology) CoordOf(rank int, axis string) (int, error) {
	i := t.axisIndex(axis)
	if i < 0 {
		return 0, fmt.Errorf("unknown axis %q", axis)
	}
	c, err := t.Coord(rank)
	if err != nil {
		return 0, err
	}
	return c[i], nil
}

// AxisCommLists returns groups of ranks whose coordinates match in every
// axis except the given one. Each group is ordered along the axis. An
// unknown axis yields no groups.
func (t *Topology) AxisCommLists(axis string) [][]int {
	ai := t.axisIndex(axis)
	if ai < 0 {
		return nil
	}

	var lists [][]int
	for rank := 0; rank < t.WorldSize(); rank++ {
		c := t.coord(rank)
		if c[ai] != 0 {
			continue
		}
		group := make([]int, t.dims[ai])
		for k := range group {
			group[k] = rank + k*t.strides[ai]
		}
		lists = append(lists, group)
	}
	return lists
}

// FilterMatch returns the ranks whose coordinates match every criterion.
func (t *Topology) FilterMatch(criteria map[string]int) []int {
	var ranks []int
	for rank := 0; rank < t.WorldSize(); rank++ {
		if t.matches(rank, criteria) {
			ranks = append(ranks, rank)
		}
	}
	return ranks
}

// AxisList returns the ranks whose coordinate along axis equals idx.
func (t *Topology) AxisList(axis string, idx int) []int {
	if !t.HasAxis(axis) {
		return nil
	}
	return t.FilterMatch(map[string]int{axis: idx})
}

// RankRepr renders the coordinate of a rank, omitting some axes, as used
// for checkpoint file names: "model_01" or "a_01-b_01".
func (t *Topology) RankRepr(rank int, omit []string, innerSep, outerSep string) (string, error) {
	c, err := t.Coord(rank)
	if err != nil {
		return "", err
	}

	skip := make(map[string]bool, len(omit))
	for _, a := range omit {
		skip[a] = true
	}

	var parts []string
	for i, axis := range t.axes {
		if skip[axis] {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s%s%02d", axis, innerSep, c[i]))
	}
	return strings.Join(parts, outerSep), nil
}

// String lists every coordinate with its rank.
func (t *Topology) String() string {
	var b strings.Builder
	for rank := 0; rank < t.WorldSize(); rank++ {
		if rank > 0 {
			b.WriteString(" ")
		}
		c := t.coord(rank)
		b.WriteString("(")
		for i, axis := range t.axes {
			if i > 0 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "%s=%d", axis, c[i])
		}
		fmt.Fprintf(&b, "):%d", rank)
	}
	return b.String()
}

func (t *Topology) axisIndex(axis string) int {
	for i, a := range t.axes {
		if a == axis {
			return i
		}
	}
	return -1
}

func (t *Topology) coord(rank int) Coord {
	c := make(Coord, len(t.dims))
	for i := range t.dims {
		c[i] = (rank / t.strides[i]) % t.dims[i]
	}
	return c
}

func (t *Topology) matches(rank int, criteria map[string]int) bool {
	c := t.coord(rank)
	for axis, want := range criteria {
		i := t.axisIndex(axis)
		if i < 0 || c[i] != want {
			return false
		}
	}
	return true
}

// PrimeFactors returns the prime factorization of n in ascending order.
func PrimeFactors(n int) ([]int, error) {
	if n <= 0 {
		return nil, fmt.Errorf("values must be strictly positive, got %d", n)
	}

	var primes []int
	for p := 2; p*p <= n; p++ {
		for n%p == 0 {
			primes = append(primes, p)
			n /= p
		}
	}
	if n > 1 {
		primes = append(primes, n)
	}
	sort.Ints(primes)
	return primes, nil
}

// Default builds a pipe/data topology for worldSize ranks by handing prime
// factors alternately to the pipe and data axes.
func Default(worldSize int) (*Topology, error) {
	primes, err := PrimeFactors(worldSize)
	if err != nil {
		return nil, err
	}

	pp, dp := 1, 1
	for i, p := range primes {
		if i%2 == 0 {
			pp *= p
		} else {
			dp *= p
		}
	}
	return NewPipeData(pp, dp)
}
