package topology

import "fmt"

// Grid is the pipeline-parallel view of a topology: which stage, replica
// and model slice each rank owns, and which ranks talk to each other.
type Grid struct {
	topo *Topology

	PipeParallelSize  int
	DataParallelSize  int
	ModelParallelSize int
}

// RankInfo describes one rank of the grid.
type RankInfo struct {
	Rank         int  `json:"rank"`
	StageID      int  `json:"stage_id"`
	DataParallel int  `json:"data_parallel_id"`
	ModelID      int  `json:"model_parallel_id"`
	FirstStage   bool `json:"first_stage"`
	LastStage    bool `json:"last_stage"`

	// P2PPeer is the rank holding the next pipeline stage of the same
	// replica and slice. The last stage wraps around to the first.
	P2PPeer int `json:"p2p_peer"`
}

// NewGrid wraps a topology. Missing axes count as length 1.
func NewGrid(topo *Topology) *Grid {
	return &Grid{
		topo:              topo,
		PipeParallelSize:  max(topo.Dim(AxisPipe), 1),
		DataParallelSize:  max(topo.Dim(AxisData), 1),
		ModelParallelSize: max(topo.Dim(AxisModel), 1),
	}
}

// Topology returns the underlying topology.
func (g *Grid) Topology() *Topology {
	return g.topo
}

// Validate checks that the grid covers exactly worldSize ranks.
func (g *Grid) Validate(worldSize int) error {
	if n := g.topo.WorldSize(); n != worldSize {
		return fmt.Errorf("invalid grid: %d ranks in topology, world size is %d", n, worldSize)
	}
	return nil
}

// Info returns the grid position of a rank.
func (g *Grid) Info(rank int) (RankInfo, error) {
	if _, err := g.topo.Coord(rank); err != nil {
		return RankInfo{}, err
	}

	info := RankInfo{
		Rank:         rank,
		StageID:      g.axisCoord(rank, AxisPipe),
		DataParallel: g.axisCoord(rank, AxisData),
		ModelID:      g.axisCoord(rank, AxisModel),
	}
	info.FirstStage = info.StageID == 0
	info.LastStage = info.StageID == g.PipeParallelSize-1
	info.P2PPeer = g.p2pPeer(rank)
	return info, nil
}

// Ranks returns Info for every rank in order.
func (g *Grid) Ranks() []RankInfo {
	infos := make([]RankInfo, 0, g.topo.WorldSize())
	for rank := 0; rank < g.topo.WorldSize(); rank++ {
		info, _ := g.Info(rank)
		infos = append(infos, info)
	}
	return infos
}

// P2PPairs returns [rank, next-stage rank] for every rank.
func (g *Grid) P2PPairs() [][2]int {
	pairs := make([][2]int, 0, g.topo.WorldSize())
	for rank := 0; rank < g.topo.WorldSize(); rank++ {
		pairs = append(pairs, [2]int{rank, g.p2pPeer(rank)})
	}
	return pairs
}

// DataParallelGroups are the gradient all-reduce groups: ranks sharing a
// stage and model slice across replicas.
func (g *Grid) DataParallelGroups() [][]int {
	return g.groupsAlong(AxisData)
}

// PipeGroups are the ranks forming one pipeline, first stage first.
func (g *Grid) PipeGroups() [][]int {
	return g.groupsAlong(AxisPipe)
}

// ModelGroups are the tensor-slicing groups. Without a model axis every
// rank is its own group.
func (g *Grid) ModelGroups() [][]int {
	return g.groupsAlong(AxisModel)
}

// StageToGlobal returns the rank at the given stage sharing the data and
// model coordinates of rank.
func (g *Grid) StageToGlobal(rank, stage int) (int, error) {
	c, err := g.topo.Coord(rank)
	if err != nil {
		return 0, err
	}
	coord := make(map[string]int, len(c))
	for i, axis := range g.topo.axes {
		coord[axis] = c[i]
	}
	if g.topo.HasAxis(AxisPipe) {
		coord[AxisPipe] = stage
	} else if stage != 0 {
		return 0, fmt.Errorf("topology has no %q axis", AxisPipe)
	}
	return g.topo.Rank(coord)
}

func (g *Grid) groupsAlong(axis string) [][]int {
	if g.topo.HasAxis(axis) {
		return g.topo.AxisCommLists(axis)
	}
	groups := make([][]int, 0, g.topo.WorldSize())
	for rank := 0; rank < g.topo.WorldSize(); rank++ {
		groups = append(groups, []int{rank})
	}
	return groups
}

func (g *Grid) axisCoord(rank int, axis string) int {
	v, err := g.topo.CoordOf(rank, axis)
	if err != nil {
		return 0
	}
	return v
}

func (g *Grid) p2pPeer(rank int) int {
	if !g.topo.HasAxis(AxisPipe) {
		return rank
	}
	next := (g.axisCoord(rank, AxisPipe) + 1) % g.PipeParallelSize
	peer, err := g.StageToGlobal(rank, next)
	if err != nil {
		return rank
	}
	return peer
}
