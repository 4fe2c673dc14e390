package accel

import (
	"math"
	"time"

	"github.com/Carmen-Shannon/oxy-rt/common"
)

// NodeSize is the serialized size of a Node in bytes.
const NodeSize = 32

// splitBins is the number of candidate split planes evaluated per axis.
const splitBins = 16

// BoundedVolume is anything the BVH builder can partition.
type BoundedVolume interface {
	// BBox returns the world (or object) space bounds of the item.
	BBox() AABB

	// Center returns the point used to bin the item into split candidates.
	Center() common.Vec3
}

// ScoreStrategy scores split candidates. Lower scores are better.
type ScoreStrategy interface {
	// ScoreLeaf returns the cost of keeping count items in a single leaf.
	//
	// Parameters:
	//   - bounds: the bounds of the items
	//   - count: the number of items
	//
	// Returns:
	//   - float32: the leaf cost
	ScoreLeaf(bounds AABB, count int) float32

	// ScoreSplit returns the cost of splitting a node into the two given halves.
	//
	// Parameters:
	//   - left: bounds of the left half
	//   - leftCount: number of items in the left half
	//   - right: bounds of the right half
	//   - rightCount: number of items in the right half
	//
	// Returns:
	//   - float32: the split cost
	ScoreSplit(left AABB, leftCount int, right AABB, rightCount int) float32
}

// SurfaceAreaHeuristic scores nodes as item count times bounding box surface area.
type SurfaceAreaHeuristic struct{}

var _ ScoreStrategy = SurfaceAreaHeuristic{}

func (SurfaceAreaHeuristic) ScoreLeaf(bounds AABB, count int) float32 {
	return float32(count) * bounds.HalfArea()
}

func (SurfaceAreaHeuristic) ScoreSplit(left AABB, leftCount int, right AABB, rightCount int) float32 {
	return float32(leftCount)*left.HalfArea() + float32(rightCount)*right.HalfArea()
}

// Node is a flattened BVH node. Interior nodes store their child indices in LData and
// RData. Leaves store the negated index of their first item in LData and the item count
// in RData. Children are always stored after their parent, so index 0 is the root and
// any interior node has LData > 0.
type Node struct {
	Min   common.Vec3
	LData int32
	Max   common.Vec3
	RData int32
}

func (n Node) IsLeaf() bool {
	return n.LData <= 0
}

func (n Node) Bounds() AABB {
	return AABB{Min: n.Min, Max: n.Max}
}

// Leaf returns the first item slot and the item count of a leaf node.
func (n Node) Leaf() (first, count int) {
	return int(-n.LData), int(n.RData)
}

// Children returns the child node indices of an interior node.
func (n Node) Children() (left, right int) {
	return int(n.LData), int(n.RData)
}

type splitCandidate struct {
	axis                  int
	bin                   int
	splitPoint            float32
	leftCount, rightCount int
	score                 float32
}

type bvhBuilder struct {
	items     []BoundedVolume
	leafSize  int
	strategy  ScoreStrategy
	nodes     []Node
	order     []int
	scoreChan chan splitCandidate

	numLeafs int
	maxDepth int
}

// Build constructs a BVH over items.
//
// Parameters:
//   - items: the volumes to partition
//   - leafSize: work lists with at most this many items always become leaves (minimum 1)
//   - strategy: split scoring; nil selects SurfaceAreaHeuristic
//
// Returns:
//   - []Node: the flattened nodes, root first. An empty input yields one empty leaf.
//   - []int: item indices in leaf order; leaf slots index into this slice
func Build(items []BoundedVolume, leafSize int, strategy ScoreStrategy) ([]Node, []int) {
	if leafSize < 1 {
		leafSize = 1
	}
	if strategy == nil {
		strategy = SurfaceAreaHeuristic{}
	}
	b := &bvhBuilder{
		items:     items,
		leafSize:  leafSize,
		strategy:  strategy,
		nodes:     make([]Node, 0, max(1, 2*len(items)-1)),
		order:     make([]int, 0, len(items)),
		scoreChan: make(chan splitCandidate),
	}

	if len(items) == 0 {
		empty := EmptyAABB()
		b.nodes = append(b.nodes, Node{Min: empty.Min, Max: empty.Max})
		return b.nodes, b.order
	}

	work := make([]int, len(items))
	for i := range work {
		work[i] = i
	}

	start := time.Now()
	b.partition(work, 0)
	common.Logger().Debug("bvh built",
		"items", len(items),
		"nodes", len(b.nodes),
		"leafs", b.numLeafs,
		"maxDepth", b.maxDepth,
		"elapsed", time.Since(start),
	)
	return b.nodes, b.order
}

// partition builds the subtree for work and returns its node index.
func (b *bvhBuilder) partition(work []int, depth int) int {
	b.maxDepth = max(b.maxDepth, depth)

	bounds := EmptyAABB()
	centers := EmptyAABB()
	for _, idx := range work {
		bounds = bounds.Union(b.items[idx].BBox())
		centers = centers.Extend(b.items[idx].Center())
	}

	if len(work) <= b.leafSize {
		return b.createLeaf(work, bounds)
	}

	best := b.bestSplit(work, centers)
	if best == nil || best.score >= b.strategy.ScoreLeaf(bounds, len(work)) {
		// No split beats a leaf. Large lists are still split at the centroid median so
		// leaves stay small enough for the traversal stack.
		if len(work) <= 4*b.leafSize {
			return b.createLeaf(work, bounds)
		}
		best = b.medianSplit(work, centers)
		if best == nil {
			return b.createLeaf(work, bounds)
		}
	}

	left := make([]int, 0, best.leftCount)
	right := make([]int, 0, best.rightCount)
	for _, idx := range work {
		if b.items[idx].Center()[best.axis] < best.splitPoint {
			left = append(left, idx)
		} else {
			right = append(right, idx)
		}
	}

	nodeIndex := len(b.nodes)
	b.nodes = append(b.nodes, Node{Min: bounds.Min, Max: bounds.Max})

	l := b.partition(left, depth+1)
	r := b.partition(right, depth+1)
	b.nodes[nodeIndex].LData = int32(l)
	b.nodes[nodeIndex].RData = int32(r)
	return nodeIndex
}

func (b *bvhBuilder) createLeaf(work []int, bounds AABB) int {
	nodeIndex := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Min:   bounds.Min,
		LData: -int32(len(b.order)),
		Max:   bounds.Max,
		RData: int32(len(work)),
	})
	b.order = append(b.order, work...)
	b.numLeafs++
	return nodeIndex
}

// bestSplit scores splitBins-1 planes per axis in parallel and returns the lowest scoring
// candidate, or nil when no plane separates the work list. Ties resolve to the lowest
// axis and bin so builds are deterministic.
func (b *bvhBuilder) bestSplit(work []int, centers AABB) *splitCandidate {
	side := centers.Max.Sub(centers.Min)
	pending := 0
	for axis := 0; axis < 3; axis++ {
		if side[axis] < 1e-6 {
			continue
		}
		step := side[axis] / splitBins
		for bin := 1; bin < splitBins; bin++ {
			c := splitCandidate{axis: axis, bin: bin, splitPoint: centers.Min[axis] + step*float32(bin)}
			pending++
			go c.evaluate(b.items, work, b.strategy, b.scoreChan)
		}
	}

	var best *splitCandidate
	for ; pending > 0; pending-- {
		c := <-b.scoreChan
		if c.leftCount == 0 || c.rightCount == 0 {
			continue
		}
		if best == nil || c.score < best.score ||
			(c.score == best.score && (c.axis < best.axis || (c.axis == best.axis && c.bin < best.bin))) {
			cc := c
			best = &cc
		}
	}
	return best
}

// medianSplit splits the widest centroid axis at its midpoint.
func (b *bvhBuilder) medianSplit(work []int, centers AABB) *splitCandidate {
	side := centers.Max.Sub(centers.Min)
	axis := 0
	if side[1] > side[axis] {
		axis = 1
	}
	if side[2] > side[axis] {
		axis = 2
	}
	if side[axis] < 1e-6 {
		return nil
	}
	c := splitCandidate{axis: axis, splitPoint: centers.Min[axis] + side[axis]*0.5}
	for _, idx := range work {
		if b.items[idx].Center()[axis] < c.splitPoint {
			c.leftCount++
		} else {
			c.rightCount++
		}
	}
	if c.leftCount == 0 || c.rightCount == 0 {
		return nil
	}
	return &c
}

func (c splitCandidate) evaluate(items []BoundedVolume, work []int, strategy ScoreStrategy, out chan<- splitCandidate) {
	left := EmptyAABB()
	right := EmptyAABB()
	for _, idx := range work {
		item := items[idx]
		if item.Center()[c.axis] < c.splitPoint {
			c.leftCount++
			left = left.Union(item.BBox())
		} else {
			c.rightCount++
			right = right.Union(item.BBox())
		}
	}
	if c.leftCount == 0 || c.rightCount == 0 {
		c.score = math.MaxFloat32
	} else {
		c.score = strategy.ScoreSplit(left, c.leftCount, right, c.rightCount)
	}
	out <- c
}
