package partitions

import (
	"fmt"
	"math"
	"sort"
)

// PartitionStrategy defines how items are grouped
type PartitionStrategy int

const (
	BlockPartition    PartitionStrategy = iota // Consecutive items
	RoundRobin                                 // Distribute cyclically
	WeightedPartition                          // Greedy longest-processing-time on Weights
)

func (s PartitionStrategy) String() string {
	switch s {
	case BlockPartition:
		return "block"
	case RoundRobin:
		return "round_robin"
	case WeightedPartition:
		return "weighted"
	}
	return "unknown"
}

func ParseStrategy(name string) (PartitionStrategy, error) {
	switch name {
	case "", "block":
		return BlockPartition, nil
	case "round_robin":
		return RoundRobin, nil
	case "weighted":
		return WeightedPartition, nil
	}
	return 0, fmt.Errorf("partitions: unknown strategy %q", name)
}

// PartitionBuilder constructs a layout of NumItems work items
type PartitionBuilder struct {
	NumItems int
	Weights  []float64 // Optional cost per item, 1 when nil

	// NumPartitions wins over TargetPartitionSize when both are set
	NumPartitions       int
	TargetPartitionSize int
	Strategy            PartitionStrategy
}

// BuildPartitions creates and validates a partition layout
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.NumItems <= 0 {
		return nil, ErrNoItems
	}
	if pb.Weights != nil && len(pb.Weights) != pb.NumItems {
		return nil, fmt.Errorf("%w: %d weights for %d items",
			ErrBadWeights, len(pb.Weights), pb.NumItems)
	}

	numPartitions := pb.calculateNumPartitions()
	iToP := pb.partitionItems(numPartitions)
	partitions := pb.createPartitions(iToP, numPartitions)

	layout := &PartitionLayout{
		Partitions:    partitions,
		MaxItems:      calculateMaxItems(partitions),
		TotalItems:    pb.NumItems,
		NumPartitions: numPartitions,
		IToP:          iToP,
	}
	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}
	return layout, nil
}

// calculateNumPartitions never returns more partitions than items
func (pb *PartitionBuilder) calculateNumPartitions() int {
	n := pb.NumPartitions
	if n <= 0 && pb.TargetPartitionSize > 0 {
		n = int(math.Ceil(float64(pb.NumItems) / float64(pb.TargetPartitionSize)))
	}
	if n < 1 {
		n = 1
	}
	if n > pb.NumItems {
		n = pb.NumItems
	}
	return n
}

func (pb *PartitionBuilder) weight(i int) float64 {
	if pb.Weights == nil {
		return 1
	}
	return pb.Weights[i]
}

func (pb *PartitionBuilder) partitionItems(numPartitions int) []int {
	iToP := make([]int, pb.NumItems)

	switch pb.Strategy {
	case RoundRobin:
		for i := range iToP {
			iToP[i] = i % numPartitions
		}

	case WeightedPartition:
		order := make([]int, pb.NumItems)
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return pb.weight(order[a]) > pb.weight(order[b])
		})
		loads := make([]float64, numPartitions)
		for _, it := range order {
			// lightest partition, lowest ID on ties
			best := 0
			for p := 1; p < numPartitions; p++ {
				if loads[p] < loads[best] {
					best = p
				}
			}
			iToP[it] = best
			loads[best] += pb.weight(it)
		}

	default:
		per := int(math.Ceil(float64(pb.NumItems) / float64(numPartitions)))
		for i := range iToP {
			iToP[i] = i / per
			if iToP[i] >= numPartitions {
				iToP[i] = numPartitions - 1
			}
		}
	}
	return iToP
}

func (pb *PartitionBuilder) createPartitions(iToP []int, numPartitions int) []Partition {
	partitions := make([]Partition, numPartitions)
	for i := range partitions {
		partitions[i].ID = i
	}
	// walking items in order keeps every partition sorted
	for it, p := range iToP {
		partitions[p].Items = append(partitions[p].Items, it)
		partitions[p].NumItems++
		partitions[p].Load += pb.weight(it)
	}
	return partitions
}

func calculateMaxItems(partitions []Partition) int {
	m := 0
	for _, p := range partitions {
		if p.NumItems > m {
			m = p.NumItems
		}
	}
	return m
}
