package partitions

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrNoItems      = errors.New("partitions: nothing to partition")
	ErrBadWeights   = errors.New("partitions: weights do not match items")
	ErrInvalidTotal = errors.New("partitions: layout does not cover every item once")
)

// Partition is a batch of work items (survey sources) handed to a single
// worker. Items are kept in ascending order so results can be reduced in a
// fixed order.
type Partition struct {
	ID int

	Items    []int   // Global item indices in this partition
	NumItems int     // len(Items)
	Load     float64 // Sum of item weights
}

// PartitionLayout is the decomposition of all work items into batches
type PartitionLayout struct {
	Partitions []Partition

	MaxItems      int // max(NumItems) across partitions
	TotalItems    int
	NumPartitions int

	// Item to partition mapping: item i belongs to partition IToP[i]
	IToP []int
}

// GetPartition returns the partition containing item i, or -1
func (pl *PartitionLayout) GetPartition(item int) int {
	if item < 0 || item >= len(pl.IToP) {
		return -1
	}
	return pl.IToP[item]
}

// ValidateLayout checks that every item appears in exactly one partition and
// that the bookkeeping fields agree with the partitions
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("layout has %d partitions, NumPartitions is %d",
			len(pl.Partitions), pl.NumPartitions)
	}
	seen := make([]bool, pl.TotalItems)
	actualMax, count := 0, 0
	for _, p := range pl.Partitions {
		if p.NumItems != len(p.Items) {
			return fmt.Errorf("partition %d: NumItems %d != %d items",
				p.ID, p.NumItems, len(p.Items))
		}
		if p.NumItems > actualMax {
			actualMax = p.NumItems
		}
		for _, it := range p.Items {
			if it < 0 || it >= pl.TotalItems || seen[it] {
				return fmt.Errorf("%w: item %d in partition %d", ErrInvalidTotal, it, p.ID)
			}
			if pl.IToP[it] != p.ID {
				return fmt.Errorf("item %d: IToP says %d, found in %d", it, pl.IToP[it], p.ID)
			}
			seen[it] = true
			count++
		}
	}
	if count != pl.TotalItems {
		return fmt.Errorf("%w: %d of %d items placed", ErrInvalidTotal, count, pl.TotalItems)
	}
	if actualMax != pl.MaxItems {
		return fmt.Errorf("computed MaxItems %d != stored MaxItems %d",
			actualMax, pl.MaxItems)
	}
	return nil
}

type PartitionStats struct {
	NumPartitions int
	MinItems      int
	MaxItems      int
	AvgItems      float64
	MaxLoad       float64
	Imbalance     float64 // MaxLoad / average load
}

// PartitionStatistics computes load balance metrics
func (pl *PartitionLayout) PartitionStatistics() PartitionStats {
	stats := PartitionStats{
		NumPartitions: pl.NumPartitions,
		MinItems:      math.MaxInt32,
		AvgItems:      float64(pl.TotalItems) / float64(pl.NumPartitions),
	}
	var total float64
	for _, p := range pl.Partitions {
		if p.NumItems < stats.MinItems {
			stats.MinItems = p.NumItems
		}
		if p.NumItems > stats.MaxItems {
			stats.MaxItems = p.NumItems
		}
		if p.Load > stats.MaxLoad {
			stats.MaxLoad = p.Load
		}
		total += p.Load
	}
	if total > 0 {
		stats.Imbalance = stats.MaxLoad / (total / float64(pl.NumPartitions))
	}
	return stats
}
