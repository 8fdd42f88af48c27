package nn

import (
	"fmt"
	"sort"
)

// normalizeAxes validates and canonicalizes the reduction axes for an input
// of the given rank. A nil or empty list selects the default: every axis
// except axis 1, so a [batch, features, ...] layout keeps per-feature
// statistics. The result is sorted and deduplicated.
func normalizeAxes(axes []int, rank int) ([]int, error) {
	if rank < 1 {
		return nil, fmt.Errorf("input shape must have at least one dimension")
	}

	if len(axes) == 0 {
		out := []int{0}
		for a := 2; a < rank; a++ {
			out = append(out, a)
		}
		return out, nil
	}

	seen := make(map[int]bool)
	out := make([]int, 0, len(axes))
	for _, a := range axes {
		if a < 0 || a >= rank {
			return nil, fmt.Errorf("reduction axis %d out of range for rank %d", a, rank)
		}
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	sort.Ints(out)
	return out, nil
}

// axisMask returns a per-axis flag slice marking the reduced axes
func axisMask(axes []int, rank int) []bool {
	mask := make([]bool, rank)
	for _, a := range axes {
		mask[a] = true
	}
	return mask
}

// statShape is the input shape with every reduced axis collapsed to 1.
// Running and batch statistics are both shaped this way so they broadcast
// back over the input.
func statShape(inputShape, axes []int) []int {
	shape := append([]int{}, inputShape...)
	for _, a := range axes {
		shape[a] = 1
	}
	return shape
}

// computeStrides returns row-major strides for a shape
func computeStrides(shape []int) []int {
	strides := make([]int, len(shape))
	s := 1
	for a := len(shape) - 1; a >= 0; a-- {
		strides[a] = s
		s *= shape[a]
	}
	return strides
}

// resolveInputShape fills the runtime-dependent dimensions of a configured
// input shape. The first unknown dimension is recovered from the flat input
// length when it divides cleanly; any further unknowns fall back to the
// network batch size.
func resolveInputShape(inputShape []int, batchSize, total int) []int {
	shape := append([]int{}, inputShape...)
	known := 1
	first := -1
	for i, d := range shape {
		if d <= 0 {
			if first < 0 {
				first = i
				continue
			}
			shape[i] = batchSize
			known *= batchSize
		} else {
			known *= d
		}
	}
	if first >= 0 {
		if known > 0 && total%known == 0 {
			shape[first] = total / known
		} else {
			shape[first] = batchSize
		}
	}
	return shape
}
