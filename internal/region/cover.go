package region

import (
	"sort"

	"voxelbuild.ai/internal/geom"
)

type cellSet struct {
	order []geom.Vec3i
	seen  map[geom.Vec3i]struct{}
}

func newCellSet() *cellSet { return &cellSet{seen: map[geom.Vec3i]struct{}{}} }

func (s *cellSet) add(c geom.Vec3i) {
	if _, ok := s.seen[c]; ok {
		return
	}
	s.seen[c] = struct{}{}
	s.order = append(s.order, c)
}

func (s *cellSet) has(c geom.Vec3i) bool {
	_, ok := s.seen[c]
	return ok
}

func (s *cellSet) len() int { return len(s.order) }

func (s *cellSet) cells() []geom.Vec3i { return s.order }

// Cover partitions a set of cells into disjoint boxes. Runs grow along x
// first, then whole runs extend along z. Output order is deterministic.
func Cover(cells []geom.Vec3i) []geom.BBox {
	if len(cells) == 0 {
		return nil
	}
	sorted := append([]geom.Vec3i(nil), cells...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		return a.X < b.X
	})

	free := make(map[geom.Vec3i]bool, len(sorted))
	for _, c := range sorted {
		free[c] = true
	}

	var out []geom.BBox
	for _, c := range sorted {
		if !free[c] {
			continue
		}
		x1 := c.X
		for free[geom.V(x1+1, c.Y, c.Z)] {
			x1++
		}
		z1 := c.Z
	grow:
		for {
			for x := c.X; x <= x1; x++ {
				if !free[geom.V(x, c.Y, z1+1)] {
					break grow
				}
			}
			z1++
		}
		for z := c.Z; z <= z1; z++ {
			for x := c.X; x <= x1; x++ {
				free[geom.V(x, c.Y, z)] = false
			}
		}
		out = append(out, geom.Box(c, geom.V(x1, c.Y, z1)))
	}
	return out
}
