package reduce

import "fmt"

// marchingSquares extracts iso-level polylines from a density grid.
// xs and ys are the grid coordinates, z[iy][ix] the density at
// (xs[ix], ys[iy]). Cell-by-cell crossings are linearly interpolated
// and the resulting segments chained into polylines.
type segment struct {
	a, b [2]float64
}

func marchingSquares(xs, ys []float64, z [][]float64, level float64) [][][2]float64 {
	var segments []segment

	interp := func(p1, p2 [2]float64, v1, v2 float64) [2]float64 {
		t := (level - v1) / (v2 - v1)
		return [2]float64{p1[0] + t*(p2[0]-p1[0]), p1[1] + t*(p2[1]-p1[1])}
	}

	for iy := 0; iy+1 < len(ys); iy++ {
		for ix := 0; ix+1 < len(xs); ix++ {
			// Corner values: a bottom-left, b bottom-right,
			// c top-right, d top-left.
			za, zb := z[iy][ix], z[iy][ix+1]
			zc, zd := z[iy+1][ix+1], z[iy+1][ix]
			pa := [2]float64{xs[ix], ys[iy]}
			pb := [2]float64{xs[ix+1], ys[iy]}
			pc := [2]float64{xs[ix+1], ys[iy+1]}
			pd := [2]float64{xs[ix], ys[iy+1]}

			idx := 0
			if za > level {
				idx |= 1
			}
			if zb > level {
				idx |= 2
			}
			if zc > level {
				idx |= 4
			}
			if zd > level {
				idx |= 8
			}
			if idx == 0 || idx == 15 {
				continue
			}

			bottom := func() [2]float64 { return interp(pa, pb, za, zb) }
			right := func() [2]float64 { return interp(pb, pc, zb, zc) }
			top := func() [2]float64 { return interp(pd, pc, zd, zc) }
			left := func() [2]float64 { return interp(pa, pd, za, zd) }

			add := func(a, b [2]float64) {
				segments = append(segments, segment{a, b})
			}

			switch idx {
			case 1, 14:
				add(left(), bottom())
			case 2, 13:
				add(bottom(), right())
			case 3, 12:
				add(left(), right())
			case 4, 11:
				add(right(), top())
			case 6, 9:
				add(bottom(), top())
			case 7, 8:
				add(left(), top())
			case 5, 10:
				// Saddle cell: disambiguate with the center value.
				center := (za + zb + zc + zd) / 4
				highPair := idx == 5
				if center > level == highPair {
					add(left(), top())
					add(bottom(), right())
				} else {
					add(left(), bottom())
					add(top(), right())
				}
			}
		}
	}

	return chainSegments(segments)
}

// chainSegments joins segments sharing endpoints into polylines.
func chainSegments(segments []segment) [][][2]float64 {
	key := func(p [2]float64) string {
		return fmt.Sprintf("%.9e,%.9e", p[0], p[1])
	}

	adjacency := make(map[string][]int)
	for i, s := range segments {
		adjacency[key(s.a)] = append(adjacency[key(s.a)], i)
		adjacency[key(s.b)] = append(adjacency[key(s.b)], i)
	}

	used := make([]bool, len(segments))
	takeNext := func(p [2]float64) (int, bool) {
		for _, i := range adjacency[key(p)] {
			if !used[i] {
				return i, true
			}
		}
		return 0, false
	}

	var paths [][][2]float64
	for start := range segments {
		if used[start] {
			continue
		}
		used[start] = true
		path := [][2]float64{segments[start].a, segments[start].b}

		// Extend forward from the tail.
		for {
			tail := path[len(path)-1]
			i, ok := takeNext(tail)
			if !ok {
				break
			}
			used[i] = true
			if key(segments[i].a) == key(tail) {
				path = append(path, segments[i].b)
			} else {
				path = append(path, segments[i].a)
			}
		}
		// Then backward from the head.
		for {
			head := path[0]
			i, ok := takeNext(head)
			if !ok {
				break
			}
			used[i] = true
			var p [2]float64
			if key(segments[i].a) == key(head) {
				p = segments[i].b
			} else {
				p = segments[i].a
			}
			path = append([][2]float64{p}, path...)
		}
		paths = append(paths, path)
	}
	return paths
}
