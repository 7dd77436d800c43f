// Package labeling partitions a binary calcium mask into lesions.
//
// A lesion is a connected region of marked voxels inside a single axial
// slice. Regions touching across slices are separate lesions; this is the
// slice-by-slice convention of the Agatston method and deliberately not a 3D
// connected-component decomposition.
//
// Each slice is labelled with a two-pass union-find over a pre-allocated
// parent array. Labels start at 1 within a slice and are shifted by the
// number of labels already assigned to earlier slices, so IDs are unique
// across the volume and ordered by (slice, raster position of the first
// voxel of the region).
package labeling

import (
	"fmt"
	"runtime"
	"sync"

	"aocascore/internal/models"
)

// Connectivity is the in-plane adjacency used to join pixels
type Connectivity int

const (
	// Four joins edge-adjacent pixels only
	Four Connectivity = 4

	// Eight joins edge- and corner-adjacent pixels (clinical default)
	Eight Connectivity = 8
)

// ParseConnectivity converts a configuration value into a Connectivity
func ParseConnectivity(n int) (Connectivity, error) {
	switch Connectivity(n) {
	case Four, Eight:
		return Connectivity(n), nil
	case 0:
		return Eight, nil
	default:
		return 0, fmt.Errorf("unsupported connectivity %d (want 4 or 8)", n)
	}
}

// Options controls labelling
type Options struct {
	// Connectivity is the 2D adjacency; zero means Eight
	Connectivity Connectivity

	// Step labels every Step-th slice starting at slice 0; zero means 1.
	// Skipped slices stay background.
	Step int

	// Workers is the number of goroutines labelling slices. Values below 2
	// run sequentially. Results are identical either way.
	Workers int
}

// Labels is an integer label volume on the mask grid. Zero is background.
type Labels struct {
	Data       []int32
	Width      int
	Height     int
	Depth      int
	NumLesions int
	Step       int
}

// At returns the label of voxel (x, y, z)
func (l *Labels) At(x, y, z int) int32 {
	return l.Data[z*l.Width*l.Height+y*l.Width+x]
}

// Slice returns the labels of axial slice z. The slice aliases l.Data.
func (l *Labels) Slice(z int) []int32 {
	n := l.Width * l.Height
	return l.Data[z*n : (z+1)*n]
}

// Label labels every traversed slice of mask
func Label(mask *models.Mask, opts Options) (*Labels, error) {
	conn := opts.Connectivity
	if conn == 0 {
		conn = Eight
	}
	if conn != Four && conn != Eight {
		return nil, fmt.Errorf("unsupported connectivity %d", conn)
	}
	step := opts.Step
	if step == 0 {
		step = 1
	}
	if step < 0 {
		return nil, fmt.Errorf("slice step must be positive, got %d", step)
	}
	if len(mask.Data) != mask.Width*mask.Height*mask.Depth {
		return nil, fmt.Errorf("%w: mask storage holds %d voxels for %dx%dx%d",
			models.ErrGridMismatch, len(mask.Data), mask.Width, mask.Height, mask.Depth)
	}

	labels := &Labels{
		Data:   make([]int32, len(mask.Data)),
		Width:  mask.Width,
		Height: mask.Height,
		Depth:  mask.Depth,
		Step:   step,
	}
	if !mask.Any() {
		return labels, nil
	}

	var slices []int
	for z := 0; z < mask.Depth; z += step {
		if mask.SliceAny(z) {
			slices = append(slices, z)
		}
	}

	counts := make([]int, len(slices))
	workers := opts.Workers
	if workers > len(slices) {
		workers = len(slices)
	}

	if workers < 2 {
		l := newSliceLabeler(mask.Width, mask.Height, conn)
		for i, z := range slices {
			counts[i] = l.label(maskSlice(mask, z), labels.Slice(z))
		}
	} else {
		labelParallel(mask, labels, conn, slices, counts, workers)
	}

	// Offsets are applied in slice order so IDs do not depend on scheduling
	total := 0
	for i, z := range slices {
		if total > 0 {
			for j, v := range labels.Slice(z) {
				if v != 0 {
					labels.Slice(z)[j] = v + int32(total)
				}
			}
		}
		total += counts[i]
	}
	labels.NumLesions = total

	return labels, nil
}

// DefaultWorkers is the worker count used when none is configured
func DefaultWorkers() int {
	return runtime.NumCPU()
}

// labelParallel labels each slice with local IDs using a fixed pool of
// goroutines. Each slice writes only its own region of labels.Data.
func labelParallel(mask *models.Mask, labels *Labels, conn Connectivity, slices, counts []int, workers int) {
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := newSliceLabeler(mask.Width, mask.Height, conn)
			for i := range jobs {
				z := slices[i]
				counts[i] = l.label(maskSlice(mask, z), labels.Slice(z))
			}
		}()
	}

	for i := range slices {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

func maskSlice(mask *models.Mask, z int) []bool {
	n := mask.SliceLen()
	return mask.Data[z*n : (z+1)*n]
}

// sliceLabeler holds the reusable union-find arena for one slice size
type sliceLabeler struct {
	width, height int
	conn          Connectivity
	parent        []int32
	remap         []int32
}

func newSliceLabeler(width, height int, conn Connectivity) *sliceLabeler {
	return &sliceLabeler{
		width:  width,
		height: height,
		conn:   conn,
		parent: make([]int32, width*height+1),
		remap:  make([]int32, width*height+1),
	}
}

func (s *sliceLabeler) find(x int32) int32 {
	for s.parent[x] != x {
		s.parent[x] = s.parent[s.parent[x]]
		x = s.parent[x]
	}
	return x
}

// union keeps the smaller label as root so roots follow raster order
func (s *sliceLabeler) union(a, b int32) {
	ra, rb := s.find(a), s.find(b)
	switch {
	case ra < rb:
		s.parent[rb] = ra
	case rb < ra:
		s.parent[ra] = rb
	}
}

// label writes labels 1..n for the components of in into out and returns n.
// out must be zeroed.
func (s *sliceLabeler) label(in []bool, out []int32) int {
	w, h := s.width, s.height
	var next int32

	// First pass: provisional labels and equivalences
	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			i := row + x
			if !in[i] {
				continue
			}

			var nbs [4]int32
			n := 0
			if x > 0 {
				nbs[n] = out[i-1]
				n++
			}
			if y > 0 {
				nbs[n] = out[i-w]
				n++
				if s.conn == Eight {
					if x > 0 {
						nbs[n] = out[i-w-1]
						n++
					}
					if x < w-1 {
						nbs[n] = out[i-w+1]
						n++
					}
				}
			}

			var current int32
			for _, nb := range nbs[:n] {
				if nb == 0 {
					continue
				}
				if current == 0 {
					current = nb
					continue
				}
				s.union(current, nb)
			}

			if current == 0 {
				next++
				s.parent[next] = next
				current = next
			}
			out[i] = current
		}
	}

	if next == 0 {
		return 0
	}

	// Second pass: compact roots into consecutive labels in raster order
	for i := int32(1); i <= next; i++ {
		s.remap[i] = 0
	}
	var count int32
	for i, v := range out {
		if v == 0 {
			continue
		}
		root := s.find(v)
		if s.remap[root] == 0 {
			count++
			s.remap[root] = count
		}
		out[i] = s.remap[root]
	}

	return int(count)
}
