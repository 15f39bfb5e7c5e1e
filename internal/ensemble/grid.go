package ensemble

import "fmt"

// Grid is the immutable (NY, NX) shape shared by every plane in a run.
type Grid struct {
	NY int
	NX int
}

// NewGrid returns a Grid after checking both dimensions are positive.
func NewGrid(ny, nx int) (Grid, error) {
	if ny <= 0 || nx <= 0 {
		return Grid{}, paramErrorf("grid dimensions must be positive, got %dx%d", ny, nx)
	}
	return Grid{NY: ny, NX: nx}, nil
}

// Len is the number of cells in one plane.
func (g Grid) Len() int { return g.NY * g.NX }

// Index returns the row-major offset of (j, i).
func (g Grid) Index(j, i int) int { return j*g.NX + i }

func (g Grid) String() string { return fmt.Sprintf("%dx%d", g.NY, g.NX) }

// NewPlane allocates a zeroed plane for the grid.
func (g Grid) NewPlane() []float64 { return make([]float64, g.Len()) }

// CheckPlane returns ErrInvalidShape if v is not exactly one plane long.
func (g Grid) CheckPlane(v []float64) error {
	if len(v) != g.Len() {
		return shapeErrorf("plane has %d values, grid %s needs %d", len(v), g, g.Len())
	}
	return nil
}

// checkMembers validates a non-empty ensemble of planes against the grid.
func (g Grid) checkMembers(members [][]float64) error {
	if len(members) == 0 {
		return shapeErrorf("ensemble has no members")
	}
	for m, plane := range members {
		if len(plane) != g.Len() {
			return shapeErrorf("member %d has %d values, grid %s needs %d", m, len(plane), g, g.Len())
		}
	}
	return nil
}

// MemberSet is the ordered list of ensemble members for a run. Member
// indices are positional and stable across every field of the run.
type MemberSet struct {
	ids   []string
	index map[string]int
}

// NewMemberSet builds a MemberSet from unique, non-empty ids.
func NewMemberSet(ids ...string) (MemberSet, error) {
	if len(ids) == 0 {
		return MemberSet{}, paramErrorf("member set is empty")
	}
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		if id == "" {
			return MemberSet{}, paramErrorf("member %d has an empty id", i)
		}
		if _, dup := index[id]; dup {
			return MemberSet{}, paramErrorf("duplicate member id %q", id)
		}
		index[id] = i
	}
	return MemberSet{ids: append([]string(nil), ids...), index: index}, nil
}

// Len is the member count P.
func (m MemberSet) Len() int { return len(m.ids) }

// ID returns the id at position i.
func (m MemberSet) ID(i int) string { return m.ids[i] }

// IDs returns a copy of the ordered ids.
func (m MemberSet) IDs() []string { return append([]string(nil), m.ids...) }

// Index returns the position of id.
func (m MemberSet) Index(id string) (int, bool) {
	i, ok := m.index[id]
	return i, ok
}
