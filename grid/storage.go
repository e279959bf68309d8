package grid

import "fmt"

// VarSpec is one entry of a storage configuration: which channel, how it is
// stored, and whether the geometry fills it in while dicing.
type VarSpec struct {
	Var      Var
	Class    StorageClass
	FromGeom bool
}

// StorageBuilder collects the channel configuration of a grid that is about
// to be diced.
//
// The renderer adds the channels shading and output need, then calls
// SetFromGeom. Channels added after that point, typically primitive
// variables such as an explicit N, are marked as diced by the geometry, so
// the renderer does not overwrite them during post-dice fill-in.
//
// A StorageBuilder is reused across grids and is not safe for concurrent use.
type StorageBuilder struct {
	specs    [numVars]VarSpec
	present  VarSet
	fromGeom bool
}

// Clear removes every channel and leaves geometry mode.
func (b *StorageBuilder) Clear() {
	*b = StorageBuilder{}
}

// Add requests channel v. Requesting a channel twice keeps the wider storage
// class; a channel becomes diced by geometry if any request marks it so.
func (b *StorageBuilder) Add(v Var, class StorageClass) {
	if v >= numVars {
		return
	}
	s := &b.specs[v]
	if !b.present.Contains(v) {
		*s = VarSpec{Var: v, Class: class}
		b.present = b.present.With(v)
	} else if class == Varying {
		s.Class = Varying
	}
	if b.fromGeom {
		s.FromGeom = true
	}
}

// SetFromGeom switches the builder to geometry mode: subsequent Add calls
// mark their channels as diced by the geometry.
func (b *StorageBuilder) SetFromGeom() { b.fromGeom = true }

// Contains reports whether channel v has been requested.
func (b *StorageBuilder) Contains(v Var) bool { return b.present.Contains(v) }

// Vars returns the requested channels.
func (b *StorageBuilder) Vars() VarSet { return b.present }

// Specs returns the configuration in channel order.
func (b *StorageBuilder) Specs() []VarSpec {
	out := make([]VarSpec, 0, numVars)
	for _, v := range b.present.Vars() {
		out = append(out, b.specs[v])
	}
	return out
}

// Build allocates storage for nverts vertices. Position is always allocated
// as a varying channel, whether or not it was requested.
func (b *StorageBuilder) Build(nverts int) (*Storage, error) {
	if nverts <= 0 {
		return nil, fmt.Errorf("grid: cannot allocate storage for %d vertices", nverts)
	}
	s := &Storage{nverts: nverts}
	specs := b.specs
	present := b.present
	if !present.Contains(P) {
		specs[P] = VarSpec{Var: P, Class: Varying}
		present = present.With(P)
	}
	for _, v := range present.Vars() {
		sp := specs[v]
		n := v.Components()
		if sp.Class == Varying {
			n *= nverts
		}
		s.chans[v] = channel{data: buffers.get(n), class: sp.Class, fromGeom: sp.FromGeom}
	}
	return s, nil
}

type channel struct {
	data     []float32
	class    StorageClass
	fromGeom bool
}

// Storage holds the channel data of one grid. Vector channels are packed as
// consecutive x, y, z triples.
type Storage struct {
	nverts int
	chans  [numVars]channel
}

// NVerts returns the number of vertices the storage was built for.
func (s *Storage) NVerts() int { return s.nverts }

// Has reports whether channel v is allocated.
func (s *Storage) Has(v Var) bool { return v < numVars && s.chans[v].data != nil }

// Get returns the raw data of channel v, or nil if it is not allocated.
func (s *Storage) Get(v Var) []float32 {
	if v >= numVars {
		return nil
	}
	return s.chans[v].data
}

// Class returns the storage class of channel v.
func (s *Storage) Class(v Var) StorageClass { return s.chans[v].class }

// DicedByGeom reports whether channel v is filled in by the geometry.
func (s *Storage) DicedByGeom(v Var) bool { return s.Has(v) && s.chans[v].fromGeom }

// Vars returns the allocated channels.
func (s *Storage) Vars() VarSet {
	var set VarSet
	for v := range numVars {
		if s.Has(v) {
			set = set.With(v)
		}
	}
	return set
}

// offset returns the index of the first component of element i of v.
func (s *Storage) offset(v Var, i int) int {
	if s.chans[v].class == Uniform {
		return 0
	}
	return i * v.Components()
}

// Vec3 returns element i of a three-component channel. Uniform channels
// return their single value for every i.
func (s *Storage) Vec3(v Var, i int) [3]float32 {
	d := s.chans[v].data
	o := s.offset(v, i)
	return [3]float32{d[o], d[o+1], d[o+2]}
}

// SetVec3 stores element i of a three-component channel.
func (s *Storage) SetVec3(v Var, i int, val [3]float32) {
	d := s.chans[v].data
	o := s.offset(v, i)
	d[o], d[o+1], d[o+2] = val[0], val[1], val[2]
}

// Float returns element i of a one-component channel.
func (s *Storage) Float(v Var, i int) float32 {
	return s.chans[v].data[s.offset(v, i)]
}

// SetFloat stores element i of a one-component channel.
func (s *Storage) SetFloat(v Var, i int, val float32) {
	s.chans[v].data[s.offset(v, i)] = val
}

// Fill sets every element of a three-component channel to val.
func (s *Storage) Fill(v Var, val [3]float32) {
	d := s.chans[v].data
	for o := 0; o+2 < len(d); o += 3 {
		d[o], d[o+1], d[o+2] = val[0], val[1], val[2]
	}
}

// Copy copies channel src into dst. Both must be allocated with the same
// number of components and class.
func (s *Storage) Copy(dst, src Var) {
	copy(s.chans[dst].data, s.chans[src].data)
}

// Release returns the channel buffers to the pool. The storage must not be
// used afterwards.
func (s *Storage) Release() {
	for v := range s.chans {
		buffers.put(s.chans[v].data)
		s.chans[v] = channel{}
	}
}
