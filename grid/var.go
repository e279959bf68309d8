// Package grid holds diced micropolygon grids and their shading channels.
//
// A Grid is a regular nu×nv array of shading points. Which channels a grid
// carries is decided before dicing by a StorageBuilder, so per-grid memory
// stays proportional to what the shader and the outputs actually read.
package grid

import (
	"fmt"
	"strings"
)

// Var identifies a standard shading channel.
type Var uint8

// Standard channels.
const (
	P  Var = iota // position
	I             // view direction
	N             // shading normal
	Ng            // geometric normal
	Cs            // surface colour
	Os            // surface opacity
	Ci            // output colour
	Oi            // output opacity
	U             // surface parameter u
	V             // surface parameter v

	numVars
)

var varNames = [numVars]string{"P", "I", "N", "Ng", "Cs", "Os", "Ci", "Oi", "u", "v"}

var varComponents = [numVars]int{3, 3, 3, 3, 3, 3, 3, 3, 1, 1}

// String returns the conventional shading-language name of v.
func (v Var) String() string {
	if v < numVars {
		return varNames[v]
	}
	return fmt.Sprintf("Var(%d)", uint8(v))
}

// Components returns the number of float32 components per value of v.
func (v Var) Components() int {
	if v < numVars {
		return varComponents[v]
	}
	return 0
}

// ParseVar looks up a channel by its shading-language name. Single-letter
// names are case sensitive; longer names such as Ng also match ignoring case.
func ParseVar(name string) (Var, error) {
	for v, n := range varNames {
		if n == name || (len(n) > 1 && strings.EqualFold(n, name)) {
			return Var(v), nil
		}
	}
	return 0, fmt.Errorf("grid: unknown variable %q", name)
}

// VarSet is a set of channels.
type VarSet uint16

// NewVarSet returns the set containing vars.
func NewVarSet(vars ...Var) VarSet {
	var s VarSet
	for _, v := range vars {
		s |= 1 << v
	}
	return s
}

// Contains reports whether v is in s.
func (s VarSet) Contains(v Var) bool { return v < numVars && s&(1<<v) != 0 }

// With returns s with vars added.
func (s VarSet) With(vars ...Var) VarSet { return s | NewVarSet(vars...) }

// Intersect returns the channels in both s and o.
func (s VarSet) Intersect(o VarSet) VarSet { return s & o }

// Vars returns the members of s in channel order.
func (s VarSet) Vars() []Var {
	var out []Var
	for v := range numVars {
		if s.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

func (s VarSet) String() string {
	names := make([]string, 0, numVars)
	for _, v := range s.Vars() {
		names = append(names, v.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// StorageClass says how many values a channel holds on a grid.
type StorageClass uint8

const (
	// Varying channels hold one value per vertex.
	Varying StorageClass = iota
	// Uniform channels hold a single value for the whole grid.
	Uniform
)

func (c StorageClass) String() string {
	if c == Uniform {
		return "uniform"
	}
	return "varying"
}
