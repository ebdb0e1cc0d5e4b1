package absint

import (
	"fmt"
	"sort"

	"github.com/cpyref/refscan/internal/cfg"
)

// RegionKind classifies symbolic memory locations.
type RegionKind int

const (
	// RegionGlobal is storage bound to a named static location.
	RegionGlobal RegionKind = iota
	// RegionLocal is storage bound to a parameter or local variable.
	RegionLocal
	// RegionHeap is storage produced by an allocating call; distinct
	// allocations never alias.
	RegionHeap
	// RegionObject is a nameless object known to exist behind a pointer,
	// such as the pointee of a PyObject* argument.
	RegionObject
	// RegionField is a member of a parent region.
	RegionField
	// RegionElement is an array element of a parent region.
	RegionElement
)

// Region is a symbolic memory location. Regions are owned by the Arena of
// one function analysis, carry a stable ID, and are compared by identity:
// two regions are the same memory iff they are the same *Region.
type Region struct {
	ID   int
	Kind RegionKind
	Name string

	// Parent/FieldName/ElementKey describe field and element regions.
	Parent     *Region
	FieldName  string
	ElementKey string

	// AllocStmt records the allocating call for heap regions.
	AllocStmt *cfg.CallStmt
	// Uninit marks raw allocations whose contents must not be read before
	// being assigned.
	Uninit bool

	fields   map[string]*Region
	elements map[string]*Region
}

func (r *Region) String() string { return r.Name }

// FieldIfPresent returns the memoized field subregion without creating it.
func (r *Region) FieldIfPresent(name string) *Region {
	return r.fields[name]
}

// FieldNames returns the names of materialized field subregions, sorted.
func (r *Region) FieldNames() []string {
	names := make([]string, 0, len(r.fields))
	for name := range r.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OnStack reports whether the region's root is a local variable. Pointers
// held in stack storage do not count toward an object's expected reference
// count; pointers held anywhere else do.
func (r *Region) OnStack() bool {
	root := r
	for root.Parent != nil {
		root = root.Parent
	}
	return root.Kind == RegionLocal
}

// AllocLoc returns the allocation site of a heap region, if known.
func (r *Region) AllocLoc() cfg.Location {
	if r.AllocStmt != nil {
		return r.AllocStmt.Loc()
	}
	return cfg.Location{}
}

// Arena owns every region of one function analysis. All states of the
// analysis share the arena: the aliasing skeleton is fixed, only the
// region-to-value mappings are per-state.
type Arena struct {
	regions []*Region
	globals map[string]*Region
	locals  map[string]*Region
}

// NewArena returns an empty region arena.
func NewArena() *Arena {
	return &Arena{
		globals: make(map[string]*Region),
		locals:  make(map[string]*Region),
	}
}

func (a *Arena) add(r *Region) *Region {
	r.ID = len(a.regions) + 1
	a.regions = append(a.regions, r)
	return r
}

// Global returns the region for a named static location, creating it on
// first use.
func (a *Arena) Global(name string) *Region {
	if r, ok := a.globals[name]; ok {
		return r
	}
	r := a.add(&Region{Kind: RegionGlobal, Name: name})
	a.globals[name] = r
	return r
}

// Local returns the region for a parameter or local variable, creating it on
// first use.
func (a *Arena) Local(name string) *Region {
	if r, ok := a.locals[name]; ok {
		return r
	}
	r := a.add(&Region{Kind: RegionLocal, Name: name})
	a.locals[name] = r
	return r
}

// Heap creates a fresh heap region for an allocating call. Every call yields
// a distinct region, so allocations from different sites or different trips
// around a loop never alias.
func (a *Arena) Heap(name string, stmt *cfg.CallStmt) *Region {
	return a.add(&Region{Kind: RegionHeap, Name: name, AllocStmt: stmt})
}

// Object creates a fresh region for an object known only through a pointer.
func (a *Arena) Object(name string) *Region {
	return a.add(&Region{Kind: RegionObject, Name: name})
}

// Field returns the subregion for parent.name, memoized per parent so that
// repeated accesses share one identity.
func (a *Arena) Field(parent *Region, name string) *Region {
	if parent.fields == nil {
		parent.fields = make(map[string]*Region)
	}
	if r, ok := parent.fields[name]; ok {
		return r
	}
	r := a.add(&Region{
		Kind:      RegionField,
		Name:      fmt.Sprintf("%s.%s", parent.Name, name),
		Parent:    parent,
		FieldName: name,
	})
	parent.fields[name] = r
	return r
}

// Element returns the subregion for parent[index], memoized per parent and
// index key.
func (a *Arena) Element(parent *Region, index Value) *Region {
	key := index.String()
	if parent.elements == nil {
		parent.elements = make(map[string]*Region)
	}
	if r, ok := parent.elements[key]; ok {
		return r
	}
	r := a.add(&Region{
		Kind:       RegionElement,
		Name:       fmt.Sprintf("%s[%s]", parent.Name, key),
		Parent:     parent,
		ElementKey: key,
	})
	parent.elements[key] = r
	return r
}

// Regions returns all regions created so far, in creation order.
func (a *Arena) Regions() []*Region {
	return a.regions
}
