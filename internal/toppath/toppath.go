// Package toppath implements the small path grammar used to resolve a
// calibration paramPath such as "clusters[*].hosts[*].cpuPowerModel.asymUtil"
// into a list of mutable float64 leaf accessors (spec.md §4.6, §9).
//
// Deep parameter paths with wildcards don't have a natural Go library
// counterpart in this codebase's dependency set, so this is hand-rolled
// reflection over *model.Topology rather than a generic JSON-path engine:
// the grammar is intentionally narrow (field names and "[*]" wildcards
// only) because that's all a Topology parameter path ever needs.
package toppath

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/opendt-project/opendt/internal/model"
)

// Leaf is a mutable accessor to one float64 field resolved from a path.
type Leaf struct {
	field reflect.Value
}

// Get returns the leaf's current value.
func (l Leaf) Get() float64 { return l.field.Float() }

// Set patches the leaf's value.
func (l Leaf) Set(v float64) { l.field.SetFloat(v) }

// segment is one parsed path component: a field name, optionally followed
// by a "[*]" wildcard meaning "for every element of this slice".
type segment struct {
	field    string
	wildcard bool
}

func parse(path string) ([]segment, error) {
	parts := strings.Split(path, ".")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("go.opendt.dev/E005: empty path segment in %q", path)
		}
		seg := segment{}
		if strings.HasSuffix(p, "[*]") {
			seg.wildcard = true
			seg.field = strings.TrimSuffix(p, "[*]")
		} else {
			seg.field = p
		}
		if seg.field == "" {
			return nil, fmt.Errorf("go.opendt.dev/E005: missing field name in %q", path)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// Resolve returns mutable accessors to every float64 leaf named by path
// within topology. All resolved leaves are later set to the same candidate
// value (spec.md §4.6).
func Resolve(topology *model.Topology, path string) ([]Leaf, error) {
	segs, err := parse(path)
	if err != nil {
		return nil, err
	}
	root := reflect.ValueOf(topology).Elem()
	var leaves []Leaf
	if err := walk(root, segs, &leaves); err != nil {
		return nil, fmt.Errorf("go.opendt.dev/E005: resolving path %q: %w", path, err)
	}
	if len(leaves) == 0 {
		return nil, fmt.Errorf("go.opendt.dev/E005: path %q resolved to no leaves", path)
	}
	return leaves, nil
}

func walk(v reflect.Value, segs []segment, out *[]Leaf) error {
	if len(segs) == 0 {
		if v.Kind() != reflect.Float64 {
			return fmt.Errorf("terminal segment is not a numeric field (kind %s)", v.Kind())
		}
		*out = append(*out, Leaf{field: v})
		return nil
	}

	seg := segs[0]
	rest := segs[1:]

	fv := fieldByJSONOrName(v, seg.field)
	if !fv.IsValid() {
		return fmt.Errorf("no such field %q on %s", seg.field, v.Type())
	}

	if seg.wildcard {
		if fv.Kind() != reflect.Slice {
			return fmt.Errorf("field %q is not a slice, cannot apply [*]", seg.field)
		}
		for i := 0; i < fv.Len(); i++ {
			if err := walk(fv.Index(i), rest, out); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(fv, rest, out)
}

// fieldByJSONOrName finds a struct field on v matching name, preferring the
// field's "json" struct tag (as used throughout package model) and falling
// back to a case-insensitive Go field name match.
func fieldByJSONOrName(v reflect.Value, name string) reflect.Value {
	if v.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		tag = strings.Split(tag, ",")[0]
		if tag == name {
			return v.Field(i)
		}
	}
	return v.FieldByNameFunc(func(fn string) bool {
		return strings.EqualFold(fn, name)
	})
}
