package document

import (
	"fmt"
)

// Project copies the values found at each path of source onto target.
// Paths missing from source (or null there) leave target untouched.
//
// Arrays on the way to a value are flattened. Reading through arrays in
// source yields one value per element; writing through arrays in target
// visits one slot per element. A single value is broadcast to every slot.
// Several values are written one per slot in order and their count must
// match the slot count, otherwise ErrCardinalityMismatch is returned.
//
// Objects missing from target on the way to a slot are created. Arrays
// missing from target are not: there is nothing to write into.
//
// target is modified in place. On error it may be partially updated, so
// callers project onto a copy.
func Project(target, source map[string]any, paths []string) error {
	for _, path := range paths {
		segs := splitPath(path)
		r := reader{arrayAt: map[int]bool{}}
		r.collect(source, segs, 0)
		if len(r.values) == 0 {
			continue
		}

		w := writer{arrayAt: r.arrayAt}
		slots := w.count(target, segs, 0)
		if slots == 0 {
			continue
		}

		values := r.values
		switch {
		case !r.multi, len(values) == 1:
			values = repeat(values[0], slots)
		case len(values) != slots:
			return fmt.Errorf("%w: %s has %d values for %d elements", ErrCardinalityMismatch, path, len(values), slots)
		}
		w.values = values
		w.write(target, segs, 0)
	}
	return nil
}

type reader struct {
	values  []any
	multi   bool
	arrayAt map[int]bool // depths at which source held an array
}

func (r *reader) collect(node any, segs []string, depth int) {
	if node == nil {
		return
	}
	if len(segs) == 0 {
		r.values = append(r.values, node)
		return
	}
	switch n := node.(type) {
	case map[string]any:
		r.collect(n[segs[0]], segs[1:], depth+1)
	case []any:
		r.multi = true
		r.arrayAt[depth] = true
		for _, elem := range n {
			r.collect(elem, segs, depth)
		}
	}
}

type writer struct {
	values  []any
	next    int
	arrayAt map[int]bool
}

// count returns the number of slots write would fill.
func (w *writer) count(node any, segs []string, depth int) int {
	switch n := node.(type) {
	case map[string]any:
		if len(segs) == 1 {
			return 1
		}
		child, ok := n[segs[0]]
		if !ok || child == nil {
			if w.arrayAt[depth+1] {
				return 0
			}
			return 1
		}
		return w.count(child, segs[1:], depth+1)
	case []any:
		total := 0
		for _, elem := range n {
			total += w.count(elem, segs, depth)
		}
		return total
	}
	return 0
}

func (w *writer) write(node any, segs []string, depth int) {
	switch n := node.(type) {
	case map[string]any:
		if len(segs) == 1 {
			n[segs[0]] = w.values[w.next]
			w.next++
			return
		}
		child, ok := n[segs[0]]
		if !ok || child == nil {
			if w.arrayAt[depth+1] {
				return
			}
			child = map[string]any{}
			n[segs[0]] = child
		}
		w.write(child, segs[1:], depth+1)
	case []any:
		for _, elem := range n {
			w.write(elem, segs, depth)
		}
	}
}

func repeat(v any, n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = v
	}
	return out
}
