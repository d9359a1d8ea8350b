package catalog

import (
	"sort"
	"strings"
)

func (s *Snapshot) Variant(id string) (*Variant, error) {
	v, ok := s.variants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (s *Snapshot) Group(key string) (*Group, error) {
	g, ok := s.groups[key]
	if !ok {
		return nil, ErrNotFound
	}
	return g, nil
}

// Category returns the variants of every group in the category.
func (s *Snapshot) Category(name string) []*Variant {
	out := []*Variant{}
	for _, key := range s.categories[name] {
		for _, id := range s.groups[key].Variants {
			out = append(out, s.variants[id])
		}
	}
	return out
}

func (s *Snapshot) Categories() []string {
	out := make([]string, 0, len(s.categories))
	for name := range s.categories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Search matches q case-insensitively against the variant id and names.
// An empty query returns every variant.
func (s *Snapshot) Search(q string) []*Variant {
	q = strings.ToLower(strings.TrimSpace(q))
	out := []*Variant{}
	for _, id := range s.order {
		v := s.variants[id]
		if q == "" || v.matches(q) {
			out = append(out, v)
		}
	}
	return out
}

func (s *Snapshot) Len() int {
	return len(s.variants)
}

func (v *Variant) matches(q string) bool {
	if strings.Contains(strings.ToLower(v.ID), q) || strings.Contains(strings.ToLower(v.Name), q) {
		return true
	}
	for _, name := range v.Names {
		if strings.Contains(strings.ToLower(name), q) {
			return true
		}
	}
	return false
}
