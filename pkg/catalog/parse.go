package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// langFallbacks is the order in which localized names are picked.
var langFallbacks = []string{"fa", "en", "tr", "ar"}

// metaKeys are group fields that never hold a variant.
var metaKeys = map[string]bool{
	"variants":     true,
	"name":         true,
	"names":        true,
	"title":        true,
	"image":        true,
	"images":       true,
	"exp":          true,
	"expiry":       true,
	"description":  true,
	"category":     true,
	"translations": true,
}

// Snapshot is an immutable, parsed catalog.
type Snapshot struct {
	LoadedAt     time.Time
	Translations map[string]any

	variants   map[string]*Variant
	groups     map[string]*Group
	categories map[string][]string
	images     map[string]string
	// variant ids sorted by category, group and id
	order []string
}

// Parse builds a snapshot from the catalog JSON document.
func Parse(data []byte) (*Snapshot, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("json.Unmarshal: %w", err)
	}

	s := &Snapshot{
		variants:     make(map[string]*Variant),
		groups:       make(map[string]*Group),
		categories:   make(map[string][]string),
		images:       make(map[string]string),
		Translations: map[string]any{},
	}

	for key, value := range doc {
		if strings.HasSuffix(strings.ToLower(key), "images") {
			if table, ok := value.(map[string]any); ok {
				for id, raw := range table {
					if path, ok := raw.(string); ok {
						s.images[id] = path
					}
				}
			}
		}
	}
	if translations, ok := doc["translations"].(map[string]any); ok {
		s.Translations = translations
	}

	categories := make([]string, 0)
	for key := range doc {
		if strings.HasSuffix(key, "_groups") {
			categories = append(categories, key)
		}
	}
	sort.Strings(categories)

	for _, category := range categories {
		groups, ok := doc[category].(map[string]any)
		if !ok {
			continue
		}
		groupKeys := sortedKeys(groups)
		for _, groupKey := range groupKeys {
			raw, ok := groups[groupKey].(map[string]any)
			if !ok {
				continue
			}
			s.addGroup(category, groupKey, raw)
		}
	}

	return s, nil
}

func (s *Snapshot) addGroup(category, key string, raw map[string]any) {
	group := &Group{
		Key:      key,
		Category: category,
		Names:    pickNames(raw),
		Exp:      pickExp(raw),
		Variants: []string{},
	}
	group.Name = pickName(raw, group.Names, key)
	if img, ok := raw["image"].(string); ok {
		group.Image = normalizeImage(img)
	}
	if group.Image == "" {
		group.Image = normalizeImage(s.images[key])
	}

	add := func(id string, v map[string]any) {
		if _, dup := s.variants[id]; dup {
			return
		}
		variant := s.newVariant(group, id, v)
		s.variants[id] = variant
		group.Variants = append(group.Variants, id)
		s.order = append(s.order, id)
	}

	switch variants := raw["variants"].(type) {
	case map[string]any:
		for _, k := range sortedKeys(variants) {
			if v, ok := variants[k].(map[string]any); ok {
				id := k
				if own, ok := v["id"].(string); ok && own != "" {
					id = own
				}
				add(id, v)
			}
		}
	case []any:
		for i, item := range variants {
			if v, ok := item.(map[string]any); ok {
				id := fmt.Sprintf("%s_%d", key, i)
				if own, ok := v["id"].(string); ok && own != "" {
					id = own
				}
				add(id, v)
			}
		}
	}

	for _, k := range sortedKeys(raw) {
		if metaKeys[k] {
			continue
		}
		if v, ok := raw[k].(map[string]any); ok {
			add(k, v)
		}
	}

	s.groups[key] = group
	s.categories[category] = append(s.categories[category], key)
}

func (s *Snapshot) newVariant(group *Group, id string, raw map[string]any) *Variant {
	v := &Variant{
		ID:       id,
		GroupKey: group.Key,
		Category: group.Category,
		Names:    pickNames(raw),
		Price:    safeFloat(raw["price"]),
		Exp:      pickExp(raw),
	}
	v.Name = pickName(raw, v.Names, id)
	v.Description = pickLocalized(raw, "description")
	if v.Exp == "" {
		v.Exp = group.Exp
	}

	if img, ok := raw["image"].(string); ok {
		v.Image = normalizeImage(img)
	}
	if v.Image == "" {
		v.Image = normalizeImage(s.images[id])
	}
	if v.Image == "" {
		v.Image = group.Image
	}
	return v
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// pickNames collects localized names from name_<lang> fields and a names object.
func pickNames(raw map[string]any) map[string]string {
	names := map[string]string{}
	if table, ok := raw["names"].(map[string]any); ok {
		for lang, v := range table {
			if s, ok := v.(string); ok && s != "" {
				names[lang] = s
			}
		}
	}
	for k, v := range raw {
		lang, ok := strings.CutPrefix(k, "name_")
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			names[lang] = s
		}
	}
	return names
}

func pickName(raw map[string]any, names map[string]string, fallback string) string {
	for _, lang := range langFallbacks {
		if name := names[lang]; name != "" {
			return name
		}
	}
	for _, k := range []string{"name", "title"} {
		if s, ok := raw[k].(string); ok && s != "" {
			return s
		}
	}
	if len(names) > 0 {
		langs := make([]string, 0, len(names))
		for lang := range names {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		return names[langs[0]]
	}
	return fallback
}

func pickLocalized(raw map[string]any, field string) string {
	for _, lang := range langFallbacks {
		if s, ok := raw[field+"_"+lang].(string); ok && s != "" {
			return s
		}
	}
	if s, ok := raw[field].(string); ok {
		return s
	}
	return ""
}

func pickExp(raw map[string]any) string {
	for _, k := range []string{"exp", "expiry"} {
		if s, ok := raw[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// safeFloat reads prices that may be numbers or formatted strings such as "1,200,000".
func safeFloat(v any) float64 {
	switch v := v.(type) {
	case float64:
		return v
	case string:
		var b strings.Builder
		for _, r := range v {
			if (r >= '0' && r <= '9') || r == '.' {
				b.WriteRune(r)
			}
		}
		f, err := strconv.ParseFloat(b.String(), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// normalizeImage turns a stored image reference into a static path under images/.
// Absolute URLs are dropped.
func normalizeImage(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return ""
	}
	s = strings.TrimLeft(s, "/")
	s = strings.TrimPrefix(s, "static/")
	if !strings.HasPrefix(s, "images/") {
		s = "images/" + s
	}
	return s
}
