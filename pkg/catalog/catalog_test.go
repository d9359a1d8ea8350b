package catalog

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T) *Snapshot {
	data, err := os.ReadFile("testdata/medicines.json")
	require.Nil(t, err)
	s, err := Parse(data)
	require.Nil(t, err)
	return s
}

func TestParse(t *testing.T) {
	s := loadFixture(t)

	assert.Equal(t, 5, s.Len())
	assert.Equal(t, []string{"faroxy_groups", "medicine_groups"}, s.Categories())

	t.Run("dict variants", func(t *testing.T) {
		v, err := s.Variant("amox_250")
		require.Nil(t, err)
		assert.Equal(t, "amoxicillin", v.GroupKey)
		assert.Equal(t, "medicine_groups", v.Category)
		assert.Equal(t, "Amoxicillin 250mg", v.Name)
		assert.Equal(t, 120000.0, v.Price)
		assert.Equal(t, "2026-01", v.Exp)
		assert.Equal(t, "images/amox250.png", v.Image)
	})

	t.Run("formatted price and own expiry", func(t *testing.T) {
		v, err := s.Variant("amox_500")
		require.Nil(t, err)
		assert.Equal(t, 1250000.0, v.Price)
		assert.Equal(t, "2027-05", v.Exp)
		// falls back to the group image
		assert.Equal(t, "images/amox.png", v.Image)
	})

	t.Run("sibling dict is a variant", func(t *testing.T) {
		v, err := s.Variant("amox_syrup")
		require.Nil(t, err)
		assert.Equal(t, 90000.0, v.Price)
		assert.Equal(t, "amoxicillin", v.GroupKey)
	})

	t.Run("list variants", func(t *testing.T) {
		v, err := s.Variant("faroxy_0")
		require.Nil(t, err)
		assert.Equal(t, "Faroxy 10", v.Name)
		assert.Equal(t, "", v.Image)

		custom, err := s.Variant("faroxy_custom")
		require.Nil(t, err)
		assert.Equal(t, 0.0, custom.Price)
		assert.Equal(t, "faroxy_custom", custom.Name)
		assert.Equal(t, "images/custom.jpg", custom.Image)
	})

	t.Run("group", func(t *testing.T) {
		g, err := s.Group("amoxicillin")
		require.Nil(t, err)
		assert.Equal(t, "آموکسی سیلین", g.Name)
		assert.ElementsMatch(t, []string{"amox_250", "amox_500", "amox_syrup"}, g.Variants)

		_, err = s.Group("missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("category and search", func(t *testing.T) {
		assert.Len(t, s.Category("faroxy_groups"), 2)
		assert.Empty(t, s.Category("unknown"))

		found := s.Search("AMOXICILLIN 5")
		require.Len(t, found, 1)
		assert.Equal(t, "amox_500", found[0].ID)
		assert.Len(t, s.Search(""), 5)
		assert.Empty(t, s.Search("aspirin"))
	})

	_, err := s.Variant("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, s.Translations, "fa")
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse([]byte(`[1, 2]`))
	assert.NotNil(t, err)
}

func TestNormalizeImage(t *testing.T) {
	cases := map[string]string{
		"":                     "",
		"http://x/y.png":       "",
		"https://x/y.png":      "",
		"/static/images/a.png": "images/a.png",
		"images/b.png":         "images/b.png",
		"c.png":                "images/c.png",
		"//static/d/e.png":     "images/d/e.png",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeImage(in), in)
	}
}

func TestServiceReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "medicines.json")
	svc := New(path, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	ctx := context.Background()

	_, err := svc.Snapshot()
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.NotNil(t, svc.Load(ctx))

	require.Nil(t, os.WriteFile(path, []byte(`{"a_groups": {"g": {"variants": {"v1": {"price": 1}}}}}`), 0o644))
	require.Nil(t, svc.Load(ctx))
	first, err := svc.Snapshot()
	require.Nil(t, err)
	assert.Equal(t, 1, first.Len())

	// a broken file keeps the last good snapshot
	require.Nil(t, os.WriteFile(path, []byte(`{`), 0o644))
	_, err = svc.Reload(ctx)
	assert.NotNil(t, err)
	current, err := svc.Snapshot()
	require.Nil(t, err)
	assert.Same(t, first, current)

	require.Nil(t, os.WriteFile(path, []byte(`{"a_groups": {"g": {"variants": {"v1": {}, "v2": {}}}}}`), 0o644))
	next, err := svc.Reload(ctx)
	require.Nil(t, err)
	assert.Equal(t, 2, next.Len())
	assert.Equal(t, 1, first.Len())
}
