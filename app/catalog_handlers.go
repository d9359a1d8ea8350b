package pharmadesk

import (
	"net/http"

	"github.com/putto11262002/pharmadesk/pkg/catalog"
	"github.com/putto11262002/pharmadesk/pkg/router"
)

type CatalogHandler struct {
	catalog *catalog.Service
}

func NewCatalogHandler(c *catalog.Service) *CatalogHandler {
	return &CatalogHandler{catalog: c}
}

func (h *CatalogHandler) SearchHandler(w http.ResponseWriter, r *http.Request) error {
	snapshot, err := h.catalog.Snapshot()
	if err != nil {
		return err
	}

	var medicines []*catalog.Variant
	if category := r.URL.Query().Get("category"); category != "" {
		medicines = snapshot.Category(category)
	} else {
		medicines = snapshot.Search(r.URL.Query().Get("q"))
	}
	return router.JSON(w, http.StatusOK, map[string]any{"medicines": medicines, "count": len(medicines)})
}

func (h *CatalogHandler) MedicineHandler(w http.ResponseWriter, r *http.Request) error {
	snapshot, err := h.catalog.Snapshot()
	if err != nil {
		return err
	}
	v, err := snapshot.Variant(r.PathValue("id"))
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, v)
}

func (h *CatalogHandler) GroupHandler(w http.ResponseWriter, r *http.Request) error {
	snapshot, err := h.catalog.Snapshot()
	if err != nil {
		return err
	}
	g, err := snapshot.Group(r.PathValue("key"))
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, g)
}

func (h *CatalogHandler) CategoriesHandler(w http.ResponseWriter, r *http.Request) error {
	snapshot, err := h.catalog.Snapshot()
	if err != nil {
		return err
	}
	return router.JSON(w, http.StatusOK, map[string]any{"categories": snapshot.Categories()})
}

func (h *CatalogHandler) ReloadHandler(w http.ResponseWriter, r *http.Request) error {
	snapshot, err := h.catalog.Reload(r.Context())
	if err != nil {
		return router.NewJsonError(http.StatusUnprocessableEntity, err.Error())
	}
	return router.JSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"medicines": snapshot.Len(),
		"loaded_at": snapshot.LoadedAt,
	})
}
