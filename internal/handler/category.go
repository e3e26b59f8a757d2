package handler

import (
	"net/http"

	"github.com/ajisai/yotei/internal/category"
)

type CategoryHandler struct {
	catalog category.Catalog
}

func NewCategoryHandler(catalog category.Catalog) *CategoryHandler {
	return &CategoryHandler{catalog: catalog}
}

// List handles GET /api/categories.
func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog)
}
