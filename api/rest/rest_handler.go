package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/zlnvch/pageboard/models"
	"github.com/zlnvch/pageboard/render"
	"github.com/zlnvch/pageboard/render/pdf"
	"github.com/zlnvch/pageboard/render/raster"
	"github.com/zlnvch/pageboard/service"
)

const (
	defaultSnapshotWidth  = 1280
	defaultSnapshotHeight = 720
	maxSnapshotSide       = 4096
)

type Handler struct {
	Service *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{Service: svc}
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type historyResponse struct {
	Page    int             `json:"page"`
	Cursor  string          `json:"cursor"`
	Actions []models.Action `json:"actions"`
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	page, actions, cursor, ok := h.loadPage(w, r)
	if !ok {
		return
	}
	if actions == nil {
		actions = []models.Action{}
	}
	h.sendResponse(w, historyResponse{Page: page, Cursor: cursor, Actions: actions})
}

// HandleSnapshot renders the page to a PNG of the requested size.
func (h *Handler) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	width, err := sizeParam(r, "width", defaultSnapshotWidth)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	height, err := sizeParam(r, "height", defaultSnapshotHeight)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	_, actions, _, ok := h.loadPage(w, r)
	if !ok {
		return
	}

	canvas := raster.New(width, height)
	render.Replay(canvas, actions)

	w.Header().Set("Content-Type", "image/png")
	if err := canvas.EncodePNG(w); err != nil {
		log.Error("Failed to encode snapshot", "err", err)
	}
}

func (h *Handler) HandleExportPDF(w http.ResponseWriter, r *http.Request) {
	width, err := sizeParam(r, "width", defaultSnapshotWidth)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	height, err := sizeParam(r, "height", defaultSnapshotHeight)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	page, actions, _, ok := h.loadPage(w, r)
	if !ok {
		return
	}

	doc := pdf.New(float64(width), float64(height))
	render.Replay(doc, actions)

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=\"page-"+strconv.Itoa(page)+".pdf\"")
	if err := doc.Write(w); err != nil {
		log.Error("Failed to write pdf export", "page", page, "err", err)
	}
}

func (h *Handler) loadPage(w http.ResponseWriter, r *http.Request) (int, []models.Action, string, bool) {
	page, err := strconv.Atoi(mux.Vars(r)["page"])
	if err != nil || !models.ValidPage(page) {
		http.Error(w, "invalid page", http.StatusBadRequest)
		return 0, nil, "", false
	}

	actions, cursor, err := h.Service.LoadHistory(r.Context(), page)
	if err != nil {
		if errors.Is(err, models.ErrInvalidPage) {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return 0, nil, "", false
		}
		log.Error("LoadHistory failed", "page", page, "err", err)
		http.Error(w, "failed to load page", http.StatusInternalServerError)
		return 0, nil, "", false
	}
	return page, actions, cursor, true
}

func sizeParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxSnapshotSide {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func (h *Handler) sendResponse(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
