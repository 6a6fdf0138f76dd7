// Package asset stores the bitmaps that image elements reference through
// data.assetId.
package asset

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/inamate/planboard/internal/auth"
	"github.com/inamate/planboard/internal/typeid"
)

const maxUploadSize = 10 << 20 // 10MB

// ErrNotFound is returned for an unknown or malformed asset ID.
var ErrNotFound = errors.New("asset not found")

// UploadResponse is what the client stores on the image element: ID goes
// into data.assetId and Width/Height seed the element size.
type UploadResponse struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Name   string `json:"name"`
}

// Handler serves asset upload and retrieval endpoints. Every upload is
// re-encoded as PNG.
type Handler struct {
	dir    string
	logger *slog.Logger
}

// NewHandler creates an asset handler that stores files in dir.
func NewHandler(dir string, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}
	return &Handler{dir: dir, logger: logger}, nil
}

// Upload handles POST /assets (multipart form with a "file" field).
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		auth.WriteError(w, http.StatusBadRequest, "file too large (max 10MB)")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		auth.WriteError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		auth.WriteError(w, http.StatusBadRequest, "unsupported image (png, jpeg, gif or webp)")
		return
	}

	assetID := typeid.NewAssetID()
	if err := h.save(assetID, img); err != nil {
		h.logger.Error("save asset", "error", err, "asset", assetID)
		auth.WriteError(w, http.StatusInternalServerError, "failed to save file")
		return
	}
	h.logger.Info("asset uploaded",
		"asset", assetID,
		"format", format,
		"user", auth.UserIDFromContext(r.Context()),
	)

	bounds := img.Bounds()
	auth.WriteJSON(w, http.StatusCreated, UploadResponse{
		ID:     assetID,
		URL:    "/assets/" + assetID,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Name:   header.Filename,
	})
}

func (h *Handler) save(assetID string, img image.Image) error {
	// Write to a temp file first so a reader never sees a partial PNG.
	tmp, err := os.CreateTemp(h.dir, assetID+"-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(h.dir, assetID+".png"))
}

// Serve handles GET /assets/{assetId}. Asset IDs are never reused, so the
// response is cached forever.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	path, err := h.path(strings.TrimPrefix(r.URL.Path, "/assets/"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}

// Delete removes an asset file.
func (h *Handler) Delete(assetID string) error {
	path, err := h.path(assetID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// path resolves an asset ID to its file. Only well-formed asset typeids
// are accepted, which also rules out path traversal.
func (h *Handler) path(assetID string) (string, error) {
	if err := typeid.Validate(assetID, typeid.PrefixAsset); err != nil {
		return "", ErrNotFound
	}
	path := filepath.Join(h.dir, assetID+".png")
	if _, err := os.Stat(path); err != nil {
		return "", ErrNotFound
	}
	return path, nil
}
