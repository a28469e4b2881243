package server

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/jrsteele09/go-image-resizer/backend"
	apperrors "github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/jrsteele09/go-image-resizer/resizing"
	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
)

// ResizeHandler fetches imageUrl, fits it into width x height on a transparent canvas
// and stores the result as JPEG
func (s *Server) ResizeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req backend.ResizeRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSONError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		source, err := url.Parse(req.ImageURL)
		if err != nil || (source.Scheme != "http" && source.Scheme != "https") || source.Host == "" {
			writeJSONError(w, "imageUrl must be an absolute http(s) URL", http.StatusBadRequest)
			return
		}
		target := resizing.Dimensions{Width: req.Width, Height: req.Height}
		if err := s.limits.Validate(target); err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}

		img, err := s.fetchImage(r.Context(), source.String())
		if errors.Is(err, apperrors.ErrInvalidRequest) {
			writeJSONError(w, fmt.Sprintf("Image exceeds %d pixels", s.config.GetMaxImagePixels()), http.StatusRequestEntityTooLarge)
			return
		}
		if err != nil {
			s.logError(r.Method, r.URL.Path, err)
			writeJSONError(w, "Failed to resize image", http.StatusInternalServerError)
			return
		}

		name, err := s.saveJPEG("resized", resizing.Contain(img, target.Width, target.Height))
		if err != nil {
			s.logError(r.Method, r.URL.Path, err)
			writeJSONError(w, "Failed to resize image", http.StatusInternalServerError)
			return
		}

		s.logger.Debug().Str("source", source.Host).Stringer("size", target).Str("file", name).Msg("image resized")
		writeJSON(w, http.StatusOK, backend.ResizeResponse{
			Success:    true,
			ResizedURL: s.publicURL(backend.ResizedPrefix + name),
		})
	}
}

// UploadHandler stores a multipart "image" file and returns where it is served from
func (s *Server) UploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxBytes := s.config.GetMaxUploadBytes()
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSONError(w, fmt.Sprintf("Image exceeds %d bytes", maxBytes), http.StatusRequestEntityTooLarge)
				return
			}
			writeJSONError(w, "No image file provided", http.StatusBadRequest)
			return
		}

		file, _, err := r.FormFile("image")
		if err != nil {
			writeJSONError(w, "No image file provided", http.StatusBadRequest)
			return
		}
		defer file.Close()

		img, err := resizing.Decode(file, s.config.GetMaxImagePixels())
		if err != nil {
			if errors.Is(err, apperrors.ErrInvalidRequest) {
				writeJSONError(w, fmt.Sprintf("Image exceeds %d pixels", s.config.GetMaxImagePixels()), http.StatusRequestEntityTooLarge)
				return
			}
			writeJSONError(w, "Unsupported image format", http.StatusBadRequest)
			return
		}

		name, err := s.saveJPEG("upload", img)
		if err != nil {
			s.logError(r.Method, r.URL.Path, err)
			writeJSONError(w, "Failed to store image", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, backend.UploadResponse{
			Success: true,
			URL:     s.publicURL(backend.ResizedPrefix + name),
		})
	}
}

// ResizedFileHandler serves files written by the resize and upload handlers
func (s *Server) ResizedFileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("file")
		if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
			http.Error(w, "404 - Not Found", http.StatusNotFound)
			return
		}
		path := filepath.Join(s.resizedDir, name)
		if _, err := os.Stat(path); err != nil {
			http.Error(w, "404 - Not Found", http.StatusNotFound)
			return
		}
		http.ServeFile(w, r, path)
	}
}

func (s *Server) fetchImage(ctx context.Context, imageURL string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Server.fetchImage] building request")
	}
	resp, err := s.fetcher.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "[Server.fetchImage] fetching image")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("[Server.fetchImage] source returned %d", resp.StatusCode)
	}

	img, err := resizing.Decode(io.LimitReader(resp.Body, s.config.GetMaxUploadBytes()), s.config.GetMaxImagePixels())
	if err != nil {
		return nil, errors.Wrap(err, "[Server.fetchImage]")
	}
	return img, nil
}

// saveJPEG writes img under a fresh name in the resized folder. The file appears
// atomically so a concurrent GET never serves half an image.
func (s *Server) saveJPEG(prefix string, img image.Image) (string, error) {
	id, err := nanoid.New()
	if err != nil {
		return "", errors.Wrap(err, "[Server.saveJPEG] generating name")
	}
	name := prefix + "_" + id + ".jpg"

	tmp, err := os.CreateTemp(s.resizedDir, ".tmp-*")
	if err != nil {
		return "", errors.Wrap(err, "[Server.saveJPEG] creating temp file")
	}
	defer os.Remove(tmp.Name())

	if err := resizing.EncodeJPEG(tmp, img, resizing.DefaultJPEGQuality); err != nil {
		tmp.Close()
		return "", errors.Wrap(err, "[Server.saveJPEG]")
	}
	if err := tmp.Close(); err != nil {
		return "", errors.Wrap(err, "[Server.saveJPEG] closing temp file")
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.resizedDir, name)); err != nil {
		return "", errors.Wrap(err, "[Server.saveJPEG] renaming")
	}
	return name, nil
}
