package surface

import (
	"context"
	"strings"

	"github.com/jrsteele09/go-image-resizer/backend"
	"github.com/jrsteele09/go-image-resizer/credentials"
	"github.com/jrsteele09/go-image-resizer/history"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
	"github.com/jrsteele09/go-image-resizer/resizing"
	"github.com/jrsteele09/go-image-resizer/session"
)

// ResizeAPI is the backend call behind a resize.
type ResizeAPI interface {
	Resize(ctx context.Context, token credentials.Secret, req backend.ResizeRequest) (*backend.ResizeResponse, error)
}

var _ ResizeAPI = (*backend.Client)(nil)

// ResizeRequest describes the image being resized and the user's command, e.g.
// "800x600" or "resize to 800x600".
type ResizeRequest struct {
	ImageURL       string
	OriginalWidth  int
	OriginalHeight int
	// OriginalBytes is the source size if known. Blob sources have none and are
	// estimated at four bytes per pixel.
	OriginalBytes int64
	Command       string
}

type Estimate struct {
	Target         resizing.Dimensions
	Ratio          float64
	OriginalBytes  int64
	EstimatedBytes int64
	Reduction      string
}

// Resizer runs resize commands for the signed-in user and records them in history.
type Resizer struct {
	sessions SessionController
	store    credentials.Store
	api      ResizeAPI
	history  history.Store
	limits   resizing.Limits
	baseURL  string
	opts     options
}

func NewResizer(sessions SessionController, store credentials.Store, api ResizeAPI, hist history.Store, limits resizing.Limits, baseURL string, opts ...Option) *Resizer {
	return &Resizer{
		sessions: sessions,
		store:    store,
		api:      api,
		history:  hist,
		limits:   limits,
		baseURL:  strings.TrimRight(baseURL, "/"),
		opts:     buildOptions(opts),
	}
}

// Target parses and validates a resize command.
func (r *Resizer) Target(command string) (resizing.Dimensions, error) {
	dims, ok := resizing.ParseCommand(command)
	if !ok {
		return resizing.Dimensions{}, errors.Wrapf(errors.ErrInvalidRequest, "please enter valid dimensions")
	}
	if err := r.limits.Validate(dims); err != nil {
		return resizing.Dimensions{}, err
	}
	return dims, nil
}

// Estimate predicts the result size from the pixel ratio. Sizes stay zero when the
// original byte size is unknown.
func (r *Resizer) Estimate(req ResizeRequest) (Estimate, error) {
	target, err := r.Target(req.Command)
	if err != nil {
		return Estimate{}, err
	}
	original := resizing.Dimensions{Width: req.OriginalWidth, Height: req.OriginalHeight}
	est := Estimate{
		Target:        target,
		Ratio:         resizing.Ratio(original, target),
		OriginalBytes: req.OriginalBytes,
	}
	if strings.HasPrefix(req.ImageURL, "blob:") && est.OriginalBytes == 0 {
		est.OriginalBytes = int64(req.OriginalWidth) * int64(req.OriginalHeight) * 4
	}
	if est.OriginalBytes > 0 && est.Ratio > 0 {
		est.EstimatedBytes = resizing.EstimatedBytes(est.OriginalBytes, est.Ratio)
		est.Reduction = resizing.FormatReduction(resizing.ReductionPercent(est.Ratio))
	}
	return est, nil
}

// Resize sends the command to the backend and prepends the result to the user's history.
func (r *Resizer) Resize(ctx context.Context, req ResizeRequest) (history.Item, error) {
	target, err := r.Target(req.Command)
	if err != nil {
		return history.Item{}, err
	}

	// Validate refreshes a session that is expired or close to it before its token is used.
	if r.sessions.Validate(ctx) != session.Active {
		return history.Item{}, errors.ErrNotSignedIn
	}
	rec, err := r.store.Get(ctx)
	if err != nil || rec == nil || rec.IsExpired(r.opts.now()) {
		return history.Item{}, errors.ErrNotSignedIn
	}

	resp, err := r.api.Resize(ctx, rec.SessionToken, backend.ResizeRequest{
		ImageURL: req.ImageURL,
		Width:    target.Width,
		Height:   target.Height,
	})
	if err != nil {
		if errors.Is(err, errors.ErrSessionExpired) {
			r.sessions.Validate(ctx)
		}
		return history.Item{}, err
	}

	item, err := r.history.Add(ctx, rec.UserID, history.Item{
		OriginalURL:    req.ImageURL,
		ResizedURL:     r.absolute(resp.ResizedURL),
		OriginalWidth:  req.OriginalWidth,
		OriginalHeight: req.OriginalHeight,
		Width:          target.Width,
		Height:         target.Height,
	})
	if err != nil {
		return history.Item{}, errors.Wrapf(err, "recording history")
	}
	r.opts.logger.Info().Str("user_id", rec.UserID).Stringer("size", target).Msg("image resized")
	return item, nil
}

func (r *Resizer) absolute(url string) string {
	if strings.HasPrefix(url, "/") {
		return r.baseURL + url
	}
	return url
}
