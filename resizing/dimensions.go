// Package resizing holds the resize command grammar, size estimation and the image codec
// shared by the client and the backend.
package resizing

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/jrsteele09/go-image-resizer/internal/config"
	"github.com/jrsteele09/go-image-resizer/internal/errors"
)

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

var commandPattern = regexp.MustCompile(`(?i)(?:resize\s+to\s+)?(\d+)\s*x\s*(\d+)`)

// ParseCommand accepts "800x600", "800 X 600" or "resize to 800x600".
func ParseCommand(command string) (Dimensions, bool) {
	m := commandPattern.FindStringSubmatch(command)
	if m == nil {
		return Dimensions{}, false
	}
	w, errW := strconv.Atoi(m[1])
	h, errH := strconv.Atoi(m[2])
	if errW != nil || errH != nil {
		return Dimensions{}, false
	}
	return Dimensions{Width: w, Height: h}, true
}

type Limits struct {
	MinWidth  int
	MaxWidth  int
	MinHeight int
	MaxHeight int
}

func LimitsFrom(cfg config.ResizeConfig) Limits {
	return Limits{
		MinWidth:  cfg.GetMinImageWidth(),
		MaxWidth:  cfg.GetMaxImageWidth(),
		MinHeight: cfg.GetMinImageHeight(),
		MaxHeight: cfg.GetMaxImageHeight(),
	}
}

// Validate reports the first dimension outside the limits as ErrInvalidRequest.
func (l Limits) Validate(d Dimensions) error {
	if d.Width < l.MinWidth || d.Width > l.MaxWidth {
		return errors.Wrapf(errors.ErrInvalidRequest, "width must be between %d and %d pixels", l.MinWidth, l.MaxWidth)
	}
	if d.Height < l.MinHeight || d.Height > l.MaxHeight {
		return errors.Wrapf(errors.ErrInvalidRequest, "height must be between %d and %d pixels", l.MinHeight, l.MaxHeight)
	}
	return nil
}
