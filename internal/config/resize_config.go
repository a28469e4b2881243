package config

import "path/filepath"

type ResizeConfig interface {
	GetMinImageWidth() int
	GetMaxImageWidth() int
	GetMinImageHeight() int
	GetMaxImageHeight() int
	GetHistoryLimit() int
	GetResizedDir() string
	GetMaxUploadBytes() int64
	GetMaxImagePixels() int64
}

type Resize struct{}

var _ ResizeConfig = Resize{}

func (Resize) GetMinImageWidth() int  { return GetEnvInt("MIN_IMAGE_WIDTH", 16) }
func (Resize) GetMaxImageWidth() int  { return GetEnvInt("MAX_IMAGE_WIDTH", 4096) }
func (Resize) GetMinImageHeight() int { return GetEnvInt("MIN_IMAGE_HEIGHT", 16) }
func (Resize) GetMaxImageHeight() int { return GetEnvInt("MAX_IMAGE_HEIGHT", 4096) }

// GetHistoryLimit caps the per-user history list.
func (Resize) GetHistoryLimit() int {
	return GetEnvInt("HISTORY_LIMIT", 50)
}

func (Resize) GetResizedDir() string {
	return GetEnv("RESIZED_DIR", filepath.Join(EnvVars{}.GetDataFolder(), "resized_images"))
}

func (Resize) GetMaxUploadBytes() int64 {
	return int64(GetEnvInt("MAX_UPLOAD_BYTES", 10<<20))
}

// GetMaxImagePixels caps the width x height of an image the server will decode.
func (Resize) GetMaxImagePixels() int64 {
	return int64(GetEnvInt("MAX_IMAGE_PIXELS", 40_000_000))
}
