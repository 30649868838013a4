package config

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	converterOnce   sync.Once
	converterConfig *ConverterConfig
)

const (
	BackendMarker = "marker"
	BackendNative = "native"
)

type ConverterConfig struct {
	Profile        string
	MaxUploadSize  int64
	WarnPercent    float64
	AbortPercent   float64
	ConvertTimeout time.Duration

	// TempDir receives staged uploads.
	TempDir string
	// AssetRoot is the writable directory handed to the converter for its
	// static assets; FallbackAssetRoot is used for the single permission retry.
	AssetRoot         string
	FallbackAssetRoot string
	CacheDir          string

	Backend      string
	MarkerBinary string
	ModelHostURL string
	ModelToken   string

	OCREngine      string
	OCRLanguages   []string
	OllamaEndpoint string
	OllamaModel    string

	// SupportContact is quoted in access-denied hints.
	SupportContact string
}

func GetConverterConfig() *ConverterConfig {
	converterOnce.Do(func() {
		loadEnv()

		profiles, err := LoadProfiles(os.Getenv("CONVERTER_PROFILES_FILE"))
		if err != nil {
			log.Printf("Warning: %v, using built-in profiles", err)
			profiles = DefaultProfiles()
		}
		name := getEnv("CONVERTER_PROFILE", ProfileLocal)
		profile, err := ResolveProfile(profiles, name)
		if err != nil {
			log.Printf("Warning: %v, using %s", err, ProfileLocal)
			name = ProfileLocal
			profile = profiles[ProfileLocal]
		}

		tmp := getEnv("CONVERTER_TEMP_DIR", os.TempDir())

		converterConfig = &ConverterConfig{
			Profile:        name,
			MaxUploadSize:  getEnvInt64("MAX_UPLOAD_MB", profile.MaxUploadMB) * 1024 * 1024,
			WarnPercent:    getEnvFloat("MEMORY_WARN_PERCENT", profile.WarnPercent),
			AbortPercent:   getEnvFloat("MEMORY_ABORT_PERCENT", profile.AbortPercent),
			ConvertTimeout: getEnvDuration("CONVERT_TIMEOUT", profile.ConvertTimeout),

			TempDir:           tmp,
			AssetRoot:         getEnv("CONVERTER_ASSET_ROOT", filepath.Join(tmp, "converter-assets")),
			FallbackAssetRoot: getEnv("CONVERTER_FALLBACK_ASSET_ROOT", filepath.Join(tmp, "assets-fallback")),
			CacheDir:          getEnv("CONVERTER_CACHE_DIR", filepath.Join(tmp, "converter-cache")),

			Backend:      getEnv("CONVERTER_BACKEND", BackendMarker),
			MarkerBinary: getEnv("MARKER_BINARY", "marker_single"),
			ModelHostURL: getEnv("MODEL_HOST_URL", "https://huggingface.co/api/models/datalab-to/surya_layout"),
			ModelToken:   os.Getenv("HF_TOKEN"),

			OCREngine:      getEnv("OCR_ENGINE", "tesseract"),
			OCRLanguages:   []string{getEnv("OCR_LANGUAGE", "eng")},
			OllamaEndpoint: getEnv("OLLAMA_ENDPOINT", "http://localhost:11434"),
			OllamaModel:    getEnv("OLLAMA_MODEL", "llama3.2-vision"),

			SupportContact: getEnv("SUPPORT_CONTACT", "your administrator"),
		}
	})
	return converterConfig
}
