package classifier

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/drawee/drawee-go/internal/conf"
	"github.com/drawee/drawee-go/internal/httpclient"
	"github.com/drawee/drawee-go/internal/observability/metrics"
)

// NewLoader returns the runtime loader selected by classifier.backend.
func NewLoader(settings *conf.ClassifierSettings) (Loader, error) {
	switch settings.Backend {
	case conf.BackendTFLite, "":
		return NewTFLiteLoader(TFLiteOptions{Threads: settings.Threads, UseXNNPACK: settings.UseXNNPACK}), nil
	case conf.BackendONNX:
		return NewONNXLoader(ONNXOptions{LibraryPath: settings.ONNXLibrary, Threads: settings.Threads}), nil
	default:
		return nil, fmt.Errorf("unknown classifier backend %q", settings.Backend)
	}
}

// NewWeightSource returns the configured weight source, or nil for "none".
func NewWeightSource(ctx context.Context, settings *conf.WeightSourceSettings) (WeightSource, error) {
	switch settings.Type {
	case conf.WeightSourceNone, "":
		return nil, nil
	case conf.WeightSourceDrive:
		return NewDriveSource(ctx, settings.APIKey, settings.CredentialsFile)
	case conf.WeightSourceHTTP:
		client := httpclient.New(&httpclient.Config{DefaultTimeout: settings.Timeout})
		return NewHTTPSource(client, settings.URLTemplate)
	default:
		return nil, fmt.Errorf("unknown weight source %q", settings.Type)
	}
}

// NewModels builds modelA and modelB from settings. Nothing is loaded
// until the first prediction or an explicit Warm.
func NewModels(ctx context.Context, settings *conf.Settings, m *metrics.ClassifierMetrics) (a, b *Model, err error) {
	loader, err := NewLoader(&settings.Classifier)
	if err != nil {
		return nil, nil, err
	}
	source, err := NewWeightSource(ctx, &settings.WeightSource)
	if err != nil {
		return nil, nil, err
	}
	resolver := NewWeightResolver(source, m)

	a = NewModel(modelConfig(settings.Classifier.ModelA, settings.Classifier.CacheDir), loader, resolver, m)
	b = NewModel(modelConfig(settings.Classifier.ModelB, settings.Classifier.CacheDir), loader, resolver, m)
	return a, b, nil
}

// modelConfig resolves a relative weights path under cacheDir
func modelConfig(s conf.ModelSettings, cacheDir string) ModelConfig {
	path := s.Path
	if path != "" && cacheDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(cacheDir, path)
	}
	return ModelConfig{Name: s.Name, Path: path, BlobID: s.BlobID}
}

// FetchWeights makes sure the weights of both models exist locally,
// downloading them from the configured source. It returns the local paths.
func FetchWeights(ctx context.Context, settings *conf.Settings, m *metrics.ClassifierMetrics) ([]string, error) {
	source, err := NewWeightSource(ctx, &settings.WeightSource)
	if err != nil {
		return nil, err
	}
	resolver := NewWeightResolver(source, m)

	var paths []string
	for _, ms := range []conf.ModelSettings{settings.Classifier.ModelA, settings.Classifier.ModelB} {
		cfg := modelConfig(ms, settings.Classifier.CacheDir)
		path, err := resolver.Ensure(ctx, cfg.Path, cfg.BlobID)
		if err != nil {
			return paths, fmt.Errorf("model %q: %w", cfg.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
