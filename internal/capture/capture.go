// Package capture orchestrates one snapshot attempt end-to-end:
// navigate, fingerprint, decide, and conditionally persist artifacts.
package capture

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/talemon/pagewatch/internal/hash/sha1"
	"github.com/talemon/pagewatch/internal/storage"
	"github.com/talemon/pagewatch/internal/watch"
)

// Config controls per-capture behavior.
type Config struct {
	// NavigationTimeout bounds the browser navigation step.
	NavigationTimeout time.Duration
	// PathLayout is the strftime-style timestamp pattern used in
	// storage path prefixes.
	PathLayout string
}

// Service runs capture attempts. All expected failures (network, bad
// status, storage errors) are reported on the CaptureResult, never as
// Go errors.
type Service struct {
	browser    watch.Browser
	blobs      watch.BlobStore
	normalizer watch.Normalizer
	hasher     *sha1.Hasher
	clock      watch.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs a capture Service.
func New(
	browser watch.Browser,
	blobs watch.BlobStore,
	normalizer watch.Normalizer,
	hasher *sha1.Hasher,
	clock watch.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 60 * time.Second
	}
	if cfg.PathLayout == "" {
		cfg.PathLayout = storage.DefaultTimestampLayout
	}
	return &Service{
		browser:    browser,
		blobs:      blobs,
		normalizer: normalizer,
		hasher:     hasher,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Capture fetches url, fingerprints the rendered content, compares it
// to previousCleanHash, and persists the four artifacts when a change
// is detected. The acquired browser session is released on every exit
// path.
func (s *Service) Capture(ctx context.Context, url string, previousCleanHash string) watch.CaptureResult {
	result := watch.CaptureResult{
		URL:       url,
		Timestamp: s.clock.Now(),
	}
	if strings.TrimSpace(url) == "" {
		result.ErrorMessage = "url is required"
		return result
	}

	session, err := s.browser.NewSession(ctx)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("acquire browser session: %v", err)
		return result
	}
	defer session.Close()

	status, err := session.Navigate(ctx, url, s.cfg.NavigationTimeout)
	result.HTTPStatus = status
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("navigate: %v", err)
		return result
	}
	// Status 0 means no document response arrived; nothing to trust.
	if status == 0 || status >= 400 {
		result.ErrorMessage = fmt.Sprintf("http status %d", status)
		return result
	}

	dom, err := session.DOM(ctx)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("read rendered dom: %v", err)
		return result
	}

	result.ContentHash = s.hasher.RawDigest([]byte(dom))
	canonical, err := s.normalizer.Canonicalize(dom)
	if err != nil {
		// Degraded but deterministic: fingerprint the raw bytes.
		s.logger.Warn("content normalization failed, falling back to raw digest",
			zap.String("url", url), zap.Error(err))
		result.CleanHash = result.ContentHash
	} else {
		result.CleanHash = s.hasher.CleanDigest(canonical)
	}

	result.ChangeDetected = watch.Changed(result.CleanHash, previousCleanHash)
	if !result.ChangeDetected {
		s.logger.Debug("no change detected", zap.String("url", url))
		return result
	}

	prefix := storage.PathPrefix(url, result.Timestamp, s.cfg.PathLayout)
	if err := s.persistArtifacts(ctx, session, prefix, dom); err != nil {
		// Best effort, no rollback: artifacts written before the
		// failure stay under the prefix, but the result reports
		// failure and the prefix is not recorded.
		result.ChangeDetected = false
		result.ErrorMessage = err.Error()
		return result
	}
	result.StoragePath = prefix

	s.logger.Info("snapshot captured",
		zap.String("url", url),
		zap.String("path", prefix),
		zap.String("clean_hash", result.CleanHash))
	return result
}

// persistArtifacts writes the four artifacts sequentially beneath
// prefix. Writes are sequential so a failure leaves no in-flight
// partial object.
func (s *Service) persistArtifacts(ctx context.Context, session watch.BrowserSession, prefix, dom string) error {
	cleaned := s.normalizer.CleanedMarkup(dom)

	archive, err := session.Archive(ctx)
	if err != nil {
		return fmt.Errorf("capture archive: %w", err)
	}
	screenshot, err := session.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}

	artifacts := []struct {
		name string
		data []byte
	}{
		{watch.ArtifactDOM, []byte(cleaned)},
		{watch.ArtifactSource, []byte(dom)},
		{watch.ArtifactArchive, archive},
		{watch.ArtifactScreenshot, screenshot},
	}
	for _, artifact := range artifacts {
		if _, err := s.blobs.Save(ctx, prefix+artifact.name, artifact.data); err != nil {
			return fmt.Errorf("save %s: %w", artifact.name, err)
		}
	}
	return nil
}
