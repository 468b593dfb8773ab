package watch

import (
	"context"
	"time"
)

// Browser acquires rendering sessions from a browser engine.
type Browser interface {
	// NewSession acquires a fresh tab/context. The session must be
	// closed on every exit path.
	NewSession(ctx context.Context) (BrowserSession, error)
}

// BrowserSession is one acquired tab. All calls refer to the page the
// session last navigated to.
type BrowserSession interface {
	// Navigate loads the URL and returns the resolved HTTP status of the
	// document response. A missing response is reported as status 0.
	Navigate(ctx context.Context, url string, timeout time.Duration) (int, error)
	// DOM returns the rendered document serialized as markup.
	DOM(ctx context.Context) (string, error)
	// Archive returns a single-file full-page archive (MHTML).
	Archive(ctx context.Context) ([]byte, error)
	// Screenshot returns a full-page PNG screenshot.
	Screenshot(ctx context.Context) ([]byte, error)
	// Close releases the tab. Safe to call more than once.
	Close()
}

// BlobStore writes capture artifacts and returns a URI.
type BlobStore interface {
	Save(ctx context.Context, path string, data []byte) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
	Read(ctx context.Context, path string) ([]byte, error)
}

// PageStore persists pages, snapshots, and monitor rows.
type PageStore interface {
	UpsertPage(ctx context.Context, url string, interval time.Duration) (Page, error)
	GetPage(ctx context.Context, id int64) (Page, error)
	ListPages(ctx context.Context, limit int) ([]Page, error)
	DeletePage(ctx context.Context, id int64) error

	// ClaimDue atomically moves up to limit eligible PENDING pages to
	// PROCESSING and sets their heartbeat. Concurrent callers never
	// receive the same page.
	ClaimDue(ctx context.Context, limit int) ([]Page, error)
	// Claim attempts an exclusive claim of a single page. Returns
	// ErrClaimConflict when the page is not currently claimable.
	Claim(ctx context.Context, id int64) (Page, error)
	// Heartbeat refreshes the claim of a PROCESSING page.
	Heartbeat(ctx context.Context, id int64) error
	// ReclaimZombies returns stale PROCESSING pages to PENDING and
	// reports the IDs it touched.
	ReclaimZombies(ctx context.Context, timeout time.Duration) ([]int64, error)
	// CompleteCheck writes the audit row, conditionally the snapshot
	// row, and returns the page to PENDING in one transaction.
	CompleteCheck(ctx context.Context, pageID int64, res CaptureResult) error

	Pause(ctx context.Context, id int64) error
	Resume(ctx context.Context, id int64) error
}

// Publisher pushes change events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, event ChangeEvent) error
}

// Normalizer reduces raw markup to canonical content features.
type Normalizer interface {
	// Canonicalize returns the sorted feature lines used for the clean
	// digest. A parse failure is reported as an error; callers fall
	// back to the raw digest.
	Canonicalize(raw string) (string, error)
	// CleanedMarkup returns the de-noised tree serialized as markup,
	// or the input unchanged if it cannot be parsed.
	CleanedMarkup(raw string) string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
