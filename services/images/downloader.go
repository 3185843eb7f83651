// Package images mirrors listing photos into content-addressed storage.
package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rental-ingest/metrics"
	"rental-ingest/models"
	"rental-ingest/utils"
)

// Repository records stored images.
type Repository interface {
	// FindImage returns the image with checksum stored for the listing, or
	// nil when there is none.
	FindImage(ctx context.Context, listingID, checksum string) (*models.StoredImage, error)
	InsertImage(ctx context.Context, img *models.StoredImage) error
}

// BlobStore persists image bytes and reports where they can be served from.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (storedPath, storedURL string, err error)
}

// Config controls download behaviour.
type Config struct {
	BatchSize int
	// URLOnly records the upstream URL without fetching any bytes.
	URLOnly   bool
	MaxBytes  int64
	UserAgent string
}

// Downloader fetches listing photos and stores each distinct image once per
// listing.
type Downloader struct {
	cfg     Config
	client  *http.Client
	limiter *utils.HostLimiter
	retry   utils.RetryPolicy
	repo    Repository
	blobs   BlobStore
	logger  utils.Logger
}

// NewDownloader wires a Downloader. blobs may be nil in URL-only mode.
func NewDownloader(cfg Config, client *http.Client, limiter *utils.HostLimiter, retry utils.RetryPolicy,
	repo Repository, blobs BlobStore, logger utils.Logger) *Downloader {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Downloader{
		cfg:     cfg,
		client:  client,
		limiter: limiter,
		retry:   retry,
		repo:    repo,
		blobs:   blobs,
		logger:  logger.With(zap.String("component", "images")),
	}
}

// Result summarises one Download call.
type Result struct {
	Downloaded int
	Skipped    int
	Errors     []models.RunError
}

type outcome int

const (
	outcomeStored outcome = iota
	outcomeSkipped
	outcomeFailed
)

// Download mirrors urls for listingID in bounded concurrent batches. A failed
// image is recorded and never stops the others. hints carries sizes known
// from the listing's media references.
func (d *Downloader) Download(ctx context.Context, listingID string, urls []string, hints map[string]models.ImageSize) Result {
	var (
		mu     sync.Mutex
		res    Result
		claims = newChecksumClaims()
	)

	utils.ForEachBatch(len(urls), d.cfg.BatchSize, func(i int) {
		var (
			out outcome
			err error
		)
		if d.cfg.URLOnly {
			out, err = d.recordURL(ctx, listingID, urls[i], i, hints[urls[i]], claims)
		} else {
			out, err = d.fetchAndStore(ctx, listingID, urls[i], i, claims)
		}

		mu.Lock()
		defer mu.Unlock()
		switch out {
		case outcomeStored:
			res.Downloaded++
			metrics.Images.WithLabelValues("downloaded").Inc()
		case outcomeSkipped:
			res.Skipped++
			metrics.Images.WithLabelValues("skipped").Inc()
		case outcomeFailed:
			metrics.Images.WithLabelValues("failed").Inc()
			url, id := urls[i], listingID
			res.Errors = append(res.Errors, models.RunError{
				Message:   fmt.Sprintf("image download: %v", err),
				URL:       &url,
				ListingID: &id,
			})
			d.logger.Warn("image failed", zap.String("url", url), zap.Error(err))
		}
	})

	return res
}

func (d *Downloader) fetchAndStore(ctx context.Context, listingID, url string, sortOrder int, claims *checksumClaims) (outcome, error) {
	data, err := d.fetch(ctx, url)
	if err != nil {
		return outcomeFailed, err
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])
	return claims.run(checksum, func() (outcome, error) {
		return d.store(ctx, listingID, url, sortOrder, checksum, data)
	})
}

func (d *Downloader) store(ctx context.Context, listingID, url string, sortOrder int, checksum string, data []byte) (outcome, error) {
	existing, err := d.repo.FindImage(ctx, listingID, checksum)
	if err != nil {
		return outcomeFailed, fmt.Errorf("lookup checksum: %w", err)
	}
	if existing != nil {
		return outcomeSkipped, nil
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return outcomeFailed, fmt.Errorf("content is %s, not an image", mt.String())
	}

	width, height := SniffDimensions(data)
	key := path.Join(listingID, checksum+mt.Extension())
	storedPath, storedURL, err := d.blobs.Put(ctx, key, data, mt.String())
	if err != nil {
		return outcomeFailed, fmt.Errorf("store blob: %w", err)
	}

	img := &models.StoredImage{
		ID:             uuid.NewString(),
		ListingID:      listingID,
		OriginalURL:    url,
		StoredPath:     storedPath,
		StoredURL:      storedURL,
		Width:          width,
		Height:         height,
		MimeType:       mt.String(),
		ChecksumSHA256: checksum,
		SortOrder:      sortOrder,
		CreatedAt:      time.Now().UTC(),
	}
	if err := d.repo.InsertImage(ctx, img); err != nil {
		return outcomeFailed, fmt.Errorf("record image: %w", err)
	}
	return outcomeStored, nil
}

// recordURL stores a reference to the upstream URL without fetching it. The
// checksum is taken over the URL so re-runs stay idempotent.
func (d *Downloader) recordURL(ctx context.Context, listingID, url string, sortOrder int, hint models.ImageSize, claims *checksumClaims) (outcome, error) {
	sum := sha256.Sum256([]byte(url))
	checksum := hex.EncodeToString(sum[:])
	return claims.run(checksum, func() (outcome, error) {
		return d.reference(ctx, listingID, url, sortOrder, checksum, hint)
	})
}

func (d *Downloader) reference(ctx context.Context, listingID, url string, sortOrder int, checksum string, hint models.ImageSize) (outcome, error) {
	existing, err := d.repo.FindImage(ctx, listingID, checksum)
	if err != nil {
		return outcomeFailed, fmt.Errorf("lookup checksum: %w", err)
	}
	if existing != nil {
		return outcomeSkipped, nil
	}

	img := &models.StoredImage{
		ID:             uuid.NewString(),
		ListingID:      listingID,
		OriginalURL:    url,
		StoredURL:      url,
		Width:          hint.Width,
		Height:         hint.Height,
		MimeType:       mimeFromURL(url),
		ChecksumSHA256: checksum,
		SortOrder:      sortOrder,
		CreatedAt:      time.Now().UTC(),
	}
	if err := d.repo.InsertImage(ctx, img); err != nil {
		return outcomeFailed, fmt.Errorf("record image: %w", err)
	}
	return outcomeStored, nil
}

// checksumClaims serializes work on one checksum within a Download call. A
// checksum counts as handled only once an image for it is stored or already
// recorded, so a failed attempt leaves it open for a sibling URL.
type checksumClaims struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	handled map[string]struct{}
}

func newChecksumClaims() *checksumClaims {
	return &checksumClaims{locks: make(map[string]*sync.Mutex), handled: make(map[string]struct{})}
}

func (c *checksumClaims) run(checksum string, fn func() (outcome, error)) (outcome, error) {
	c.mu.Lock()
	l, ok := c.locks[checksum]
	if !ok {
		l = &sync.Mutex{}
		c.locks[checksum] = l
	}
	c.mu.Unlock()

	l.Lock()
	defer l.Unlock()

	c.mu.Lock()
	_, done := c.handled[checksum]
	c.mu.Unlock()
	if done {
		return outcomeSkipped, nil
	}

	out, err := fn()
	if out != outcomeFailed {
		c.mu.Lock()
		c.handled[checksum] = struct{}{}
		c.mu.Unlock()
	}
	return out, err
}

func (d *Downloader) fetch(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := d.retry.Do(ctx, "image "+url, func(ctx context.Context) error {
		if err := d.limiter.Wait(ctx, utils.HostKey(url)); err != nil {
			return err
		}

		start := time.Now()
		body, err := d.get(ctx, url)
		metrics.ObserveRequest("images", err, time.Since(start).Seconds())
		if err != nil {
			return err
		}
		data = body
		return nil
	})
	return data, err
}

func (d *Downloader) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/jpeg,image/*;q=0.8")
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &utils.StatusError{Code: resp.StatusCode, URL: url}
	}
	return utils.ReadLimited(resp.Body, d.cfg.MaxBytes)
}

func mimeFromURL(rawURL string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(p))); t != "" {
		return t
	}
	return "application/octet-stream"
}
