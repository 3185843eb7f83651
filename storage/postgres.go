package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"rental-ingest/models"
)

const (
	maxOpenConns    = 10
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
)

// Postgres is the relational store for sources, listings, images and runs.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres opens a connection to PostgreSQL, runs schema migrations, and
// returns a ready-to-use store.
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	p := &Postgres{db: db}
	if err := p.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return p, nil
}

// NewPostgresFromDB wraps an existing handle without migrating.
func NewPostgresFromDB(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the schema when it does not exist yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

// Ping checks the connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id          UUID PRIMARY KEY,
	name        TEXT        UNIQUE NOT NULL,
	target_url  TEXT        NOT NULL,
	kind        TEXT        NOT NULL DEFAULT 'generic',
	settings    JSONB       NOT NULL DEFAULT '{}',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS listings (
	id                UUID PRIMARY KEY,
	source_id         UUID NOT NULL REFERENCES sources(id),
	source_listing_id TEXT,
	canonical_url     TEXT NOT NULL,
	title             TEXT,
	address_line1     TEXT,
	unit              TEXT,
	city              TEXT,
	state             TEXT,
	postal_code       TEXT,
	latitude          DOUBLE PRECISION,
	longitude         DOUBLE PRECISION,
	price_min         NUMERIC(12,2),
	price_max         NUMERIC(12,2),
	bedrooms          NUMERIC(4,1),
	bathrooms         NUMERIC(4,1),
	square_feet       INTEGER,
	property_type     TEXT,
	available_date    DATE,
	lease_term        TEXT,
	deposit           NUMERIC(12,2),
	fees_json         JSONB,
	amenities_json    JSONB,
	description       TEXT,
	contact_json      JSONB,
	image_urls        TEXT[] NOT NULL DEFAULT '{}',
	raw_json          JSONB NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_listings_source_listing_id
	ON listings(source_id, source_listing_id) WHERE source_listing_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS uq_listings_source_url
	ON listings(source_id, canonical_url) WHERE source_listing_id IS NULL;
CREATE INDEX IF NOT EXISTS idx_listings_city      ON listings(city);
CREATE INDEX IF NOT EXISTS idx_listings_price_min ON listings(price_min);

CREATE TABLE IF NOT EXISTS listing_images (
	id              UUID PRIMARY KEY,
	listing_id      UUID NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
	original_url    TEXT NOT NULL,
	stored_path     TEXT NOT NULL DEFAULT '',
	stored_url      TEXT NOT NULL,
	width           INTEGER,
	height          INTEGER,
	mime_type       TEXT NOT NULL,
	checksum_sha256 CHAR(64) NOT NULL,
	sort_order      INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (listing_id, checksum_sha256)
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id                UUID PRIMARY KEY,
	source_id         UUID NOT NULL REFERENCES sources(id),
	source_name       TEXT NOT NULL,
	status            TEXT NOT NULL,
	records_fetched   INTEGER NOT NULL DEFAULT 0,
	listings_upserted INTEGER NOT NULL DEFAULT 0,
	listings_skipped  INTEGER NOT NULL DEFAULT 0,
	images_downloaded INTEGER NOT NULL DEFAULT 0,
	images_skipped    INTEGER NOT NULL DEFAULT 0,
	errors            JSONB NOT NULL DEFAULT '[]',
	started_at        TIMESTAMPTZ NOT NULL,
	finished_at       TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_source ON ingest_runs(source_name, started_at DESC);
`

type sourceRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	TargetURL string    `db:"target_url"`
	Kind      string    `db:"kind"`
	Settings  []byte    `db:"settings"`
	CreatedAt time.Time `db:"created_at"`
}

func (r *sourceRow) toModel() (*models.Source, error) {
	src := &models.Source{
		ID:        r.ID,
		Name:      r.Name,
		TargetURL: r.TargetURL,
		Kind:      r.Kind,
		CreatedAt: r.CreatedAt,
	}
	if len(r.Settings) > 0 {
		if err := json.Unmarshal(r.Settings, &src.Settings); err != nil {
			return nil, fmt.Errorf("postgres: decode settings of %s: %w", r.Name, err)
		}
	}
	return src, nil
}

const sourceColumns = `id, name, target_url, kind, settings, created_at`

// EnsureSource returns the stored source with src's name, creating it when
// absent. An existing row keeps its settings and takes the new target URL
// and kind.
func (p *Postgres) EnsureSource(ctx context.Context, src *models.Source) (*models.Source, error) {
	if src.Kind == "" {
		src.Kind = models.KindGeneric
	}
	var row sourceRow
	err := p.db.GetContext(ctx, &row, `
		INSERT INTO sources (id, name, target_url, kind, settings)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE
			SET target_url = EXCLUDED.target_url, kind = EXCLUDED.kind
		RETURNING `+sourceColumns,
		uuid.NewString(), src.Name, src.TargetURL, src.Kind, src.SettingsJSON())
	if err != nil {
		return nil, fmt.Errorf("postgres: ensure source %s: %w", src.Name, err)
	}
	return row.toModel()
}

// GetSource looks a source up by name.
func (p *Postgres) GetSource(ctx context.Context, name string) (*models.Source, error) {
	var row sourceRow
	err := p.db.GetContext(ctx, &row, `SELECT `+sourceColumns+` FROM sources WHERE name = $1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get source %s: %w", name, err)
	}
	return row.toModel()
}

func (p *Postgres) ListSources(ctx context.Context) ([]*models.Source, error) {
	var rows []sourceRow
	if err := p.db.SelectContext(ctx, &rows, `SELECT `+sourceColumns+` FROM sources ORDER BY name`); err != nil {
		return nil, fmt.Errorf("postgres: list sources: %w", err)
	}
	sources := make([]*models.Source, 0, len(rows))
	for i := range rows {
		src, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

type runRow struct {
	ID               string     `db:"id"`
	SourceID         string     `db:"source_id"`
	SourceName       string     `db:"source_name"`
	Status           string     `db:"status"`
	RecordsFetched   int        `db:"records_fetched"`
	ListingsUpserted int        `db:"listings_upserted"`
	ListingsSkipped  int        `db:"listings_skipped"`
	ImagesDownloaded int        `db:"images_downloaded"`
	ImagesSkipped    int        `db:"images_skipped"`
	Errors           []byte     `db:"errors"`
	StartedAt        time.Time  `db:"started_at"`
	FinishedAt       *time.Time `db:"finished_at"`
}

func (r *runRow) toModel() (*models.IngestRun, error) {
	run := &models.IngestRun{
		ID:               r.ID,
		SourceID:         r.SourceID,
		SourceName:       r.SourceName,
		Status:           models.RunStatus(r.Status),
		RecordsFetched:   r.RecordsFetched,
		ListingsUpserted: r.ListingsUpserted,
		ListingsSkipped:  r.ListingsSkipped,
		ImagesDownloaded: r.ImagesDownloaded,
		ImagesSkipped:    r.ImagesSkipped,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
	}
	if len(r.Errors) > 0 {
		if err := json.Unmarshal(r.Errors, &run.Errors); err != nil {
			return nil, fmt.Errorf("postgres: decode errors of run %s: %w", r.ID, err)
		}
	}
	return run, nil
}

const runColumns = `id, source_id, source_name, status, records_fetched, listings_upserted,
	listings_skipped, images_downloaded, images_skipped, errors, started_at, finished_at`

func encodeErrors(errs []models.RunError) (string, error) {
	if errs == nil {
		errs = []models.RunError{}
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *Postgres) CreateRun(ctx context.Context, run *models.IngestRun) error {
	errs, err := encodeErrors(run.Errors)
	if err != nil {
		return fmt.Errorf("postgres: encode run errors: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO ingest_runs (id, source_id, source_name, status, errors, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.SourceID, run.SourceName, string(run.Status), errs, run.StartedAt)
	if err != nil {
		return fmt.Errorf("postgres: create run: %w", err)
	}
	return nil
}

// UpdateRunStatus moves an unfinished run to status.
func (p *Postgres) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = $2 WHERE id = $1 AND finished_at IS NULL`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update run %s: %w", id, err)
	}
	return nil
}

// FinishRun writes the final counters, errors and status. A run that is
// already finished is left untouched.
func (p *Postgres) FinishRun(ctx context.Context, run *models.IngestRun) error {
	errs, err := encodeErrors(run.Errors)
	if err != nil {
		return fmt.Errorf("postgres: encode run errors: %w", err)
	}
	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	_, err = p.db.ExecContext(ctx, `
		UPDATE ingest_runs SET
			status = $2,
			records_fetched = $3,
			listings_upserted = $4,
			listings_skipped = $5,
			images_downloaded = $6,
			images_skipped = $7,
			errors = $8,
			finished_at = $9
		WHERE id = $1 AND finished_at IS NULL`,
		run.ID, string(run.Status), run.RecordsFetched, run.ListingsUpserted, run.ListingsSkipped,
		run.ImagesDownloaded, run.ImagesSkipped, errs, finished)
	if err != nil {
		return fmt.Errorf("postgres: finish run %s: %w", run.ID, err)
	}
	return nil
}

func (p *Postgres) GetRun(ctx context.Context, id string) (*models.IngestRun, error) {
	var row runRow
	err := p.db.GetContext(ctx, &row, `SELECT `+runColumns+` FROM ingest_runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	return row.toModel()
}

// ListRuns returns the most recent runs, newest first. An empty sourceName
// lists runs of every source.
func (p *Postgres) ListRuns(ctx context.Context, sourceName string, limit int) ([]*models.IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows []runRow
		err  error
	)
	if sourceName == "" {
		err = p.db.SelectContext(ctx, &rows,
			`SELECT `+runColumns+` FROM ingest_runs ORDER BY started_at DESC LIMIT $1`, limit)
	} else {
		err = p.db.SelectContext(ctx, &rows,
			`SELECT `+runColumns+` FROM ingest_runs WHERE source_name = $1 ORDER BY started_at DESC LIMIT $2`,
			sourceName, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}

	runs := make([]*models.IngestRun, 0, len(rows))
	for i := range rows {
		run, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

var listingColumns = []string{
	"id", "source_id", "source_listing_id", "canonical_url", "title",
	"address_line1", "unit", "city", "state", "postal_code", "latitude", "longitude",
	"price_min", "price_max", "bedrooms", "bathrooms", "square_feet",
	"property_type", "available_date", "lease_term", "deposit",
	"fees_json", "amenities_json", "description", "contact_json", "image_urls", "raw_json",
}

var (
	upsertByIDQuery  = buildUpsert("(source_id, source_listing_id) WHERE source_listing_id IS NOT NULL")
	upsertByURLQuery = buildUpsert("(source_id, canonical_url) WHERE source_listing_id IS NULL")
)

// buildUpsert renders an INSERT that overwrites every listing column on a
// natural-key conflict and returns the row id either way.
func buildUpsert(conflict string) string {
	placeholders := make([]string, len(listingColumns))
	var updates []string
	for i, col := range listingColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col == "id" || col == "source_id" {
			continue
		}
		updates = append(updates, col+" = EXCLUDED."+col)
	}
	updates = append(updates, "updated_at = NOW()")

	return fmt.Sprintf(`INSERT INTO listings (%s) VALUES (%s) ON CONFLICT %s DO UPDATE SET %s RETURNING id`,
		strings.Join(listingColumns, ", "),
		strings.Join(placeholders, ", "),
		conflict,
		strings.Join(updates, ", "))
}

// UpsertListing inserts or replaces the listing identified by its natural key
// within the source and returns the stored row id.
func (p *Postgres) UpsertListing(ctx context.Context, sourceID string, l *models.NormalizedListing) (string, error) {
	query := upsertByURLQuery
	var sourceListingID *string
	if l.SourceListingID != nil && *l.SourceListingID != "" {
		query = upsertByIDQuery
		sourceListingID = l.SourceListingID
	}

	var contact any
	if !l.Contact.Empty() {
		b, err := json.Marshal(l.Contact)
		if err != nil {
			return "", fmt.Errorf("postgres: encode contact: %w", err)
		}
		contact = string(b)
	}
	imageURLs := l.ImageURLs
	if imageURLs == nil {
		imageURLs = []string{}
	}
	rawJSON := jsonArg(l.RawJSON)
	if rawJSON == nil {
		rawJSON = "{}"
	}

	var id string
	err := p.db.QueryRowxContext(ctx, query,
		uuid.NewString(), sourceID, sourceListingID, l.CanonicalURL, l.Title,
		l.AddressLine1, l.Unit, l.City, l.State, l.PostalCode, l.Latitude, l.Longitude,
		l.PriceMin, l.PriceMax, l.Bedrooms, l.Bathrooms, l.SquareFeet,
		l.PropertyType, l.AvailableDate, l.LeaseTerm, l.Deposit,
		jsonArg(l.FeesJSON), jsonArg(l.AmenitiesJSON), l.Description, contact, pq.Array(imageURLs), rawJSON,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("postgres: upsert listing %s: %w", l.NaturalKey(), err)
	}
	return id, nil
}

// jsonArg passes JSON to a JSONB column, or NULL when there is none.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

const imageColumns = `id, listing_id, original_url, stored_path, stored_url, width, height,
	mime_type, checksum_sha256, sort_order, created_at`

func (p *Postgres) FindImage(ctx context.Context, listingID, checksum string) (*models.StoredImage, error) {
	var img models.StoredImage
	err := p.db.GetContext(ctx, &img,
		`SELECT `+imageColumns+` FROM listing_images WHERE listing_id = $1 AND checksum_sha256 = $2`,
		listingID, checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find image: %w", err)
	}
	return &img, nil
}

// InsertImage records a stored image. A row with the same listing and
// checksum wins over the new one.
func (p *Postgres) InsertImage(ctx context.Context, img *models.StoredImage) error {
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO listing_images (`+imageColumns+`)
		VALUES (:id, :listing_id, :original_url, :stored_path, :stored_url, :width, :height,
			:mime_type, :checksum_sha256, :sort_order, :created_at)
		ON CONFLICT (listing_id, checksum_sha256) DO NOTHING`, img)
	if err != nil {
		return fmt.Errorf("postgres: insert image: %w", err)
	}
	return nil
}

func (p *Postgres) ListImages(ctx context.Context, listingID string) ([]*models.StoredImage, error) {
	var images []*models.StoredImage
	err := p.db.SelectContext(ctx, &images,
		`SELECT `+imageColumns+` FROM listing_images WHERE listing_id = $1 ORDER BY sort_order`, listingID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list images: %w", err)
	}
	return images, nil
}
