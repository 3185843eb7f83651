package models

import (
	"encoding/json"
	"time"
)

// Source kinds select the normalizer for records fetched from a JSON endpoint.
const (
	KindGeneric = "generic"
	KindWix     = "wix"
)

// SourceSettings override the fetcher's default caps for one source.
type SourceSettings struct {
	GridSize      int          `json:"gridSize,omitempty"`
	MaxPages      int          `json:"maxPages,omitempty"`
	MaxIterations int          `json:"maxIterations,omitempty"`
	Bounds        *BoundingBox `json:"bounds,omitempty"`
}

// Source is an upstream site the pipeline ingests from.
type Source struct {
	ID        string         `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	TargetURL string         `json:"targetUrl" db:"target_url"`
	Kind      string         `json:"kind" db:"kind"`
	Settings  SourceSettings `json:"settings" db:"-"`
	CreatedAt time.Time      `json:"createdAt" db:"created_at"`
}

// SettingsJSON encodes the settings for storage.
func (s *Source) SettingsJSON() string {
	b, err := json.Marshal(s.Settings)
	if err != nil {
		return "{}"
	}
	return string(b)
}
