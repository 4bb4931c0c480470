package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// Document holds the current canonical text of an ingested document.
// All annotation offsets are defined against CanonicalText; Version is
// bumped on every reprocessing pass.
type Document struct {
	ID surrealmodels.RecordID `json:"id"`

	Owner string `json:"owner"`
	Title string `json:"title"`

	CanonicalText string `json:"canonical_text"`
	Version       int    `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
