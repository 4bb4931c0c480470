package models

import (
	"errors"
	"fmt"
)

// ErrUnknownJobType indicates a payload was submitted for a job type
// without a registered payload shape.
var ErrUnknownJobType = errors.New("unknown job type")

// JobPayload is the closed union of per-job-type inputs. Payloads are
// decoded and validated once at the boundary so handlers receive typed
// input instead of reinterpreting a generic map.
type JobPayload interface {
	Type() JobType
	Validate() error
}

// ReprocessOptions controls one document re-derivation pass.
type ReprocessOptions struct {
	// Chunking overrides the document's chunking configuration for this
	// pass. Nil keeps the current configuration.
	Chunking *ChunkingConfig `json:"chunking,omitempty" yaml:"chunking,omitempty"`

	// CleanupRerun requests a fresh AI cleanup pass from the external
	// re-derivation service instead of a local re-chunk.
	CleanupRerun bool `json:"cleanup_rerun,omitempty" yaml:"cleanup_rerun,omitempty"`
}

// ReprocessDocumentPayload is the input for reprocess-document jobs.
type ReprocessDocumentPayload struct {
	DocumentID string           `json:"document_id"`
	Options    ReprocessOptions `json:"options"`
}

func (p ReprocessDocumentPayload) Type() JobType { return JobTypeReprocessDocument }

func (p ReprocessDocumentPayload) Validate() error {
	if p.DocumentID == "" {
		return errors.New("document_id is required")
	}
	if c := p.Options.Chunking; c != nil {
		if c.TargetSize <= 0 || c.MaxSize < c.TargetSize || c.MinSize < 0 {
			return fmt.Errorf("invalid chunking config: min=%d target=%d max=%d", c.MinSize, c.TargetSize, c.MaxSize)
		}
	}
	return nil
}

// ReprocessConnectionsPayload is the input for reprocess-connections jobs.
type ReprocessConnectionsPayload struct {
	DocumentID string `json:"document_id"`
}

func (p ReprocessConnectionsPayload) Type() JobType { return JobTypeReprocessConnection }

func (p ReprocessConnectionsPayload) Validate() error {
	if p.DocumentID == "" {
		return errors.New("document_id is required")
	}
	return nil
}

// ImportPayload is the input for import jobs.
type ImportPayload struct {
	BundlePath string `json:"bundle_path"`
}

func (p ImportPayload) Type() JobType { return JobTypeImport }

func (p ImportPayload) Validate() error {
	if p.BundlePath == "" {
		return errors.New("bundle_path is required")
	}
	return nil
}

// ExportPayload is the input for export jobs.
type ExportPayload struct {
	DocumentIDs []string `json:"document_ids"`
	Destination string   `json:"destination"`
}

func (p ExportPayload) Type() JobType { return JobTypeExport }

func (p ExportPayload) Validate() error {
	if len(p.DocumentIDs) == 0 {
		return errors.New("at least one document_id is required")
	}
	if p.Destination == "" {
		return errors.New("destination is required")
	}
	return nil
}

// DecodePayload converts the stored raw payload into the typed payload
// for the given job type and validates it. The union is closed: an
// unrecognised job type is a terminal validation error, never a retry.
func DecodePayload(jobType JobType, raw map[string]any) (JobPayload, error) {
	var payload JobPayload
	switch jobType {
	case JobTypeReprocessDocument:
		p := ReprocessDocumentPayload{DocumentID: stringField(raw, "document_id")}
		if opts, ok := raw["options"].(map[string]any); ok {
			p.Options = decodeReprocessOptions(opts)
		}
		payload = p
	case JobTypeReprocessConnection:
		payload = ReprocessConnectionsPayload{DocumentID: stringField(raw, "document_id")}
	case JobTypeImport:
		payload = ImportPayload{BundlePath: stringField(raw, "bundle_path")}
	case JobTypeExport:
		p := ExportPayload{Destination: stringField(raw, "destination")}
		if ids, ok := raw["document_ids"].([]any); ok {
			for _, id := range ids {
				if s, ok := id.(string); ok {
					p.DocumentIDs = append(p.DocumentIDs, s)
				}
			}
		}
		payload = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}

	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("validate %s payload: %w", jobType, err)
	}
	return payload, nil
}

// EncodePayload converts a typed payload into the raw map stored on the
// job record. Inverse of DecodePayload for the fields each type defines.
func EncodePayload(p JobPayload) map[string]any {
	switch p := p.(type) {
	case ReprocessDocumentPayload:
		opts := map[string]any{"cleanup_rerun": p.Options.CleanupRerun}
		if c := p.Options.Chunking; c != nil {
			opts["chunking"] = map[string]any{
				"threshold":   int64(c.Threshold),
				"target_size": int64(c.TargetSize),
				"min_size":    int64(c.MinSize),
				"max_size":    int64(c.MaxSize),
			}
		}
		return map[string]any{"document_id": p.DocumentID, "options": opts}
	case ReprocessConnectionsPayload:
		return map[string]any{"document_id": p.DocumentID}
	case ImportPayload:
		return map[string]any{"bundle_path": p.BundlePath}
	case ExportPayload:
		ids := make([]any, len(p.DocumentIDs))
		for i, id := range p.DocumentIDs {
			ids[i] = id
		}
		return map[string]any{"document_ids": ids, "destination": p.Destination}
	}
	return nil
}

func decodeReprocessOptions(raw map[string]any) ReprocessOptions {
	opts := ReprocessOptions{}
	if b, ok := raw["cleanup_rerun"].(bool); ok {
		opts.CleanupRerun = b
	}
	if c, ok := raw["chunking"].(map[string]any); ok {
		cfg := ChunkingConfig{
			Threshold:  intField(c, "threshold"),
			TargetSize: intField(c, "target_size"),
			MinSize:    intField(c, "min_size"),
			MaxSize:    intField(c, "max_size"),
		}
		opts.Chunking = &cfg
	}
	return opts
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

// intField tolerates the numeric types CBOR and JSON decoding produce.
func intField(raw map[string]any, key string) int {
	switch v := raw[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
