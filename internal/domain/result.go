package domain

import "time"

// BlockType labels a structural element of an extraction result.
type BlockType string

const (
	BlockTypeHeading   BlockType = "heading"
	BlockTypeParagraph BlockType = "paragraph"
	BlockTypeTable     BlockType = "table"
	BlockTypeFigure    BlockType = "figure"
)

// Block is one structural element with optional per-element confidence.
// Confidence is in [0,1]; negative means the engine reported none.
type Block struct {
	Type       BlockType `json:"type"`
	Text       string    `json:"text"`
	Page       int       `json:"page"`
	Confidence float64   `json:"confidence"`
}

// ExtractionResult is the normalized output every engine adapter produces.
type ExtractionResult struct {
	// Markdown is the structure-preserving base text all other formats are
	// derived from.
	Markdown string
	// Blocks carries the structured tree when the engine provides one; empty
	// means only the linear markdown is available.
	Blocks []Block
	// PageCount and Confidence are engine-reported; Confidence is the mean
	// over elements, negative when unknown.
	PageCount  int
	Confidence float64
	// ProcessingTime is the engine-reported wall time for the extraction.
	ProcessingTime time.Duration
	Engine         string
	// Enhanced is true when the secondary refinement pass was applied.
	Enhanced bool
	// Warnings records degradations (e.g. a failed enhancement pass that fell
	// back to the base extraction).
	Warnings []string
}
