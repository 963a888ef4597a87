package serialization

import (
	"time"

	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/params"
	"github.com/born-ml/blockfit/internal/shell"
)

// Format constants.
const (
	MagicBytes      = "HBLK"
	FormatVersion   = 1    // v1: fixed header with SHA-256 checksum
	HeaderAlignment = 64   // Align coefficient data to 64 bytes
	FixedHeaderSize = 64   // Fixed header size (0x40 bytes)
	ChecksumSize    = 32   // SHA-256 checksum size (32 bytes)
	ChecksumOffset  = 0x20 // Checksum offset in the fixed header
	float64Size     = 8
)

// LibraryVersion is written into every saved header.
const LibraryVersion = "0.1.0"

// Flags for the .hblk format.
const (
	FlagHasMetadata uint32 = 1 << 0 // bit 0: custom metadata included
	FlagHasOverlap  uint32 = 1 << 1 // bit 1: at least one overlap bank included
)

// Header represents the JSON header in a .hblk file.
type Header struct {
	FormatVersion  int                      `json:"format_version"`  // Version of the .hblk format
	LibraryVersion string                   `json:"library_version"` // Version of the library that wrote the file
	ModelID        string                   `json:"model_id"`        // Random UUID assigned at save time
	CreatedAt      time.Time                `json:"created_at"`      // When the file was created
	Registry       map[string][]shell.Shell `json:"registry"`        // Shell declaration per element
	Regularization string                   `json:"regularization"`  // Global regularization kind
	Solver         string                   `json:"solver"`          // Global solver identifier
	Entries        []params.Entry           `json:"entries"`         // Hyperparameter entries
	Banks          []BankMeta               `json:"banks"`           // Saved banks, including empty ones
	Models         []ModelMeta              `json:"models"`          // Sub-model metadata
	Metadata       map[string]string        `json:"metadata"`        // Custom metadata
}

// BankMeta identifies one saved bank.
type BankMeta struct {
	Quantity block.Quantity `json:"quantity"`
	Kind     block.Kind     `json:"kind"`
}

// ModelMeta describes one sub-model in the .hblk file.
type ModelMeta struct {
	Key      block.Key    `json:"key"`
	Hyper    params.Hyper `json:"hyper"`
	Rows     int          `json:"rows"`     // Output sub-block rows (2L_A+1)
	Cols     int          `json:"cols"`     // Output sub-block columns (2L_B+1)
	Features int          `json:"features"` // Coefficient matrix rows
	Offset   int64        `json:"offset"`   // Offset in the data section (bytes from start of coefficient data)
	Size     int64        `json:"size"`     // Size in bytes
}

// name is the sub-model's key string, used in validation errors.
func (m ModelMeta) name() string { return m.Key.String() }

// dataOffset returns where the data section starts for a JSON header of n bytes.
func dataOffset(n int64) int64 {
	pos := int64(FixedHeaderSize) + n
	return pos + (HeaderAlignment-pos%HeaderAlignment)%HeaderAlignment
}
