package serialization

import (
	"fmt"
	"sort"
)

// Validation limits for resource protection.
const (
	MaxHeaderSize = 100 * 1024 * 1024 // 100MB - maximum header size
	MaxDataSize   = 8 << 30           // 8GiB - maximum coefficient data size
	MaxModelCount = 1_000_000         // Maximum number of sub-models in a file
)

// ValidationLevel controls the strictness of validation.
type ValidationLevel int

const (
	// ValidationStrict performs all validation checks (default).
	ValidationStrict ValidationLevel = iota
	// ValidationNormal skips the offset overlap scan.
	ValidationNormal
)

// ValidateOffsets checks for overlapping sub-model regions, out-of-bounds access and
// sizes inconsistent with the declared shapes.
func ValidateOffsets(models []ModelMeta, dataSize int64) error {
	if len(models) > MaxModelCount {
		return &ValidationError{
			Type:    "too_many_models",
			Details: fmt.Sprintf("got %d, max %d", len(models), MaxModelCount),
		}
	}

	sorted := make([]ModelMeta, len(models))
	copy(sorted, models)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Offset < sorted[j].Offset
	})

	for i, m := range sorted {
		if m.Offset < 0 || m.Size < 0 {
			return &ValidationError{
				Type:    "negative_offset",
				Model:   m.name(),
				Details: fmt.Sprintf("offset=%d, size=%d (negative values not allowed)", m.Offset, m.Size),
			}
		}

		if m.Offset+m.Size > dataSize {
			return &ValidationError{
				Type:    "out_of_bounds",
				Model:   m.name(),
				Details: fmt.Sprintf("offset %d + size %d > data_size %d", m.Offset, m.Size, dataSize),
			}
		}

		if i < len(sorted)-1 {
			next := sorted[i+1]
			if m.Offset+m.Size > next.Offset {
				return &ValidationError{
					Type:    "offset_overlap",
					Model:   m.name(),
					Model2:  next.name(),
					Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
						m.Offset, m.Offset+m.Size, next.Offset, next.Offset+next.Size),
				}
			}
		}
	}

	return nil
}

// ValidateShape checks that a sub-model's size matches its declared shape.
func ValidateShape(m ModelMeta) error {
	if m.Rows <= 0 || m.Cols <= 0 || m.Features <= 0 {
		return &ValidationError{
			Type:    "invalid_shape",
			Model:   m.name(),
			Details: fmt.Sprintf("rows=%d, cols=%d, features=%d", m.Rows, m.Cols, m.Features),
		}
	}
	want := int64(m.Features) * int64(m.Rows*m.Cols) * float64Size
	if m.Size != want {
		return &ValidationError{
			Type:    "size_mismatch",
			Model:   m.name(),
			Details: fmt.Sprintf("size %d, shape needs %d", m.Size, want),
		}
	}
	return nil
}

// ValidateHeader performs header validation.
func ValidateHeader(h *Header, dataSize int64, level ValidationLevel) error {
	if h.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: header declares %d", ErrUnsupportedVersion, h.FormatVersion)
	}
	if len(h.Models) > MaxModelCount {
		return &ValidationError{
			Type:    "too_many_models",
			Details: fmt.Sprintf("got %d, max %d", len(h.Models), MaxModelCount),
		}
	}

	seen := make(map[string]bool, len(h.Models))
	for _, m := range h.Models {
		if err := ValidateShape(m); err != nil {
			return err
		}
		if seen[m.name()] {
			return &ValidationError{Type: "duplicate_model", Model: m.name(), Details: "sub-model stored twice"}
		}
		seen[m.name()] = true
	}

	if level == ValidationStrict {
		if err := ValidateOffsets(h.Models, dataSize); err != nil {
			return err
		}
	}

	return nil
}
