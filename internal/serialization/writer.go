package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/born-ml/blockfit/internal/bank"
	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/blockerr"
	"github.com/born-ml/blockfit/internal/params"
)

type writeOptions struct {
	metadata map[string]string
	id       uuid.UUID
	now      func() time.Time
}

// WriteOption configures Save.
type WriteOption func(*writeOptions)

// WithMetadata stores free-form key/value pairs in the header.
func WithMetadata(md map[string]string) WriteOption {
	return func(o *writeOptions) { o.metadata = md }
}

// WithModelID sets the model id instead of a random one.
func WithModelID(id uuid.UUID) WriteOption {
	return func(o *writeOptions) { o.id = id }
}

// Save writes the specification and banks in .hblk format and returns the header
// that was written.
//
// Every stored sub-model must be Fit or Loaded and carry the hyperparameters spec
// declares for its key; otherwise Save fails with an IllegalStateError and nothing
// is written.
//
//nolint:gocyclo,cyclop // Complex writer logic is unavoidable for binary format
func Save(w io.Writer, spec *params.Specification, banks []*bank.Bank, opts ...WriteOption) (*Header, error) {
	o := writeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == uuid.Nil {
		o.id = uuid.New()
	}

	header := &Header{
		FormatVersion:  FormatVersion,
		LibraryVersion: LibraryVersion,
		ModelID:        o.id.String(),
		CreatedAt:      o.now().UTC(),
		Registry:       spec.Registry().Declaration(),
		Regularization: string(spec.Regularization()),
		Solver:         string(spec.Solver()),
		Entries:        spec.Entries(),
		Metadata:       o.metadata,
	}
	if header.Metadata == nil {
		header.Metadata = make(map[string]string)
	}

	// Calculate sub-model offsets and encode coefficient data
	var data []byte
	seen := make(map[BankMeta]bool, len(banks))
	for _, b := range banks {
		meta := BankMeta{Quantity: b.Quantity(), Kind: b.Kind()}
		if seen[meta] {
			return nil, fmt.Errorf("duplicate bank %s:%s", meta.Quantity, meta.Kind)
		}
		seen[meta] = true
		header.Banks = append(header.Banks, meta)

		for _, k := range b.Keys() {
			m, err := b.Lookup(k)
			if err != nil {
				return nil, err
			}
			if !m.Ready() {
				return nil, &blockerr.IllegalStateError{Key: k.String(), Details: "unfit sub-models cannot be saved"}
			}
			declared, err := spec.Hyper(k)
			if err != nil {
				return nil, &blockerr.IllegalStateError{Key: k.String(), Details: "key is not declared by the specification"}
			}
			if declared != m.Hyper {
				return nil, &blockerr.IllegalStateError{
					Key:     k.String(),
					Details: fmt.Sprintf("sub-model was fit with %+v, specification declares %+v", m.Hyper, declared),
				}
			}

			coeffs := m.Coefficients()
			start := int64(len(data))
			for _, v := range coeffs.RawMatrix().Data {
				data = binary.LittleEndian.AppendUint64(data, math.Float64bits(v))
			}
			header.Models = append(header.Models, ModelMeta{
				Key:      k,
				Hyper:    m.Hyper,
				Rows:     m.Rows,
				Cols:     m.Cols,
				Features: m.NumFeatures(),
				Offset:   start,
				Size:     int64(len(data)) - start,
			})
		}
	}

	// Marshal header to JSON
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	if len(headerJSON) > MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}

	flags := uint32(0)
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	for _, meta := range header.Banks {
		if meta.Quantity == block.Overlap {
			flags |= FlagHasOverlap
		}
	}

	// Fixed header: magic, version, flags, reserved, sizes, checksum
	fixed := make([]byte, FixedHeaderSize)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(fixed[8:12], flags)
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(len(data)))
	checksum := ComputeChecksum(data)
	copy(fixed[ChecksumOffset:ChecksumOffset+ChecksumSize], checksum[:])

	var buf bytes.Buffer
	buf.Write(fixed)
	buf.Write(headerJSON)
	padding := dataOffset(int64(len(headerJSON))) - int64(FixedHeaderSize+len(headerJSON))
	buf.Write(make([]byte, padding))
	buf.Write(data)

	if _, err := buf.WriteTo(w); err != nil {
		return nil, fmt.Errorf("failed to write model: %w", err)
	}
	return header, nil
}

// SaveFile writes a .hblk file at path.
func SaveFile(path string, spec *params.Specification, banks []*bank.Bank, opts ...WriteOption) (*Header, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model saving
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	header, err := Save(file, spec, banks, opts...)
	if err != nil {
		_ = file.Close() // Best effort close on error
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return header, nil
}
