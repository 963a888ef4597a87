package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/blockfit/internal/bank"
	"github.com/born-ml/blockfit/internal/block"
	"github.com/born-ml/blockfit/internal/params"
	"github.com/born-ml/blockfit/internal/shell"
)

// ReaderOptions configures Load.
type ReaderOptions struct {
	SkipChecksumValidation bool            // Skip checksum validation (faster but less safe)
	ValidationLevel        ValidationLevel // Validation strictness level
	Logger                 *slog.Logger    // Receives specification advisories; defaults to slog.Default()
}

// Model is a loaded model file.
type Model struct {
	Header *Header
	Spec   *params.Specification
	Banks  []*bank.Bank // Frozen, in file order
}

// Bank returns the bank for (q, kind), or nil if the file has none.
func (m *Model) Bank(q block.Quantity, kind block.Kind) *bank.Bank {
	for _, b := range m.Banks {
		if b.Quantity() == q && b.Kind() == kind {
			return b
		}
	}
	return nil
}

type fixedHeader struct {
	flags      uint32
	headerSize uint64
	dataSize   uint64
	checksum   [32]byte
}

// readHeader reads the fixed header and the JSON header, leaving r positioned at the
// first byte after the JSON.
func readHeader(r io.Reader) (*fixedHeader, *Header, error) {
	raw := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, nil, fmt.Errorf("failed to read fixed header: %w", err)
	}
	if string(raw[0:4]) != MagicBytes {
		return nil, nil, ErrInvalidMagic
	}
	if version := binary.LittleEndian.Uint32(raw[4:8]); version != FormatVersion {
		return nil, nil, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, version, FormatVersion)
	}

	fh := &fixedHeader{
		flags:      binary.LittleEndian.Uint32(raw[8:12]),
		headerSize: binary.LittleEndian.Uint64(raw[16:24]),
		dataSize:   binary.LittleEndian.Uint64(raw[24:32]),
	}
	copy(fh.checksum[:], raw[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if fh.headerSize > MaxHeaderSize {
		return nil, nil, ErrHeaderTooLarge
	}
	if fh.dataSize > MaxDataSize {
		return nil, nil, ErrDataTooLarge
	}

	headerBytes := make([]byte, fh.headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, nil, fmt.Errorf("failed to read header JSON: %w", err)
	}
	var h Header
	if err := json.Unmarshal(headerBytes, &h); err != nil {
		return nil, nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}
	return fh, &h, nil
}

// ReadHeader decodes only the headers of a .hblk stream.
func ReadHeader(r io.Reader) (*Header, error) {
	_, h, err := readHeader(r)
	return h, err
}

// Load reads a .hblk stream. The specification is rebuilt and revalidated, every
// sub-model is restored in the Loaded state and every bank is frozen.
//
//nolint:gocyclo,cyclop // Complex reader logic is unavoidable for binary format
func Load(r io.Reader, opts ReaderOptions) (*Model, error) {
	fh, h, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize
	padding := dataOffset(int64(fh.headerSize)) - FixedHeaderSize - int64(fh.headerSize)
	if _, err := io.CopyN(io.Discard, r, padding); err != nil {
		return nil, fmt.Errorf("failed to skip header padding: %w", err)
	}
	data := make([]byte, fh.dataSize)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read coefficient data: %w", err)
	}

	if !opts.SkipChecksumValidation {
		if err := ValidateChecksum(ComputeChecksum(data), fh.checksum); err != nil {
			return nil, err
		}
	}
	if err := ValidateHeader(h, int64(len(data)), opts.ValidationLevel); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg, err := shell.NewRegistry(h.Registry)
	if err != nil {
		return nil, fmt.Errorf("failed to restore shell registry: %w", err)
	}
	spec, err := params.New(reg, h.Regularization, h.Solver, h.Entries, params.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to restore specification: %w", err)
	}

	model := &Model{Header: h, Spec: spec}
	banks := make(map[BankMeta]*bank.Bank, len(h.Banks))
	for _, meta := range h.Banks {
		if _, dup := banks[meta]; dup {
			return nil, &ValidationError{Type: "duplicate_bank", Details: fmt.Sprintf("%s:%s", meta.Quantity, meta.Kind)}
		}
		b := bank.New(meta.Quantity, meta.Kind)
		banks[meta] = b
		model.Banks = append(model.Banks, b)
	}

	for _, meta := range h.Models {
		b, ok := banks[BankMeta{Quantity: meta.Key.Quantity, Kind: meta.Key.Kind}]
		if !ok {
			return nil, &ValidationError{Type: "unknown_bank", Model: meta.name(), Details: "no bank declared for the key"}
		}
		declared, err := spec.Hyper(meta.Key)
		if err != nil {
			return nil, &ValidationError{Type: "undeclared_model", Model: meta.name(), Details: err.Error()}
		}
		if declared != meta.Hyper {
			return nil, &ValidationError{
				Type:    "hyper_mismatch",
				Model:   meta.name(),
				Details: fmt.Sprintf("stored %+v, specification declares %+v", meta.Hyper, declared),
			}
		}
		if meta.Offset < 0 || meta.Offset+meta.Size > int64(len(data)) {
			return nil, &ValidationError{Type: "out_of_bounds", Model: meta.name(), Details: "coefficients outside data section"}
		}

		raw := data[meta.Offset : meta.Offset+meta.Size]
		values := make([]float64, len(raw)/float64Size)
		for i := range values {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*float64Size:]))
		}
		coeffs := mat.NewDense(meta.Features, meta.Rows*meta.Cols, values)

		m, err := bank.NewLoaded(meta.Key, meta.Hyper, meta.Rows, meta.Cols, coeffs)
		if err != nil {
			return nil, err
		}
		if err := b.Insert(m); err != nil {
			return nil, err
		}
	}

	for _, b := range model.Banks {
		b.Freeze()
	}
	return model, nil
}

// LoadFile reads a .hblk file.
func LoadFile(path string, opts ReaderOptions) (*Model, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return Load(file, opts)
}

// ReadHeaderFile decodes only the headers of a .hblk file.
func ReadHeaderFile(path string) (*Header, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return ReadHeader(file)
}
