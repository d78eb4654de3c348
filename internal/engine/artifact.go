package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// FormatVersion is the artifact layout written by Save.
	FormatVersion byte = 1

	headerSize = 6
)

var magic = [4]byte{'B', 'S', 'Q', 'L'}

// ErrNotArtifact is returned by Load when the input does not start with the
// artifact header.
var ErrNotArtifact = errors.New("engine: not a compiled script")

// Compression selects how the artifact payload is stored.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

// ParseCompression maps a property value to a Compression. Empty means zstd.
func ParseCompression(raw string) (Compression, error) {
	switch Compression(strings.ToLower(strings.TrimSpace(raw))) {
	case "", CompressionZstd:
		return CompressionZstd, nil
	case CompressionNone:
		return CompressionNone, nil
	default:
		return "", fmt.Errorf("engine: property %s: unsupported compression %q; use 'zstd' or 'none'", PropCompression, raw)
	}
}

func (c Compression) code() byte {
	if c == CompressionNone {
		return 0
	}
	return 1
}

func compressionFromCode(b byte) (Compression, error) {
	switch b {
	case 0:
		return CompressionNone, nil
	case 1:
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("engine: unknown compression code %d", b)
	}
}

// Script is the compiled form of one source script.
type Script struct {
	Name        string      `msgpack:"name" json:"name"`
	Properties  Properties  `msgpack:"properties" json:"properties"`
	Warnings    []string    `msgpack:"warnings,omitempty" json:"warnings,omitempty"`
	Statements  []Statement `msgpack:"statements" json:"statements"`
	Compression Compression `msgpack:"-" json:"compression"`
}

// Statement is a single parsed statement of a script.
type Statement struct {
	Analysis

	// Text is the statement as written in the source.
	Text string `msgpack:"text" json:"text"`
	// SQL is the canonical form restored from the AST.
	SQL    string `msgpack:"sql" json:"sql"`
	Offset int    `msgpack:"offset" json:"offset"`
	Line   int    `msgpack:"line" json:"line"`
}

// Destructive returns the statements that remove data or schema objects.
func (s *Script) Destructive() []Statement {
	var out []Statement
	for _, st := range s.Statements {
		if st.Destructive {
			out = append(out, st)
		}
	}
	return out
}

// TransactionSafe reports whether every statement can run inside a single
// transaction.
func (s *Script) TransactionSafe() bool {
	for _, st := range s.Statements {
		if !st.TransactionSafe {
			return false
		}
	}
	return true
}

// Save writes the binary artifact to w.
func (s *Script) Save(w io.Writer) error {
	payload, err := msgpack.Marshal(s)
	if err != nil {
		return fmt.Errorf("engine: encode script %q: %w", s.Name, err)
	}

	c := s.Compression
	if c == "" {
		c = CompressionZstd
	}
	if c == CompressionZstd {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("engine: zstd encoder: %w", err)
		}
		payload = enc.EncodeAll(payload, nil)
		_ = enc.Close()
	}

	header := []byte{magic[0], magic[1], magic[2], magic[3], FormatVersion, c.code()}
	if _, err := w.Write(header); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// Load decodes an artifact previously written by Save.
func Load(r io.Reader) (*Script, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("engine: read artifact: %w", err)
	}
	if len(data) < headerSize || !bytes.Equal(data[:4], magic[:]) {
		return nil, ErrNotArtifact
	}
	if data[4] != FormatVersion {
		return nil, fmt.Errorf("engine: unsupported artifact version %d", data[4])
	}
	c, err := compressionFromCode(data[5])
	if err != nil {
		return nil, err
	}

	payload := data[headerSize:]
	if c == CompressionZstd {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("engine: zstd decoder: %w", err)
		}
		defer dec.Close()
		payload, err = dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("engine: decompress artifact: %w", err)
		}
	}

	var s Script
	if err := msgpack.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("engine: decode artifact: %w", err)
	}
	s.Compression = c
	return &s, nil
}
