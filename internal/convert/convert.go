// Package convert invokes format conversion for computed path pairs.
// Decoding of the raw formats is delegated to external libraries; this
// package only wires sources to destinations and owns the error
// taxonomy of the conversion step.
package convert

import (
	"fmt"
	"os"
	"path/filepath"

	"bidsbv/internal/layout"
)

// ErrorType represents the type of conversion error.
type ErrorType string

const (
	// MissingSource indicates the source path does not exist.
	MissingSource ErrorType = "MISSING_SOURCE"
	// ConversionError indicates the decode or encode step failed.
	ConversionError ErrorType = "CONVERSION_ERROR"
)

// Error represents a failure to convert a path pair.
type Error struct {
	Type ErrorType
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Path)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Codec converts one source file into one destination file.
type Codec interface {
	Convert(src, dst string) error
}

// CodecFunc adapts a function to the Codec interface.
type CodecFunc func(src, dst string) error

func (f CodecFunc) Convert(src, dst string) error {
	return f(src, dst)
}

// Registry routes path pairs to codecs by destination extension.
type Registry struct {
	codecs map[string]Codec
}

// NewRegistry returns a registry with the standard codecs installed:
// NIfTI to VMR, NIfTI to FMR, and events table to protocol.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	r.Register(".vmr", CodecFunc(niftiToVMR))
	r.Register(".fmr", CodecFunc(niftiToFMR))
	r.Register(".prt", CodecFunc(eventsToProtocol))
	return r
}

// Register installs a codec for a destination extension.
func (r *Registry) Register(ext string, codec Codec) {
	r.codecs[ext] = codec
}

// Invoke converts one path pair. The destination directory is created
// as needed and an existing destination is fully overwritten, so reruns
// are idempotent.
func (r *Registry) Invoke(pair layout.PathPair) (err error) {
	if _, statErr := os.Stat(pair.Source); os.IsNotExist(statErr) {
		return &Error{Type: MissingSource, Path: pair.Source, Err: statErr}
	}

	ext := filepath.Ext(pair.Destination)
	codec, ok := r.codecs[ext]
	if !ok {
		return &Error{
			Type: ConversionError,
			Path: pair.Destination,
			Err:  fmt.Errorf("no codec for extension %q", ext),
		}
	}

	if mkErr := os.MkdirAll(filepath.Dir(pair.Destination), 0755); mkErr != nil {
		return &Error{Type: ConversionError, Path: pair.Destination, Err: mkErr}
	}

	// The external decoders abort on malformed input; surface that as
	// a conversion failure instead of tearing the process down.
	defer func() {
		if r := recover(); r != nil {
			err = &Error{
				Type: ConversionError,
				Path: pair.Source,
				Err:  fmt.Errorf("decoder panic: %v", r),
			}
		}
	}()

	if convErr := codec.Convert(pair.Source, pair.Destination); convErr != nil {
		if cerr, ok := convErr.(*Error); ok {
			return cerr
		}
		return &Error{Type: ConversionError, Path: pair.Source, Err: convErr}
	}
	return nil
}
