// Package facts loads and validates the fact bundles fed to the scoring
// pipeline.
package facts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/olorin-labs/olorin-risk/api/schemas"
)

// ErrInvalidFacts wraps every decode or validation failure.
var ErrInvalidFacts = errors.New("invalid facts bundle")

// Format selects the decoder for a facts document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var strictJSON = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	DisallowUnknownFields:  true,
}.Froze()

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("threat_level", func(fl validator.FieldLevel) bool {
		return schemas.ThreatLevel(fl.Field().String()).Normalize() != schemas.ThreatUnknown
	})
	return v
}

// FormatFromPath picks JSON for .json files and YAML for everything else.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Load reads, decodes and validates the bundle at path.
func Load(path string) (*schemas.FactBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading facts file: %w", err)
	}
	return Parse(data, FormatFromPath(path))
}

// Decode reads a bundle from r. Used for request bodies.
func Decode(r io.Reader, format Format) (*schemas.FactBundle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error reading facts: %w", err)
	}
	return Parse(data, format)
}

// Parse decodes data in the given format. Unknown fields are rejected so a
// misspelled signal is not silently treated as absent.
func Parse(data []byte, format Format) (*schemas.FactBundle, error) {
	var bundle schemas.FactBundle
	switch format {
	case FormatJSON:
		if err := strictJSON.Unmarshal(data, &bundle); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFacts, err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&bundle); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFacts, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrInvalidFacts, format)
	}

	if err := Validate(&bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}

// Validate checks struct constraints and normalizes threat levels in place.
func Validate(bundle *schemas.FactBundle) error {
	if err := validate.Struct(bundle); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidFacts, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidFacts, err)
	}
	normalize(bundle)
	return nil
}

func normalize(b *schemas.FactBundle) {
	if b.Network != nil {
		b.Network.ExternalTI = b.Network.ExternalTI.Normalize()
	}
	if b.Device != nil {
		b.Device.ExternalTI = b.Device.ExternalTI.Normalize()
	}
	if b.Location != nil {
		b.Location.ExternalTI = b.Location.ExternalTI.Normalize()
	}
	if b.Auth != nil {
		b.Auth.ExternalTI = b.Auth.ExternalTI.Normalize()
	}
}
