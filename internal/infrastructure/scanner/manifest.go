package scanner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// ManifestSuffix is appended to a data file's full name to locate its sidecar.
const ManifestSuffix = ".json"

// FlexString accepts both JSON strings and numbers. Collectors write shop ids
// either way depending on platform.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(data))
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return fmt.Errorf("invalid number %q: %w", n.String(), err)
	}
	*s = FlexString(n.String())
	return nil
}

// String returns the value, or "" for a key the manifest does not carry
func (s *FlexString) String() string {
	if s == nil {
		return ""
	}
	return string(*s)
}

// Manifest is the sidecar JSON written next to a collected file as
// <file>.json. When it carries the platform, shop_id and data_type keys it
// is authoritative; the keys may hold empty values.
type Manifest struct {
	Platform     *FlexString `json:"platform" validate:"required"`
	AccountLabel FlexString  `json:"account_label"`
	ShopName     FlexString  `json:"shop_name"`
	ShopID       *FlexString `json:"shop_id" validate:"required"`
	Region       FlexString  `json:"region"`
	DataType     *FlexString `json:"data_type" validate:"required"`
	SubType      FlexString  `json:"subtype"`
	Granularity  FlexString  `json:"granularity"`
	StartDate    FlexString  `json:"start_date"`
	EndDate      FlexString  `json:"end_date"`
	ExportedAt   FlexString  `json:"exported_at"`
}

// ManifestPath returns the sidecar location for a data file.
func ManifestPath(dataFile string) string {
	return dataFile + ManifestSuffix
}

// errNoManifest means the sidecar does not exist, which is not a failure.
var errNoManifest = errors.New("no manifest")

// readManifest loads and validates the sidecar of dataFile.
// It returns errNoManifest when no sidecar is present.
func readManifest(v *validator.Validate, dataFile string) (*Manifest, error) {
	raw, err := os.ReadFile(ManifestPath(dataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errNoManifest
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := v.Struct(&m); err != nil {
		return nil, fmt.Errorf("incomplete manifest: %w", err)
	}
	return &m, nil
}
