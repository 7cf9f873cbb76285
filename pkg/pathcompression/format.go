package pathcompression

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulschiretz/pgl-dayback/pkg/util"
)

// Format is the archive format a sealed day folder is packed into.
type Format string

const (
	Zip    Format = "zip"
	TarGz  Format = "tar.gz"
	TarZst Format = "tar.zst"
)

var formatToString = map[Format]string{
	Zip:    "zip",
	TarGz:  "tar.gz",
	TarZst: "tar.zst",
}

var stringToFormat map[string]Format

func init() {
	stringToFormat = util.InvertMap(formatToString)
}

func (f Format) String() string {
	if str, ok := formatToString[f]; ok {
		return str
	}
	return fmt.Sprintf("unknown_compression_format(%s)", string(f))
}

// Extension returns the file suffix including the leading dot, e.g. ".tar.zst".
func (f Format) Extension() string {
	return "." + f.String()
}

// ParseFormat accepts the format names case-insensitively, with or without a
// leading dot.
func ParseFormat(s string) (Format, error) {
	key := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
	if format, ok := stringToFormat[key]; ok {
		return format, nil
	}
	return "", fmt.Errorf("invalid compression format: %q. Must be 'zip', 'tar.gz', or 'tar.zst'", s)
}

func (f Format) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *Format) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("compression format should be a string, got %s", data)
	}
	format, err := ParseFormat(s)
	if err != nil {
		return err
	}
	*f = format
	return nil
}
