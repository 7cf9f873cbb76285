package hashing

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/paulschiretz/pgl-dayback/pkg/util"
	"github.com/zeebo/xxh3"
)

// ErrUnsupportedMethod is returned for hash method names we do not know.
var ErrUnsupportedMethod = errors.New("unsupported hash method")

// Method names a content hash algorithm.
type Method string

const (
	MD5    Method = "md5"
	SHA1   Method = "sha1"
	SHA224 Method = "sha224"
	SHA256 Method = "sha256"
	SHA384 Method = "sha384"
	SHA512 Method = "sha512"
	XXH3   Method = "xxh3"
)

var methodToString = map[Method]string{
	MD5:    "md5",
	SHA1:   "sha1",
	SHA224: "sha224",
	SHA256: "sha256",
	SHA384: "sha384",
	SHA512: "sha512",
	XXH3:   "xxh3",
}

var stringToMethod map[string]Method

func init() {
	stringToMethod = util.InvertMap(methodToString)
}

func (m Method) String() string {
	if str, ok := methodToString[m]; ok {
		return str
	}
	return fmt.Sprintf("unknown_hash_method(%s)", string(m))
}

// ParseMethod parses a method name case-insensitively. Dashes are ignored so
// that "SHA-256" and "sha256" are the same method.
func ParseMethod(s string) (Method, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "")
	if m, ok := stringToMethod[key]; ok {
		return m, nil
	}
	return "", fmt.Errorf("%w: %q. Must be one of md5, sha1, sha224, sha256, sha384, sha512, xxh3", ErrUnsupportedMethod, s)
}

// New returns a fresh hash.Hash for the method.
func (m Method) New() hash.Hash {
	switch m {
	case SHA1:
		return sha1.New()
	case SHA224:
		return sha256.New224()
	case SHA256:
		return sha256.New()
	case SHA384:
		return sha512.New384()
	case SHA512:
		return sha512.New()
	case XXH3:
		return &xxh3Hash128{Hasher: xxh3.New()}
	default:
		return md5.New()
	}
}

// MarshalJSON implements the json.Marshaler interface for Method.
func (m Method) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Method.
func (m *Method) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("hash method should be a string, got %s", data)
	}
	method, err := ParseMethod(s)
	if err != nil {
		return err
	}
	*m = method
	return nil
}

// xxh3Hash128 exposes the 128 bit XXH3 digest through hash.Hash.
type xxh3Hash128 struct {
	*xxh3.Hasher
}

func (h *xxh3Hash128) Sum(b []byte) []byte {
	sum := h.Sum128().Bytes()
	return append(b, sum[:]...)
}

func (h *xxh3Hash128) Size() int { return 16 }
