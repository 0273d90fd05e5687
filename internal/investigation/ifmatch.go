package investigation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseExpectedVersion converts an If-Match style token into an expected
// version. Accepted forms are a bare or quoted integer string, an optional
// weak validator prefix (W/"3"), or an integral number from a decoded JSON
// body. An empty token, "*" or nil means no expectation and yields nil.
func ParseExpectedVersion(token any) (*int64, error) {
	switch v := token.(type) {
	case nil:
		return nil, nil
	case int:
		return positive(int64(v), token)
	case int64:
		return positive(v, token)
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidVersionToken, token)
		}
		return positive(int64(v), token)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidVersionToken, v.String())
		}
		return positive(n, token)
	case string:
		return parseVersionString(v)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidVersionToken, token)
	}
}

func parseVersionString(raw string) (*int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "*" {
		return nil, nil
	}
	s = strings.TrimPrefix(s, "W/")
	s = strings.Trim(s, `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVersionToken, raw)
	}
	return positive(n, raw)
}

func positive(n int64, token any) (*int64, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVersionToken, token)
	}
	return &n, nil
}

// FormatETag renders a version as a strong entity tag.
func FormatETag(version int64) string {
	return strconv.Quote(strconv.FormatInt(version, 10))
}
