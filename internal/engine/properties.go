package engine

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/pingcap/tidb/pkg/parser/charset"
	"github.com/pingcap/tidb/pkg/parser/mysql"
)

// Property keys understood by the engine.
const (
	PropCharset               = "charset"
	PropCollation             = "collation"
	PropSQLMode               = "sql_mode"
	PropWindowFunctions       = "window_functions"
	PropStrictDoubleTypeCheck = "strict_double_type_check"
	PropAllowDestructive      = "allow_destructive"
	PropCompression           = "compression"
)

// Properties holds the string key-value options passed to every compilation.
type Properties map[string]string

// DefaultProperties returns a fresh copy of the engine defaults.
func DefaultProperties() Properties {
	return Properties{
		PropCharset:               mysql.DefaultCharset,
		PropCollation:             mysql.DefaultCollationName,
		PropSQLMode:               "",
		PropWindowFunctions:       "true",
		PropStrictDoubleTypeCheck: "true",
		PropAllowDestructive:      "true",
		PropCompression:           string(CompressionZstd),
	}
}

// Merge returns a new Properties where keys present in override replace the
// values in p. Neither p nor override is modified.
func (p Properties) Merge(override map[string]string) Properties {
	out := make(Properties, len(p)+len(override))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Keys returns the property names in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Validate reports the first property value the engine cannot use.
func (p Properties) Validate() error {
	_, err := p.settings()
	return err
}

type settings struct {
	charset               string
	collation             string
	sqlMode               mysql.SQLMode
	windowFunctions       bool
	strictDoubleTypeCheck bool
	allowDestructive      bool
	compression           Compression
}

func (p Properties) settings() (settings, error) {
	s := settings{
		charset:   strings.ToLower(strings.TrimSpace(p[PropCharset])),
		collation: strings.ToLower(strings.TrimSpace(p[PropCollation])),
	}

	if s.charset != "" {
		if _, err := charset.GetCharsetInfo(s.charset); err != nil {
			return s, fmt.Errorf("engine: property %s: %w", PropCharset, err)
		}
	}
	if s.collation != "" {
		coll, err := charset.GetCollationByName(s.collation)
		if err != nil {
			return s, fmt.Errorf("engine: property %s: %w", PropCollation, err)
		}
		if s.charset != "" && !strings.EqualFold(coll.CharsetName, s.charset) {
			return s, fmt.Errorf("engine: collation %q does not belong to charset %q", s.collation, s.charset)
		}
	}

	mode, err := mysql.GetSQLMode(p[PropSQLMode])
	if err != nil {
		return s, fmt.Errorf("engine: property %s: %w", PropSQLMode, err)
	}
	s.sqlMode = mode

	bools := []struct {
		key string
		dst *bool
	}{
		{PropWindowFunctions, &s.windowFunctions},
		{PropStrictDoubleTypeCheck, &s.strictDoubleTypeCheck},
		{PropAllowDestructive, &s.allowDestructive},
	}
	for _, b := range bools {
		raw, ok := p[b.key]
		if !ok || strings.TrimSpace(raw) == "" {
			*b.dst = DefaultProperties()[b.key] == "true"
			continue
		}
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return s, fmt.Errorf("engine: property %s: invalid boolean %q", b.key, raw)
		}
		*b.dst = v
	}

	c, err := ParseCompression(p[PropCompression])
	if err != nil {
		return s, err
	}
	s.compression = c

	return s, nil
}
