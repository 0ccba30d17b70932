// Package attributes maps warehouse rows to profile attribute records.
package attributes

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/batchsync/pkg/errors"
	"github.com/ajitpratap0/batchsync/pkg/source"
)

// Record is one profile update: the customer identifier and its attributes.
type Record struct {
	CustomID   string
	Attributes map[string]any
}

// Options configures a Mapper. Field lists are matched case-insensitively.
type Options struct {
	IDColumn   string
	DateFields []string
	URLFields  []string
}

type column struct {
	index int
	key   string
}

// Mapper converts rows of one schema. The ID column and every output key are
// resolved once, when the mapper is built.
type Mapper struct {
	idIndex int
	columns []column
}

// NewMapper plans the mapping of schema.
func NewMapper(schema source.Schema, opts Options) (*Mapper, error) {
	id, ok := schema.Resolve(opts.IDColumn)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"Error: ID column '%s' not found in columns: %s", opts.IDColumn, schema)
	}

	dates := upperSet(opts.DateFields)
	urls := upperSet(opts.URLFields)

	m := &Mapper{idIndex: -1}
	for i, name := range schema.Columns {
		if name == id && m.idIndex < 0 {
			m.idIndex = i
			continue
		}
		if source.IsMetadataColumn(name) {
			continue
		}
		m.columns = append(m.columns, column{index: i, key: Key(name, dates, urls)})
	}
	return m, nil
}

// Key returns the attribute key for a column: the lower-cased name, wrapped
// as date(...) or url(...) when the upper-cased name is in the given set.
func Key(name string, dates, urls map[string]struct{}) string {
	lower := strings.ToLower(name)
	upper := strings.ToUpper(name)
	if _, ok := dates[upper]; ok {
		return "date(" + lower + ")"
	}
	if _, ok := urls[upper]; ok {
		return "url(" + lower + ")"
	}
	return lower
}

// Map builds the record for row. A missing or non-scalar identifier is a
// row processing error.
func (m *Mapper) Map(row source.Row) (Record, error) {
	if m.idIndex >= len(row.Values) {
		return Record{}, errors.Newf(errors.ErrorTypeRowProcessing,
			"row has %d values, expected at least %d", len(row.Values), m.idIndex+1)
	}
	customID, err := identifier(row.Values[m.idIndex])
	if err != nil {
		return Record{}, err
	}

	attrs := make(map[string]any, len(m.columns))
	for _, c := range m.columns {
		if c.index >= len(row.Values) {
			continue
		}
		v := row.Values[c.index]
		if v == nil {
			continue
		}
		attrs[c.key] = v
	}
	return Record{CustomID: customID, Attributes: attrs}, nil
}

func identifier(v any) (string, error) {
	var s string
	switch tv := v.(type) {
	case nil:
		return "", errors.New(errors.ErrorTypeRowProcessing, "custom_id is null")
	case string:
		s = tv
	case []byte:
		s = string(tv)
	case int64:
		s = strconv.FormatInt(tv, 10)
	case int:
		s = strconv.Itoa(tv)
	case float64:
		s = strconv.FormatFloat(tv, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(tv)
	case time.Time:
		s = tv.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		s = tv.String()
	default:
		return "", errors.Newf(errors.ErrorTypeRowProcessing, "custom_id of type %T cannot be converted to a string", v)
	}
	if s == "" {
		return "", errors.New(errors.ErrorTypeRowProcessing, "custom_id is empty")
	}
	return s, nil
}

func upperSet(fields []string) map[string]struct{} {
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			set[strings.ToUpper(f)] = struct{}{}
		}
	}
	return set
}
