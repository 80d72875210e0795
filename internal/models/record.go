package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Missing is the literal value of a field no candidate could resolve.
const Missing = "N/A"

// TimestampLayout formats scraped_at.
const TimestampLayout = "2006-01-02 15:04:05"

const (
	KeyIndex     = "index"
	KeyScrapedAt = "scraped_at"
)

type Field struct {
	Key   string
	Value string
}

// Record is one harvested listing. Fields keep schema order; Index is the
// 1-based discovery position of the listing it came from.
type Record struct {
	Index     int
	ScrapedAt time.Time
	Fields    []Field
}

func NewRecord(index int, scrapedAt time.Time, capacity int) *Record {
	return &Record{
		Index:     index,
		ScrapedAt: scrapedAt,
		Fields:    make([]Field, 0, capacity),
	}
}

// Set appends key or overwrites it in place.
func (r *Record) Set(key, value string) {
	for i := range r.Fields {
		if r.Fields[i].Key == key {
			r.Fields[i].Value = value
			return
		}
	}
	r.Fields = append(r.Fields, Field{Key: key, Value: value})
}

func (r *Record) Get(key string) (string, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Has reports whether key holds a real value.
func (r *Record) Has(key string) bool {
	v, ok := r.Get(key)
	return ok && v != "" && v != Missing
}

// Keys returns index, the field keys in order, then scraped_at.
func (r *Record) Keys() []string {
	keys := make([]string, 0, len(r.Fields)+2)
	keys = append(keys, KeyIndex)
	for _, f := range r.Fields {
		keys = append(keys, f.Key)
	}
	return append(keys, KeyScrapedAt)
}

// Values lines up with Keys.
func (r *Record) Values() []string {
	values := make([]string, 0, len(r.Fields)+2)
	values = append(values, strconv.Itoa(r.Index))
	for _, f := range r.Fields {
		values = append(values, f.Value)
	}
	return append(values, r.ScrapedAt.Format(TimestampLayout))
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"index":`)
	buf.WriteString(strconv.Itoa(r.Index))
	for _, f := range r.Fields {
		if err := writeMember(&buf, f.Key, f.Value); err != nil {
			return nil, err
		}
	}
	if err := writeMember(&buf, KeyScrapedAt, r.ScrapedAt.Format(TimestampLayout)); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, key, value string) error {
	k, err := jsonString(key)
	if err != nil {
		return err
	}
	v, err := jsonString(value)
	if err != nil {
		return err
	}
	buf.WriteByte(',')
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

// jsonString quotes s without HTML escaping; listing text often holds '&'.
func jsonString(s string) ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimRight(b.Bytes(), "\n"), nil
}

// UnmarshalJSON reads an object in the MarshalJSON shape, keeping member
// order. Non-string field values are kept as their raw JSON text.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("record: expected object, got %v", tok)
	}

	out := Record{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("record: member %q: %w", key, err)
		}

		switch key {
		case KeyIndex:
			if err := json.Unmarshal(raw, &out.Index); err != nil {
				return fmt.Errorf("record: index: %w", err)
			}
		case KeyScrapedAt:
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("record: scraped_at: %w", err)
			}
			ts, err := time.ParseInLocation(TimestampLayout, s, time.Local)
			if err != nil {
				return fmt.Errorf("record: scraped_at: %w", err)
			}
			out.ScrapedAt = ts
		default:
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				s = string(raw)
			}
			out.Fields = append(out.Fields, Field{Key: key, Value: s})
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = out
	return nil
}

// Summary counts what a harvest produced.
type Summary struct {
	Total       int `json:"total"`
	WithPhone   int `json:"with_phone"`
	WithWebsite int `json:"with_website"`
}

func Summarize(records []*Record) Summary {
	s := Summary{Total: len(records)}
	for _, r := range records {
		if r.Has("phone") {
			s.WithPhone++
		}
		if r.Has("website") {
			s.WithWebsite++
		}
	}
	return s
}
