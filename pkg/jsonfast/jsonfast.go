/*
Package jsonfast offers a minimal JSON builder optimized for low-allocation encoding paths.
*/
package jsonfast

import (
	"time"
	"unicode/utf8"
)

// Builder is a minimal JSON builder that operates on a reusable byte slice.
// It appends directly into the buffer and only supports flat objects with
// scalar, string-array and ordered int-map fields.
type Builder struct {
	buf    []byte
	opened bool
	first  bool
}

// IntEntry is one key of an ordered "name":{"key":int,...} object
type IntEntry struct {
	Key   string
	Value int
}

// New creates a new builder with initial capacity.
func New(capacity int) *Builder {
	if capacity <= 0 {
		capacity = 256
	}
	return &Builder{
		buf:   make([]byte, 0, capacity),
		first: true,
	}
}

// Reset clears the builder for reuse.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.opened = false
	b.first = true
}

// Bytes returns the underlying buffer (do not modify after use).
func (b *Builder) Bytes() []byte {
	return b.buf
}

// BeginObject starts a JSON object.
func (b *Builder) BeginObject() {
	b.buf = append(b.buf, '{')
	b.opened = true
	b.first = true
}

// EndObject ends a JSON object.
func (b *Builder) EndObject() {
	b.buf = append(b.buf, '}')
	b.opened = false
}

// AddStringField adds a "name":"value" string field with escaping.
func (b *Builder) AddStringField(name, value string) {
	b.key(name)
	b.quoted(value)
}

// AddIntField adds a "name":int field.
func (b *Builder) AddIntField(name string, v int) {
	b.key(name)
	b.buf = append(b.buf, itoa(v)...)
}

// AddStringArrayField adds a "name":["a","b"] field. A nil slice encodes as [].
func (b *Builder) AddStringArrayField(name string, values []string) {
	b.key(name)
	b.buf = append(b.buf, '[')
	for i, v := range values {
		if i > 0 {
			b.buf = append(b.buf, ',')
		}
		b.quoted(v)
	}
	b.buf = append(b.buf, ']')
}

// AddIntMapField adds a "name":{"k1":1,"k2":2} field preserving entry order.
func (b *Builder) AddIntMapField(name string, entries []IntEntry) {
	b.key(name)
	b.buf = append(b.buf, '{')
	for i, e := range entries {
		if i > 0 {
			b.buf = append(b.buf, ',')
		}
		b.quoted(e.Key)
		b.buf = append(b.buf, ':')
		b.buf = append(b.buf, itoa(e.Value)...)
	}
	b.buf = append(b.buf, '}')
}

// AddTimeRFC3339Field adds a "name":"RFC3339" field in UTC without using time.Format.
func (b *Builder) AddTimeRFC3339Field(name string, t time.Time) {
	b.key(name)
	b.buf = append(b.buf, '"')
	t = t.UTC()
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()
	b.append4(year)
	b.buf = append(b.buf, '-')
	b.append2(int(month))
	b.buf = append(b.buf, '-')
	b.append2(day)
	b.buf = append(b.buf, 'T')
	b.append2(hour)
	b.buf = append(b.buf, ':')
	b.append2(minute)
	b.buf = append(b.buf, ':')
	b.append2(sec)
	b.buf = append(b.buf, 'Z', '"')
}

func (b *Builder) key(name string) {
	b.sep()
	b.quoted(name)
	b.buf = append(b.buf, ':')
}

func (b *Builder) quoted(s string) {
	b.buf = append(b.buf, '"')
	b.escapeString(s)
	b.buf = append(b.buf, '"')
}

func (b *Builder) sep() {
	if !b.opened {
		b.BeginObject()
		b.first = false
		return
	}
	if b.first {
		b.first = false
		return
	}
	b.buf = append(b.buf, ',')
}

// escapeString escapes JSON special characters. Invalid UTF-8 bytes become U+FFFD.
func (b *Builder) escapeString(s string) {
	for i := 0; i < len(s); {
		c := s[i]
		if c >= utf8.RuneSelf {
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				b.buf = append(b.buf, `\ufffd`...)
			} else {
				b.buf = append(b.buf, s[i:i+size]...)
			}
			i += size
			continue
		}
		switch c {
		case '\\', '"':
			b.buf = append(b.buf, '\\', c)
		case '\n':
			b.buf = append(b.buf, '\\', 'n')
		case '\r':
			b.buf = append(b.buf, '\\', 'r')
		case '\t':
			b.buf = append(b.buf, '\\', 't')
		default:
			if c < 0x20 {
				b.buf = append(b.buf, '\\', 'u', '0', '0', hex[c>>4], hex[c&0x0f])
			} else {
				b.buf = append(b.buf, c)
			}
		}
		i++
	}
}

func (b *Builder) append2(v int) {
	b.buf = append(b.buf, byte('0'+(v/10)%10), byte('0'+v%10))
}

func (b *Builder) append4(v int) {
	b.buf = append(b.buf,
		byte('0'+(v/1000)%10),
		byte('0'+(v/100)%10),
		byte('0'+(v/10)%10),
		byte('0'+v%10),
	)
}

// itoa converts an int to ascii.
func itoa(x int) []byte {
	if x == 0 {
		return []byte{'0'}
	}
	var tmp [20]byte
	i := len(tmp)
	neg := x < 0
	u := uint64(x) // #nosec G115 - sign handled below
	if neg {
		u = uint64(-x) // #nosec G115
	}
	for u > 0 {
		i--
		tmp[i] = byte('0' + u%10)
		u /= 10
	}
	if neg {
		i--
		tmp[i] = '-'
	}
	return tmp[i:]
}

var hex = "0123456789abcdef"
