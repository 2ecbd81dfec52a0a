// Package parfile reads and writes parameter records made of one
// "(Key value ...)" directive per line, the format used for registration
// parameter files and stored transforms.
//
//	// comment
//	(SplineKernelType "ThinPlateSpline")
//	(FixedImageLandmarks 1 2 3 4.5)
//
// String values are double quoted and written as is, without escapes, so
// they cannot contain a double quote; numbers are bare.
package parfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"splinekt/internal/apperr"
)

// Value is one token of a directive.
type Value struct {
	Text   string
	Quoted bool
}

func (v Value) String() string {
	if v.Quoted {
		return `"` + v.Text + `"`
	}
	return v.Text
}

// Entry is a directive, or a comment/blank line when Key is empty.
type Entry struct {
	Key     string
	Values  []Value
	Comment string
}

// Record is an ordered list of directives. Later directives with the same
// key replace earlier ones on lookup.
type Record struct {
	entries []Entry
}

// New returns an empty record.
func New() *Record {
	return &Record{}
}

// Entries returns the entries in order.
func (r *Record) Entries() []Entry {
	return r.entries
}

// Keys returns the directive keys in order of first appearance.
func (r *Record) Keys() []string {
	seen := make(map[string]bool)
	var keys []string
	for _, e := range r.entries {
		if e.Key != "" && !seen[e.Key] {
			seen[e.Key] = true
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// Comment appends a comment line. An empty text appends a blank line.
func (r *Record) Comment(text string) {
	r.entries = append(r.entries, Entry{Comment: text})
}

// Set replaces the directive for key in place, or appends it.
func (r *Record) Set(key string, values ...Value) {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Key == key {
			r.entries[i].Values = values
			return
		}
	}
	r.entries = append(r.entries, Entry{Key: key, Values: values})
}

// SetString sets quoted string values.
func (r *Record) SetString(key string, values ...string) {
	vs := make([]Value, len(values))
	for i, s := range values {
		vs[i] = Value{Text: s, Quoted: true}
	}
	r.Set(key, vs...)
}

// SetFloat sets real values in shortest round-trip form.
func (r *Record) SetFloat(key string, values ...float64) {
	vs := make([]Value, len(values))
	for i, v := range values {
		vs[i] = Value{Text: FormatFloat(v)}
	}
	r.Set(key, vs...)
}

// SetInt sets integer values.
func (r *Record) SetInt(key string, values ...int) {
	vs := make([]Value, len(values))
	for i, v := range values {
		vs[i] = Value{Text: strconv.Itoa(v)}
	}
	r.Set(key, vs...)
}

// Append copies every entry of other to the end of r.
func (r *Record) Append(other *Record) {
	for _, e := range other.entries {
		if e.Key == "" {
			r.entries = append(r.entries, e)
			continue
		}
		r.Set(e.Key, e.Values...)
	}
}

// Lookup returns the values of the last directive named key.
func (r *Record) Lookup(key string) ([]Value, bool) {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Key == key {
			return r.entries[i].Values, true
		}
	}
	return nil, false
}

// Has reports whether key is present.
func (r *Record) Has(key string) bool {
	_, ok := r.Lookup(key)
	return ok
}

// Get returns the first value of key.
func (r *Record) Get(key string) (string, bool) {
	values, ok := r.Lookup(key)
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0].Text, true
}

// Float parses the first value of key. ok is false when the key is absent.
func (r *Record) Float(key string) (value float64, ok bool, err error) {
	s, ok := r.Get(key)
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, true, apperr.New("parfile.Float", apperr.KindConfiguration, s, "%s is not a real number", key)
	}
	return v, true, nil
}

// Int parses the first value of key as a non-negative integer.
func (r *Record) Int(key string) (value int, ok bool, err error) {
	s, ok := r.Get(key)
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(s, 10, 31)
	if err != nil {
		return 0, true, apperr.New("parfile.Int", apperr.KindConfiguration, s, "%s is not an unsigned integer", key)
	}
	return int(v), true, nil
}

// Floats parses every value of key.
func (r *Record) Floats(key string) ([]float64, bool, error) {
	values, ok := r.Lookup(key)
	if !ok {
		return nil, false, nil
	}
	out := make([]float64, len(values))
	for i, v := range values {
		f, err := strconv.ParseFloat(v.Text, 64)
		if err != nil {
			return nil, true, apperr.New("parfile.Floats", apperr.KindConfiguration, v.Text,
				"%s value %d is not a real number", key, i)
		}
		out[i] = f
	}
	return out, true, nil
}

// FormatFloat formats v so that parsing it yields exactly v.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ReadFile parses the record stored at path.
func ReadFile(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &apperr.Error{Op: "parfile.ReadFile", Kind: apperr.KindConfiguration, Value: path, Err: err}
	}
	defer f.Close()
	rec, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

// Parse reads a record.
func Parse(rd io.Reader) (*Record, error) {
	const op = "parfile.Parse"
	rec := New()
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			rec.Comment("")
			continue
		case strings.HasPrefix(line, "//"):
			rec.Comment(strings.TrimSpace(strings.TrimPrefix(line, "//")))
			continue
		}
		key, values, err := parseDirective(line)
		if err != nil {
			return nil, apperr.New(op, apperr.KindFileFormat, line, "line %d: %v", lineNo, err)
		}
		rec.entries = append(rec.entries, Entry{Key: key, Values: values})
	}
	if err := sc.Err(); err != nil {
		return nil, &apperr.Error{Op: op, Kind: apperr.KindFileFormat, Err: err}
	}
	return rec, nil
}

func parseDirective(line string) (string, []Value, error) {
	if !strings.HasPrefix(line, "(") {
		return "", nil, fmt.Errorf("directive must start with '('")
	}
	var tokens []Value
	i := 1
	closed := false
	for i < len(line) && !closed {
		c := line[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == ')':
			closed = true
			i++
		case c == '"':
			end := strings.IndexByte(line[i+1:], '"')
			if end < 0 {
				return "", nil, fmt.Errorf("unterminated string")
			}
			tokens = append(tokens, Value{Text: line[i+1 : i+1+end], Quoted: true})
			i += end + 2
		default:
			start := i
			for i < len(line) && line[i] != ' ' && line[i] != '\t' && line[i] != ')' && line[i] != '"' {
				i++
			}
			tokens = append(tokens, Value{Text: line[start:i]})
		}
	}
	if !closed {
		return "", nil, fmt.Errorf("directive must end with ')'")
	}
	if rest := strings.TrimSpace(line[i:]); rest != "" && !strings.HasPrefix(rest, "//") {
		return "", nil, fmt.Errorf("unexpected text after directive: %q", rest)
	}
	if len(tokens) == 0 || tokens[0].Quoted {
		return "", nil, fmt.Errorf("directive has no key")
	}
	return tokens[0].Text, tokens[1:], nil
}

// Write emits the record, one entry per line.
func (r *Record) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, e := range r.entries {
		if e.Key == "" {
			if e.Comment != "" {
				bw.WriteString("// " + e.Comment)
			}
			bw.WriteByte('\n')
			continue
		}
		bw.WriteByte('(')
		bw.WriteString(e.Key)
		for _, v := range e.Values {
			if v.Quoted && strings.ContainsRune(v.Text, '"') {
				return apperr.New("parfile.Write", apperr.KindConfiguration, v.Text,
					"value of %s contains a double quote", e.Key)
			}
			bw.WriteByte(' ')
			bw.WriteString(v.String())
		}
		bw.WriteString(")\n")
	}
	return bw.Flush()
}

// Text returns the record as written by Write.
func (r *Record) Text() string {
	var sb strings.Builder
	_ = r.Write(&sb)
	return sb.String()
}

// WriteFile writes the record to path.
func (r *Record) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
