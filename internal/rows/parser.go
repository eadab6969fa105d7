// Package rows reads the semicolon-delimited user table into raw rows.
package rows

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/devplatform/directory-sync/internal/models"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	DefaultDelimiter = ";"
	DefaultComment   = "#"
	quote            = `"`
)

// Options controls how a table is read
type Options struct {
	Mode      models.Mode
	Delimiter string
	Comment   string
	// ClearValue is the update-mode sentinel meaning "blank this field"
	ClearValue string
	// Required overrides the required header; nil uses models.RequiredColumns
	Required []string
	// Optional overrides the optional columns; nil uses models.OptionalColumns
	Optional []string
}

func (o Options) withDefaults() Options {
	if o.Delimiter == "" {
		o.Delimiter = DefaultDelimiter
	}
	if o.Comment == "" {
		o.Comment = DefaultComment
	}
	if o.Required == nil {
		o.Required = models.RequiredColumns
	}
	if o.Optional == nil {
		o.Optional = models.OptionalColumns
	}
	return o
}

// FileFormatError aborts a whole file before any row is used
type FileFormatError struct {
	Line    int
	Reason  string
	Missing []string
	Unknown []string
}

func (e *FileFormatError) Error() string {
	msg := fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	if len(e.Missing) > 0 {
		msg += "; missing columns: " + strings.Join(e.Missing, ", ")
	}
	if len(e.Unknown) > 0 {
		msg += "; unknown columns: " + strings.Join(e.Unknown, ", ")
	}
	return msg
}

// ParseFile opens path and parses it
func ParseFile(path string, opts Options) ([]models.RawRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f, opts)
}

// Parse reads a header line and every data line of a table.
// Input may be UTF-8 with or without BOM, or UTF-16 with BOM.
func Parse(r io.Reader, opts Options) ([]models.RawRow, error) {
	opts = opts.withDefaults()

	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	scanner := bufio.NewScanner(decoded)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		header []string
		rows   []models.RawRow
		lineNo int
	)

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, opts.Comment) {
			continue
		}

		if header == nil {
			h, err := parseHeader(line, lineNo, opts)
			if err != nil {
				return nil, err
			}
			header = h
			continue
		}

		fields := strings.Split(line, opts.Delimiter)
		if len(fields) != len(header) {
			return nil, &FileFormatError{
				Line: lineNo,
				Reason: fmt.Sprintf("expected %d fields, got %d (a value may contain %q)",
					len(header), len(fields), opts.Delimiter),
			}
		}

		row := models.RawRow{
			Line:    lineNo,
			Columns: header,
			Values:  make(map[string]string, len(header)),
		}
		for i, column := range header {
			row.Values[column] = cleanValue(fields[i], opts)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	if header == nil {
		return nil, &FileFormatError{Line: lineNo, Reason: "header line is missing"}
	}
	return rows, nil
}

func parseHeader(line string, lineNo int, opts Options) ([]string, error) {
	allowed := make(map[string]bool, len(opts.Required)+len(opts.Optional))
	for _, c := range opts.Required {
		allowed[c] = true
	}
	for _, c := range opts.Optional {
		allowed[c] = false
	}

	var (
		header  []string
		unknown []string
		seen    = make(map[string]bool)
	)
	for _, token := range strings.Split(line, opts.Delimiter) {
		column := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(token, quote, "")))
		if _, ok := allowed[column]; !ok {
			unknown = append(unknown, column)
			continue
		}
		if seen[column] {
			return nil, &FileFormatError{Line: lineNo, Reason: fmt.Sprintf("duplicate column %q", column)}
		}
		seen[column] = true
		header = append(header, column)
	}

	var missing []string
	for _, c := range opts.Required {
		if !seen[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 || len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &FileFormatError{
			Line:    lineNo,
			Reason:  "header does not match the required column set",
			Missing: missing,
			Unknown: unknown,
		}
	}
	return header, nil
}

// cleanValue trims a field, strips one enclosing pair of quotes and maps the clear sentinel
func cleanValue(raw string, opts Options) string {
	v := strings.TrimSpace(raw)
	if len(v) >= 2 && strings.HasPrefix(v, quote) && strings.HasSuffix(v, quote) && strings.Count(v, quote) == 2 {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	v = norm.NFC.String(v)
	if opts.Mode == models.ModeUpdate && opts.ClearValue != "" && v == opts.ClearValue {
		return models.ClearedValue
	}
	return v
}
