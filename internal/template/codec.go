package template

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"fieldconfig-backend/internal/fieldconfig"
)

var ErrInvalidUpload = errors.New("invalid template upload")

// Format selects an export encoding.
type Format string

const (
	FormatJSON        Format = "json"
	FormatYAML        Format = "yaml"
	FormatSpreadsheet Format = "spreadsheet"
)

func (f Format) Validate() error {
	return validation.Validate(string(f), validation.Required, validation.In("json", "yaml", "spreadsheet"))
}

// ContentType is the MIME type for an export.
func (f Format) ContentType() string {
	switch f {
	case FormatYAML:
		return "application/yaml"
	case FormatSpreadsheet:
		return "application/vnd.ms-excel"
	default:
		return "application/json"
	}
}

// ExportFilename names a download, e.g. OTM_Template_2024-03-01.json.
func ExportFilename(f Format, now time.Time) string {
	ext := "json"
	switch f {
	case FormatYAML:
		ext = "yaml"
	case FormatSpreadsheet:
		ext = "xls"
	}
	return fmt.Sprintf("OTM_Template_%s.%s", now.Format("2006-01-02"), ext)
}

// DecodeUpload parses a JSON array of descriptor-shaped objects. The result
// is validated and has invariants enforced; on error nothing is returned.
func DecodeUpload(r io.Reader) (fieldconfig.Sequence, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrInvalidUpload, err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("%w: expected a JSON array of fields", ErrInvalidUpload)
	}

	var seq fieldconfig.Sequence
	if err := json.Unmarshal(raw, &seq); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	if err := seq.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	return seq.Enforced(), nil
}

// Export writes seq to w in the given format.
func Export(w io.Writer, seq fieldconfig.Sequence, f Format) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("export format %q: %w", f, err)
	}
	switch f {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(seq); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case FormatSpreadsheet:
		return writeSpreadsheet(w, seq)
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if seq == nil {
			seq = fieldconfig.Sequence{}
		}
		return enc.Encode(seq)
	}
}

const spreadsheetNS = "urn:schemas-microsoft-com:office:spreadsheet"

type workbook struct {
	XMLName   xml.Name  `xml:"urn:schemas-microsoft-com:office:spreadsheet Workbook"`
	O         string    `xml:"xmlns:o,attr"`
	X         string    `xml:"xmlns:x,attr"`
	SS        string    `xml:"xmlns:ss,attr"`
	HTML      string    `xml:"xmlns:html,attr"`
	Worksheet worksheet `xml:"Worksheet"`
}

type worksheet struct {
	Name string `xml:"ss:Name,attr"`
	Rows []row  `xml:"Table>Row"`
}

type row struct {
	Cells []cell `xml:"Cell"`
}

type cell struct {
	Data cellData `xml:"Data"`
}

type cellData struct {
	Type  string `xml:"ss:Type,attr"`
	Value string `xml:",chardata"`
}

// writeSpreadsheet renders an Excel 2003 XML workbook: one header row of
// labels and one row of defaults, for displayed fields only.
func writeSpreadsheet(w io.Writer, seq fieldconfig.Sequence) error {
	var header, defaults row
	for _, d := range seq.Displayed() {
		header.Cells = append(header.Cells, cell{Data: cellData{Type: "String", Value: d.Label}})
		defaults.Cells = append(defaults.Cells, cell{Data: cellData{Type: "String", Value: d.Default.String()}})
	}
	wb := workbook{
		O:    "urn:schemas-microsoft-com:office:office",
		X:    "urn:schemas-microsoft-com:office:excel",
		SS:   spreadsheetNS,
		HTML: "http://www.w3.org/TR/REC-html40",
		Worksheet: worksheet{
			Name: "Invoice Template",
			Rows: []row{header, defaults},
		},
	}

	if _, err := io.WriteString(w, xml.Header+`<?mso-application progid="Excel.Sheet"?>`+"\n"); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", " ")
	if err := enc.Encode(wb); err != nil {
		return fmt.Errorf("encode spreadsheet: %w", err)
	}
	return enc.Flush()
}
