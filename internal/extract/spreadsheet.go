package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/spherical-ai/finsight/internal/domain"
)

var zipMagic = []byte("PK\x03\x04")

// Spreadsheet renders every sheet of a workbook into a summary text: each
// sheet headed by its name, one line per non-empty row, cells tab-separated.
type Spreadsheet struct {
	// MaxRows caps the rows rendered per sheet. Zero means no cap.
	MaxRows int
}

func (s Spreadsheet) ExtractText(ctx context.Context, a domain.Artifact) (string, error) {
	data, err := a.Bytes(ctx)
	if err != nil {
		return "", domain.ExtractionError("read artifact", err)
	}
	if !bytes.HasPrefix(data, zipMagic) {
		return "", domain.UnsupportedFormatError(a.Filename()+" is not an OOXML workbook", nil)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", domain.ExtractionError("open workbook", err)
	}
	defer f.Close()

	return s.summarize(f)
}

func (s Spreadsheet) summarize(f *excelize.File) (string, error) {
	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", domain.ExtractionError("read sheet "+sheet, err)
		}

		fmt.Fprintf(&sb, "Sheet: %s\n", sheet)
		written := 0
		for i, row := range rows {
			if s.MaxRows > 0 && written >= s.MaxRows {
				fmt.Fprintf(&sb, "... %d more rows\n", len(rows)-i)
				break
			}
			line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
			if line == "" {
				continue
			}
			sb.WriteString(line)
			sb.WriteByte('\n')
			written++
		}
		sb.WriteByte('\n')
	}
	return strings.TrimSpace(sb.String()), nil
}
