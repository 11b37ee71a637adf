package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// MaxFileSize — предельный размер файла импорта.
const MaxFileSize = 5 << 20

// Table — прочитанный файл: заголовок и строки данных.
type Table struct {
	Columns []string
	Rows    []Row
}

// Row — значения строки по имени колонки; пустая ячейка отсутствует в карте.
type Row map[string]string

// Cell возвращает непустое значение колонки.
func (r Row) Cell(column string) (string, bool) {
	v, ok := r[column]
	return v, ok
}

// CheckExtension допускает только .csv и .xlsx.
func CheckExtension(name string) error {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".xlsx":
		return nil
	default:
		return fmt.Errorf("%w: %q (допустимы .csv и .xlsx)", domain.ErrUnsupportedFile, filepath.Ext(name))
	}
}

// ReadTable читает CSV или первый лист XLSX; формат определяется по расширению name.
func ReadTable(name string, r io.Reader) (Table, error) {
	if err := CheckExtension(name); err != nil {
		return Table{}, err
	}

	var (
		records [][]string
		err     error
	)
	if strings.EqualFold(filepath.Ext(name), ".csv") {
		records, err = readCSV(r)
	} else {
		records, err = readXLSX(r)
	}
	if err != nil {
		return Table{}, err
	}
	if len(records) == 0 {
		return Table{}, errors.New("import file has no header row")
	}
	return buildTable(records), nil
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return records, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("xlsx has no sheets")
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read xlsx sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func buildTable(records [][]string) Table {
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	table := Table{Columns: header, Rows: make([]Row, 0, len(records)-1)}
	for _, record := range records[1:] {
		row := make(Row, len(header))
		blank := true
		for i, column := range header {
			if i >= len(record) || column == "" {
				continue
			}
			if v := strings.TrimSpace(record[i]); v != "" {
				row[column] = v
				blank = false
			}
		}
		if !blank {
			table.Rows = append(table.Rows, row)
		}
	}
	return table
}
