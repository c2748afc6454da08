package csvreader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/Krimson/fetal-health-classifier/predictor/internal/features"
)

// LabelColumn - колонка с разметкой в датасете, при чтении пропускается
const LabelColumn = "fetal_health"

// Record - одна строка CSV с признаками
type Record struct {
	Line     int
	Features features.FeatureVector
}

func ReadCSVFile(filename string) ([]Record, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file %s: %w", filename, err)
	}
	defer file.Close()

	records, err := Read(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return records, nil
}

// Read читает CSV, в заголовке которого перечислены все признаки (в любом порядке)
func Read(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("CSV has no header")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	columns, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var result []Record
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV data at line %d: %w", line, err)
		}

		fv := make(features.FeatureVector, features.Count())
		for i, name := range columns {
			if name == "" {
				continue
			}
			value, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid value for %s at line %d: %w", name, line, err)
			}
			fv[name] = value
		}

		result = append(result, Record{Line: line, Features: fv})
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("CSV has no data records")
	}
	return result, nil
}

// mapColumns сопоставляет колонкам имена признаков; пустое имя - колонка пропускается
func mapColumns(header []string) ([]string, error) {
	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))

	for i, raw := range header {
		name := strings.TrimSpace(raw)
		switch {
		case name == LabelColumn:
			continue
		case !features.Known(name):
			return nil, fmt.Errorf("unknown CSV column %q", name)
		case seen[name]:
			return nil, fmt.Errorf("duplicate CSV column %q", name)
		}
		seen[name] = true
		columns[i] = name
	}

	for _, name := range features.Names() {
		if !seen[name] {
			return nil, fmt.Errorf("CSV header is missing column %q", name)
		}
	}
	return columns, nil
}
