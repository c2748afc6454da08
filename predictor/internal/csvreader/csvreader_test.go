package csvreader

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/Krimson/fetal-health-classifier/predictor/internal/features"
)

// buildCSV собирает CSV из примера признаков; колонки в обратном порядке, с меткой в конце
func buildCSV(rows int) string {
	names := features.Names()
	example := features.Example()

	var header, values []string
	for i := len(names) - 1; i >= 0; i-- {
		header = append(header, names[i])
		values = append(values, strconv.FormatFloat(example[names[i]], 'f', -1, 64))
	}
	header = append(header, LabelColumn)
	values = append(values, "1.0")

	var b strings.Builder
	b.WriteString(strings.Join(header, ",") + "\n")
	for i := 0; i < rows; i++ {
		b.WriteString(strings.Join(values, ",") + "\n")
	}
	return b.String()
}

func TestRead_ReordersColumnsAndSkipsLabel(t *testing.T) {
	records, err := Read(strings.NewReader(buildCSV(3)))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	if records[0].Line != 2 || records[2].Line != 4 {
		t.Errorf("Unexpected line numbers: %d, %d", records[0].Line, records[2].Line)
	}

	fv := records[1].Features
	if _, ok := fv[LabelColumn]; ok {
		t.Error("Label column must not be a feature")
	}
	if err := features.Validate(fv); err != nil {
		t.Fatalf("Expected valid features, got %v", err)
	}
	if fv["baseline_value"] != 120 || fv["histogram_tendency"] != 1 {
		t.Errorf("Unexpected values: %v", fv)
	}
}

func TestRead_Errors(t *testing.T) {
	valid := buildCSV(1)
	header := strings.SplitN(valid, "\n", 2)[0]

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"empty", "", "no header"},
		{"header only", header + "\n", "no data records"},
		{"unknown column", strings.Replace(valid, "histogram_mode", "histogram_modes", 1), "unknown CSV column"},
		{"missing column", strings.Replace(valid, "histogram_mode,", "", 1), "missing column"},
		{"duplicate column", strings.Replace(valid, "histogram_mode", "histogram_mean", 1), "duplicate CSV column"},
		{"bad value", strings.Replace(valid, "\n1,", "\nabc,", 1), "invalid value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestReadCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fetal_health.csv")
	if err := os.WriteFile(path, []byte(buildCSV(2)), 0o644); err != nil {
		t.Fatalf("Failed to write CSV: %v", err)
	}

	records, err := ReadCSVFile(path)
	if err != nil {
		t.Fatalf("ReadCSVFile failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Expected 2 records, got %d", len(records))
	}

	if _, err := ReadCSVFile(filepath.Join(t.TempDir(), "absent.csv")); err == nil {
		t.Error("Expected error for missing file")
	}
}
