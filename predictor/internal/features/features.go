package features

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidFeatures возвращается, если вектор признаков не соответствует схеме моделей
var ErrInvalidFeatures = errors.New("invalid features")

// FeatureVector - именованные признаки одной КТГ записи
type FeatureVector map[string]float64

// Field описывает один признак и его допустимый диапазон
type Field struct {
	Name        string
	Description string
	Min         float64
	Max         float64
	Example     float64
}

// FieldError описывает, какой признак не прошел проверку и почему
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("feature %q: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalidFeatures
}

// Порядок полей фиксирован входным контрактом обученных моделей.
var schema = []Field{
	{"baseline_value", "Baseline fetal heart rate (beats per minute)", 50, 240, 120.0},
	{"accelerations", "Number of accelerations per second", 0, 1, 0.0},
	{"fetal_movement", "Number of fetal movements per second", 0, 1, 0.0},
	{"uterine_contractions", "Number of uterine contractions per second", 0, 1, 0.0},
	{"light_decelerations", "Number of light decelerations per second", 0, 1, 0.0},
	{"severe_decelerations", "Number of severe decelerations per second", 0, 1, 0.0},
	{"prolongued_decelerations", "Number of prolonged decelerations per second", 0, 1, 0.0},
	{"abnormal_short_term_variability", "Percentage of time with abnormal short term variability", 0, 100, 73.0},
	{"mean_value_of_short_term_variability", "Mean value of short term variability", 0, math.Inf(1), 0.5},
	{"percentage_of_time_with_abnormal_long_term_variability", "Percentage of time with abnormal long term variability", 0, 100, 43.0},
	{"mean_value_of_long_term_variability", "Mean value of long term variability", 0, math.Inf(1), 2.4},
	{"histogram_width", "Width of the FHR histogram", 0, 250, 64.0},
	{"histogram_min", "Minimum value of the FHR histogram", 0, 260, 62.0},
	{"histogram_max", "Maximum value of the FHR histogram", 0, 260, 126.0},
	{"histogram_number_of_peaks", "Number of peaks in the FHR histogram", 0, math.Inf(1), 2.0},
	{"histogram_number_of_zeroes", "Number of zeros in the FHR histogram", 0, math.Inf(1), 0.0},
	{"histogram_mode", "Mode of the FHR histogram", 0, 260, 120.0},
	{"histogram_mean", "Mean of the FHR histogram", 0, 260, 137.0},
	{"histogram_median", "Median of the FHR histogram", 0, 260, 121.0},
	{"histogram_variance", "Variance of the FHR histogram", 0, math.Inf(1), 73.0},
	{"histogram_tendency", "Tendency of the FHR histogram", -1, 1, 1.0},
}

var index = func() map[string]int {
	m := make(map[string]int, len(schema))
	for i, f := range schema {
		m[f.Name] = i
	}
	return m
}()

// Count возвращает число признаков, которое ожидают модели
func Count() int {
	return len(schema)
}

// Names возвращает имена признаков в порядке входного контракта
func Names() []string {
	names := make([]string, len(schema))
	for i, f := range schema {
		names[i] = f.Name
	}
	return names
}

// Known сообщает, входит ли имя в схему
func Known(name string) bool {
	_, ok := index[name]
	return ok
}

// Example возвращает пример нормальной записи (значения из документации API)
func Example() FeatureVector {
	fv := make(FeatureVector, len(schema))
	for _, f := range schema {
		fv[f.Name] = f.Example
	}
	return fv
}

// Validate проверяет полноту набора признаков и диапазоны значений.
// Ошибки возвращаются в детерминированном порядке: сначала по схеме, затем лишние поля.
func Validate(fv FeatureVector) error {
	if fv == nil {
		return &FieldError{Field: "features", Reason: "is required"}
	}

	for _, f := range schema {
		value, ok := fv[f.Name]
		if !ok {
			return &FieldError{Field: f.Name, Reason: "is missing"}
		}
		if err := checkValue(f, value); err != nil {
			return err
		}
	}

	if len(fv) != len(schema) {
		unknown := make([]string, 0)
		for name := range fv {
			if !Known(name) {
				unknown = append(unknown, name)
			}
		}
		sort.Strings(unknown)
		if len(unknown) > 0 {
			return &FieldError{Field: unknown[0], Reason: "is not a known feature"}
		}
	}

	return nil
}

func checkValue(f Field, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return &FieldError{Field: f.Name, Reason: "must be a finite number"}
	}
	if value < f.Min || value > f.Max {
		if math.IsInf(f.Max, 1) {
			return &FieldError{Field: f.Name, Reason: fmt.Sprintf("must be >= %g, got %g", f.Min, value)}
		}
		return &FieldError{Field: f.Name, Reason: fmt.Sprintf("must be within [%g, %g], got %g", f.Min, f.Max, value)}
	}
	return nil
}

// Vector проверяет признаки и раскладывает их в срез в порядке схемы
func Vector(fv FeatureVector) ([]float64, error) {
	if err := Validate(fv); err != nil {
		return nil, err
	}

	out := make([]float64, len(schema))
	for i, f := range schema {
		out[i] = fv[f.Name]
	}
	return out, nil
}

// FromSlice собирает FeatureVector из значений в порядке схемы
func FromSlice(values []float64) (FeatureVector, error) {
	if len(values) != len(schema) {
		return nil, &FieldError{
			Field:  "features",
			Reason: fmt.Sprintf("expected %d values, got %d", len(schema), len(values)),
		}
	}

	fv := make(FeatureVector, len(schema))
	for i, f := range schema {
		fv[f.Name] = values[i]
	}
	return fv, nil
}

// ParseJSON разбирает JSON объект признаков. Нечисловые значения (строки, null,
// bool) отклоняются здесь же, диапазоны проверяет Validate.
func ParseJSON(raw json.RawMessage) (FeatureVector, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, &FieldError{Field: "features", Reason: "is required"}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, &FieldError{Field: "features", Reason: "must be a JSON object"}
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	fv := make(FeatureVector, len(fields))
	for _, name := range names {
		var number float64
		v := bytes.TrimSpace(fields[name])
		if len(v) == 0 || !isJSONNumber(v[0]) {
			return nil, &FieldError{Field: name, Reason: "must be a number"}
		}
		if err := json.Unmarshal(v, &number); err != nil {
			return nil, &FieldError{Field: name, Reason: "must be a finite number"}
		}
		fv[name] = number
	}
	return fv, nil
}

func isJSONNumber(c byte) bool {
	return c == '-' || (c >= '0' && c <= '9')
}
