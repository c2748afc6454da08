package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/Krimson/fetal-health-classifier/predictor/internal/classifier/onnx"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/config"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/csvreader"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/features"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/logging"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/registry"
	"github.com/Krimson/fetal-health-classifier/predictor/internal/service"
	"github.com/Krimson/fetal-health-classifier/predictor/pkg/models"
)

func main() {
	manifest := flag.String("models", "", "Path to models.yaml (default: MODELS_DIR with decision_tree and gradient_boosting)")
	input := flag.String("input", "", "CSV file with the 21 CTG features in the header")
	model := flag.String("model", "", "Model name (default from manifest)")
	limit := flag.Int("n", 0, "Predict only the first N rows (0 - all)")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "Usage: predictcsv -input data.csv [-models models.yaml] [-model gradient_boosting] [-n 10]")
		os.Exit(2)
	}

	logger, err := logging.New(logging.Options{Level: *logLevel, Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := config.Load()
	if *manifest != "" {
		cfg.ModelsManifest = *manifest
	}
	if cfg.ONNXLibraryPath != "" {
		onnx.SetLibraryPath(cfg.ONNXLibraryPath)
	}
	defer onnx.Shutdown()

	if err := run(cfg, *input, *model, *limit, os.Stdout, logger); err != nil {
		fmt.Fprintf(os.Stderr, "predictcsv: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, input, model string, limit int, out io.Writer, logger *zap.SugaredLogger) error {
	specs, defaultModel, err := cfg.ModelSpecs()
	if err != nil {
		return err
	}

	reg := registry.LoadAll(defaultModel, specs, logger)
	defer reg.Close()
	if !reg.IsReady() {
		return fmt.Errorf("no models loaded from %d declared", reg.Len())
	}

	records, err := csvreader.ReadCSVFile(input)
	if err != nil {
		return err
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}

	// Невалидные строки отсеиваются заранее, остальные уходят одним батчем
	rowErrs := make([]error, len(records))
	valid := make([]features.FeatureVector, 0, len(records))
	for i, rec := range records {
		if err := features.Validate(rec.Features); err != nil {
			rowErrs[i] = err
			continue
		}
		valid = append(valid, rec.Features)
	}

	var modelName *string
	if model != "" {
		if _, err := reg.Get(model); err != nil {
			return err
		}
		modelName = &model
	}

	var results []models.PredictionResult
	if len(valid) > 0 {
		svc := service.NewPredictionService(reg, service.Options{MaxBatchSize: len(valid)}, logger)
		results, err = svc.PredictBatch(context.Background(), valid, modelName)
		if err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LINE\tPREDICTION_CODE\tHEALTH_STATUS\tCONFIDENCE\tMODEL")

	counts := make(map[string]int)
	failed := 0
	next := 0
	for i, rec := range records {
		if rowErrs[i] != nil {
			failed++
			fmt.Fprintf(w, "%d\t-\terror: %v\t-\t-\n", rec.Line, rowErrs[i])
			continue
		}

		result := results[next]
		next++
		counts[result.HealthStatus]++
		fmt.Fprintf(w, "%d\t%.1f\t%s\t%.2f (%s)\t%s\n",
			rec.Line, result.PredictionCode, result.HealthStatus,
			result.Confidence, result.ConfidenceSource, result.ModelUsed)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	writeSummary(out, counts, failed, len(records))
	return nil
}

func writeSummary(out io.Writer, counts map[string]int, failed, total int) {
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Summary:")
	for _, label := range labels {
		fmt.Fprintf(out, "  %s: %d samples (%.1f%%)\n", label, counts[label], percent(counts[label], total))
	}
	if failed > 0 {
		fmt.Fprintf(out, "  invalid: %d samples (%.1f%%)\n", failed, percent(failed, total))
	}
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}
