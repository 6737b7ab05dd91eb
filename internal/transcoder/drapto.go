package transcoder

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	draptolib "github.com/five82/drapto"

	"vidconv/internal/logging"
)

// DraptoEncode runs the drapto library encoder and reports encode percent.
func DraptoEncode(ctx context.Context, inputPath, outputDir string, progress func(percent int)) (string, error) {
	if inputPath == "" {
		return "", errors.New("input path required")
	}
	if strings.TrimSpace(outputDir) == "" {
		return "", errors.New("output directory required")
	}
	encoder, err := draptolib.New(draptolib.WithResponsive())
	if err != nil {
		return "", err
	}
	rep := &percentReporter{onPercent: progress, logger: logging.NewComponentLogger(slog.Default(), "drapto")}
	if _, err := encoder.EncodeWithReporter(ctx, inputPath, outputDir, rep); err != nil {
		return "", err
	}
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	return filepath.Join(strings.TrimSpace(outputDir), stem+localOutputExtension), nil
}

// percentReporter forwards encode progress and surfaces drapto warnings.
type percentReporter struct {
	onPercent func(int)
	logger    *slog.Logger
}

func (r *percentReporter) report(percent float64) {
	if r.onPercent != nil {
		r.onPercent(int(percent))
	}
}

func (r *percentReporter) Hardware(draptolib.HardwareSummary) {}

func (r *percentReporter) Initialization(s draptolib.InitializationSummary) {
	r.logger.Debug("drapto initialized",
		logging.String("input", s.InputFile),
		logging.String("resolution", s.Resolution),
		logging.String("dynamic_range", s.DynamicRange),
	)
}

func (r *percentReporter) StageProgress(s draptolib.StageProgress) {
	r.logger.Debug("drapto stage", logging.String("stage", s.Stage), logging.String("message", s.Message))
}

func (r *percentReporter) CropResult(draptolib.CropSummary) {}

func (r *percentReporter) EncodingConfig(draptolib.EncodingConfigSummary) {}

func (r *percentReporter) EncodingStarted(uint64) { r.report(0) }

func (r *percentReporter) EncodingProgress(s draptolib.ProgressSnapshot) {
	r.report(float64(s.Percent))
}

func (r *percentReporter) ValidationComplete(s draptolib.ValidationSummary) {
	if !s.Passed {
		logging.WarnWithContext(r.logger, "drapto validation reported failures", "drapto_validation",
			logging.Int("steps", len(s.Steps)),
			logging.String(logging.FieldErrorHint, "the SSIM gate still scores the output"),
			logging.String(logging.FieldImpact, "output may not match source properties"),
		)
	}
}

func (r *percentReporter) EncodingComplete(draptolib.EncodingOutcome) { r.report(100) }

func (r *percentReporter) Warning(message string) {
	logging.WarnWithContext(r.logger, "drapto warning", "drapto_warning", logging.String("detail", message))
}

func (r *percentReporter) Error(e draptolib.ReporterError) {
	r.logger.Error("drapto error",
		logging.String("title", e.Title),
		logging.String("detail", e.Message),
		logging.String("suggestion", e.Suggestion),
	)
}

func (r *percentReporter) OperationComplete(string) {}

func (r *percentReporter) BatchStarted(draptolib.BatchStartInfo) {}

func (r *percentReporter) FileProgress(draptolib.FileProgressContext) {}

func (r *percentReporter) BatchComplete(draptolib.BatchSummary) {}

var _ draptolib.Reporter = (*percentReporter)(nil)
