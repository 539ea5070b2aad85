package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
	"github.com/ahrav/xphere-collector/pkg/common/logger"
)

// FilePrefix names generated HTML reports.
const FilePrefix = "Transaction_Analysis_Report"

// Generator analyzes the newest transactions corpus.
type Generator struct {
	corpus collection.CorpusStore
	now    func() time.Time

	logger *logger.Logger
	tracer trace.Tracer
}

// NewGenerator creates a Generator reading from corpus.
func NewGenerator(corpus collection.CorpusStore, logger *logger.Logger, tracer trace.Tracer) *Generator {
	return &Generator{corpus: corpus, now: time.Now, logger: logger, tracer: tracer}
}

// Analyze loads the newest corpus of res and aggregates it.
func (g *Generator) Analyze(ctx context.Context, res collection.Resource) (Analysis, error) {
	ctx, span := g.tracer.Start(ctx, "report.analyze", trace.WithAttributes(attribute.String("resource", res.Name)))
	defer span.End()

	latest, err := g.corpus.Latest(ctx, res)
	if err != nil {
		span.RecordError(err)
		return Analysis{}, fmt.Errorf("failed to locate latest corpus: %w", err)
	}
	if latest == nil {
		span.SetStatus(codes.Error, "no corpus")
		return Analysis{}, fmt.Errorf("%w for %s", collection.ErrCorpusNotFound, res.Name)
	}

	records, err := g.corpus.ReadRecords(ctx, *latest)
	if err != nil {
		span.RecordError(err)
		return Analysis{}, fmt.Errorf("failed to read %s: %w", latest.Name, err)
	}

	txs, dropped := ParseTransactions(records)
	a := Analyze(latest.Name, len(records), txs, g.now())
	span.SetAttributes(
		attribute.String("corpus", latest.Name),
		attribute.Int("records", len(records)),
		attribute.Int("dropped", dropped),
	)
	g.logger.Info(ctx, "corpus analyzed",
		"resource", res.Name,
		"corpus", latest.Name,
		"records", len(records),
		"valid", a.Valid,
		"dropped", dropped,
	)
	return a, nil
}

// WriteHTML renders a into dir and returns the written path.
func (g *Generator) WriteHTML(ctx context.Context, dir string, a Analysis) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.html", FilePrefix, a.GeneratedAt.Format("20060102_150405")))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create report file: %w", err)
	}
	if err := RenderHTML(f, a); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close report file: %w", err)
	}

	g.logger.Info(ctx, "report written", "path", path)
	return path, nil
}

// Run analyzes res, writes the HTML report into dir and, when summary is
// non-nil, prints the terminal summary to it.
func (g *Generator) Run(ctx context.Context, res collection.Resource, dir string, summary io.Writer) (string, error) {
	a, err := g.Analyze(ctx, res)
	if err != nil {
		return "", err
	}
	if summary != nil {
		WriteSummary(summary, a)
	}
	return g.WriteHTML(ctx, dir, a)
}
