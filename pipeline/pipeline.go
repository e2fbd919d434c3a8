// Package pipeline wires the market-intelligence stages to their artifacts.
// Each stage reads the artifacts of earlier stages from disk, so stages can
// run alone or in sequence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"ai-market-intelligence/config"
	"ai-market-intelligence/llm"
	"ai-market-intelligence/models"
	"ai-market-intelligence/scraper/appstore"
	"ai-market-intelligence/services"
	"ai-market-intelligence/storage"
	"ai-market-intelligence/utils"
)

// Stage names, in run order.
const (
	StageClean     = "clean"
	StageFetch     = "fetch"
	StageUnify     = "unify"
	StageInsights  = "insights"
	StageReport    = "report"
	StageCampaigns = "campaigns"
	StageCreative  = "creative"
)

var runOrder = []string{StageClean, StageFetch, StageUnify, StageInsights, StageReport, StageCampaigns, StageCreative}

// Runner executes pipeline stages against one configuration.
type Runner struct {
	cfg       *config.Config
	logger    arbor.ILogger
	runID     string
	completer llm.Completer
	sleep     utils.SleepFunc
}

// Option configures a Runner.
type Option func(*Runner)

// WithCompleter supplies the completion client instead of building one from
// configuration.
func WithCompleter(c llm.Completer) Option {
	return func(r *Runner) { r.completer = c }
}

// WithSleep replaces the fetcher's backoff sleeper.
func WithSleep(sleep utils.SleepFunc) Option {
	return func(r *Runner) { r.sleep = sleep }
}

func New(cfg *config.Config, logger arbor.ILogger, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, logger: logger, runID: uuid.NewString()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RunID identifies this runner's writes to external sinks.
func (r *Runner) RunID() string { return r.runID }

// upstream maps a stage to the stage whose artifact it consumes.
var upstream = map[string]string{
	StageFetch:    StageClean,
	StageUnify:    StageFetch,
	StageInsights: StageUnify,
	StageReport:   StageInsights,
	StageCreative: StageCampaigns,
}

// ErrUpstreamFailed marks a stage that was not run because a stage it
// depends on failed or was skipped.
var ErrUpstreamFailed = errors.New("upstream stage failed")

// StageResult is the outcome of one stage within Run.
type StageResult struct {
	Stage   string
	Err     error
	Skipped bool
	Elapsed time.Duration
}

// preflight checks every credential a full run needs.
func (r *Runner) preflight() error {
	if err := r.cfg.RequireCatalog(); err != nil {
		return err
	}
	if r.completer == nil {
		return r.cfg.RequireCompletion()
	}
	return nil
}

// Run executes every stage in order. Missing credentials abort the run
// before any stage starts. A failing stage does not stop independent
// stages, but the stages that consume its artifact are skipped so they
// never read output left by an earlier run.
func (r *Runner) Run(ctx context.Context) ([]StageResult, error) {
	if err := r.preflight(); err != nil {
		return nil, err
	}
	r.logger.Info().Str("run_id", r.runID).Strs("stages", runOrder).Msg("Starting pipeline run")

	results := make([]StageResult, 0, len(runOrder))
	var failed, skipped []string
	broken := map[string]bool{}
	for _, name := range runOrder {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		if up, ok := upstream[name]; ok && broken[up] {
			broken[name] = true
			skipped = append(skipped, name)
			results = append(results, StageResult{
				Stage:   name,
				Skipped: true,
				Err:     fmt.Errorf("skipped: upstream %s failed: %w", up, ErrUpstreamFailed),
			})
			r.logger.Warn().Str("stage", name).Str("upstream", up).Msg("Stage skipped")
			continue
		}

		start := time.Now()
		err := r.RunStage(ctx, name)
		res := StageResult{Stage: name, Err: err, Elapsed: time.Since(start)}
		results = append(results, res)

		if err != nil {
			broken[name] = true
			failed = append(failed, name)
			r.logger.Error().Err(err).Str("stage", name).Dur("elapsed", res.Elapsed).Msg("Stage failed")
			continue
		}
		r.logger.Info().Str("stage", name).Dur("elapsed", res.Elapsed).Msg("Stage complete")
	}

	if len(failed) == 0 {
		return results, nil
	}
	if len(skipped) > 0 {
		return results, fmt.Errorf("stages failed: %s; skipped: %s", strings.Join(failed, ", "), strings.Join(skipped, ", "))
	}
	return results, fmt.Errorf("stages failed: %s", strings.Join(failed, ", "))
}

// RunStage executes one stage by name with default flags.
func (r *Runner) RunStage(ctx context.Context, name string) error {
	switch name {
	case StageClean:
		return r.Clean(ctx)
	case StageFetch:
		return r.Fetch(ctx, false)
	case StageUnify:
		return r.Unify(ctx)
	case StageInsights:
		return r.Insights(ctx)
	case StageReport:
		return r.Report(ctx, r.cfg.Report.PDF)
	case StageCampaigns:
		return r.Campaigns(ctx)
	case StageCreative:
		return r.Creative(ctx)
	}
	return fmt.Errorf("unknown stage %q", name)
}

// Clean normalizes the raw marketplace export into the cleaned dataset.
func (r *Runner) Clean(ctx context.Context) error {
	raw, err := storage.ReadRaw(r.cfg.Paths.RawExport)
	if err != nil {
		return err
	}

	res := services.NewNormalizer(r.cfg.Normalizer, models.PlatformAndroid, r.logger).Normalize(raw)
	for reason, n := range res.DropCounts() {
		r.logger.Info().Str("reason", string(reason)).Int("rows", n).Msg("Rows dropped")
	}
	if len(res.Records) == 0 {
		return fmt.Errorf("clean: every row of %q was dropped", r.cfg.Paths.RawExport)
	}

	ds := &models.Dataset{Columns: models.AndroidColumns, Records: res.Records}
	if err := storage.WriteDataset(r.cfg.Paths.CleanedDataset, ds); err != nil {
		return err
	}
	r.logger.Info().
		Int("input", res.InputRows).
		Int("output", len(res.Records)).
		Int("duplicates", res.Duplicates).
		Int("imputed", res.Imputed).
		Str("path", r.cfg.Paths.CleanedDataset).
		Msg("Cleaned dataset written")
	return nil
}

func (r *Runner) catalogClient() *appstore.Client {
	c := r.cfg.Catalog
	return appstore.NewClient(c.APIKey,
		appstore.WithBaseURL(c.BaseURL),
		appstore.WithHost(c.Host),
		appstore.WithTimeout(c.Timeout.Duration),
		appstore.WithMinInterval(c.MinInterval.Duration),
		appstore.WithLocale(c.Lang, c.Country),
		appstore.WithResultCount(c.ResultCount),
		appstore.WithLogger(r.logger),
	)
}

// Fetch resolves the top cleaned records against the catalog and writes the
// iOS dataset. fresh discards checkpoints of earlier runs first.
func (r *Runner) Fetch(ctx context.Context, fresh bool) error {
	if err := r.cfg.RequireCatalog(); err != nil {
		return err
	}
	cleaned, err := storage.ReadDataset(StageFetch, r.cfg.Paths.CleanedDataset, "run the clean stage first")
	if err != nil {
		return err
	}

	top := services.SelectTop(cleaned.Records, r.cfg.Catalog.TopN)
	names := services.Names(top)
	client := r.catalogClient()

	var fetcherOpts []appstore.FetcherOption
	if r.sleep != nil {
		fetcherOpts = append(fetcherOpts, appstore.WithSleep(r.sleep))
	}
	if dir := r.cfg.Storage.CheckpointDir; dir != "" {
		cp, err := storage.OpenCheckpointStore(dir, r.logger)
		if err != nil {
			r.logger.Warn().Err(err).Str("path", dir).Msg("Checkpoint store unavailable, fetching without resume")
		} else {
			defer cp.Close()
			if fresh {
				if _, err := cp.ClearScope(client.Scope()); err != nil {
					return err
				}
			}
			fetcherOpts = append(fetcherOpts, appstore.WithCheckpoint(cp))
		}
	}

	c := r.cfg.Catalog
	fetcher := appstore.NewFetcher(client, appstore.FetchOptions{
		RateLimitRetries: c.RateLimitRetries,
		RateLimitBackoff: utils.ExponentialBackoff{Base: c.RateLimitBackoff.Duration, Max: c.RateLimitMax.Duration, Multiplier: 2},
		TransientRetries: c.TransientRetries,
		TransientBackoff: utils.LinearBackoff{Step: c.TransientBackoff.Duration, Max: c.RateLimitMax.Duration},
		QueryFallbacks:   c.QueryFallbacks,
		ProgressEvery:    c.ProgressEvery,
	}, r.logger, fetcherOpts...)

	res, err := fetcher.Fetch(ctx, names)
	if err != nil {
		return fmt.Errorf("fetch interrupted after %d of %d queries: %w", len(res.Attempts), len(names), err)
	}

	ds := &models.Dataset{Columns: models.CatalogColumns, Records: res.Records()}
	if err := storage.WriteDataset(r.cfg.Paths.CatalogDataset, ds); err != nil {
		return err
	}
	r.logger.Info().Int("records", ds.Len()).Str("path", r.cfg.Paths.CatalogDataset).Msg("Catalog dataset written")

	if res.Stats.Success == 0 {
		return fmt.Errorf("fetch: no query succeeded out of %d; run the probe command to check the API subscription", res.Stats.Total)
	}
	if rate := res.Stats.SuccessRate(); rate < c.MinSuccessRate {
		return fmt.Errorf("fetch: success rate %.2f below minimum %.2f", rate, c.MinSuccessRate)
	}
	return nil
}

// Probe sends one diagnostic catalog request.
func (r *Runner) Probe(ctx context.Context, query string) (*appstore.ProbeResult, error) {
	if err := r.cfg.RequireCatalog(); err != nil {
		return nil, err
	}
	res, err := r.catalogClient().Probe(ctx, query)
	if err != nil {
		return nil, err
	}
	r.logger.Info().
		Int("status", res.StatusCode).
		Bool("ok", res.OK).
		Int("results", res.Results).
		Str("diagnosis", res.Diagnosis).
		Msg("Catalog probe")
	return res, nil
}

// Unify merges the cleaned subset and the catalog dataset, and mirrors the
// result to Postgres when a sink is configured.
func (r *Runner) Unify(ctx context.Context) error {
	cleaned, err := storage.ReadDataset(StageUnify, r.cfg.Paths.CleanedDataset, "run the clean stage first")
	if err != nil {
		return err
	}
	catalog, err := storage.ReadDataset(StageUnify, r.cfg.Paths.CatalogDataset, "run the fetch stage first")
	if err != nil {
		return err
	}

	unified, err := services.NewUnifier(r.logger).Unify(services.Subset(cleaned, models.SubsetColumns), catalog)
	if err != nil {
		return err
	}
	if err := storage.WriteDataset(r.cfg.Paths.UnifiedDataset, unified); err != nil {
		return err
	}
	r.logger.Info().Int("records", unified.Len()).Str("path", r.cfg.Paths.UnifiedDataset).Msg("Unified dataset written")

	if !r.cfg.Storage.Postgres.Enabled {
		return nil
	}
	return r.writeSink(ctx, unified)
}

func (r *Runner) writeSink(ctx context.Context, ds *models.Dataset) error {
	pg := r.cfg.Storage.Postgres
	pw, err := storage.NewPostgresWriter(ctx, pg.DSN(), pg.BatchSize, r.logger)
	if err != nil {
		return fmt.Errorf("unify: postgres sink: %w", err)
	}
	defer pw.Close()

	if err := pw.Write(ctx, r.runID, ds); err != nil {
		return fmt.Errorf("unify: postgres sink: %w", err)
	}
	if n, err := pw.CountRun(ctx, r.runID); err == nil && n != ds.Len() {
		r.logger.Warn().Int("stored", n).Int("expected", ds.Len()).Msg("Postgres row count differs from dataset")
	}
	return nil
}

func (r *Runner) llmClient(ctx context.Context) (llm.Completer, error) {
	if r.completer != nil {
		return r.completer, nil
	}
	if err := r.cfg.RequireCompletion(); err != nil {
		return nil, err
	}
	c, err := llm.New(ctx, r.cfg.LLM, r.logger)
	if err != nil {
		return nil, err
	}
	r.completer = c
	return c, nil
}

// Insights generates validated insights from the unified dataset.
func (r *Runner) Insights(ctx context.Context) error {
	unified, err := storage.ReadDataset(StageInsights, r.cfg.Paths.UnifiedDataset, "run the unify stage first")
	if err != nil {
		return err
	}
	completer, err := r.llmClient(ctx)
	if err != nil {
		return err
	}

	batch, err := services.NewInsightGenerator(completer, r.cfg.Insights, r.logger).Generate(ctx, unified.Records)
	if err != nil {
		return err
	}
	if err := storage.WriteJSON(r.cfg.Paths.Insights, batch.Insights); err != nil {
		return err
	}
	r.logger.Info().Int("insights", len(batch.Insights)).Str("path", r.cfg.Paths.Insights).Msg("Insights written")
	return nil
}

// Report renders the insights as Markdown, plus HTML and PDF when enabled.
func (r *Runner) Report(ctx context.Context, pdf bool) error {
	insights, err := storage.ReadInsights(r.cfg.Paths.Insights)
	if err != nil {
		return err
	}

	md, err := services.RenderMarkdown(insights)
	if err != nil {
		return err
	}
	if err := storage.WriteFile(r.cfg.Paths.Report, []byte(md)); err != nil {
		return err
	}
	r.logger.Info().Int("insights", len(insights)).Str("path", r.cfg.Paths.Report).Msg("Report written")

	if !r.cfg.Report.HTML && !pdf {
		return nil
	}
	page, err := services.RenderHTML(md)
	if err != nil {
		return err
	}
	htmlPath := withExt(r.cfg.Paths.Report, ".html")
	if err := storage.WriteFile(htmlPath, page); err != nil {
		return err
	}
	r.logger.Info().Str("path", htmlPath).Msg("HTML report written")

	if !pdf {
		return nil
	}
	renderer := services.NewPDFRenderer(r.cfg.Report.ChromeBin, r.cfg.Report.PDFTimeout.Duration, r.logger)
	out, err := renderer.Render(ctx, htmlPath)
	if errors.Is(err, services.ErrNoBrowser) {
		return fmt.Errorf("report: %w; install Chrome or set CHROME_BIN", err)
	}
	if err != nil {
		return err
	}
	pdfPath := withExt(r.cfg.Paths.Report, ".pdf")
	if err := storage.WriteFile(pdfPath, out); err != nil {
		return err
	}
	r.logger.Info().Str("path", pdfPath).Int("bytes", len(out)).Msg("PDF report written")
	return nil
}

func withExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// Campaigns derives best-campaign and SEO insights from the campaign source.
func (r *Runner) Campaigns(ctx context.Context) error {
	campaigns, err := storage.ReadCampaigns(r.cfg.Paths.CampaignSource)
	if err != nil {
		return err
	}
	derived, err := services.NewCampaignAnalyzer(r.cfg.Campaigns, r.logger).Analyze(campaigns)
	if err != nil {
		return err
	}
	if err := storage.WriteJSON(r.cfg.Paths.DerivedInsights, derived); err != nil {
		return err
	}
	r.logger.Info().Int("campaigns", len(campaigns)).Str("path", r.cfg.Paths.DerivedInsights).Msg("Campaign insights written")
	return nil
}

// Creative generates ad copy from the derived campaign insights.
func (r *Runner) Creative(ctx context.Context) error {
	derived, err := storage.ReadDerivedInsights(r.cfg.Paths.DerivedInsights)
	if err != nil {
		return err
	}
	completer, err := r.llmClient(ctx)
	if err != nil {
		return err
	}
	out, err := services.NewCreativeGenerator(completer, r.cfg.Campaigns, r.logger).Generate(ctx, derived)
	if err != nil {
		return err
	}
	if err := storage.WriteJSON(r.cfg.Paths.CreativeOutputs, out); err != nil {
		return err
	}
	r.logger.Info().Str("path", r.cfg.Paths.CreativeOutputs).Msg("Creative outputs written")
	return nil
}
