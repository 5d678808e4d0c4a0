package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sitelens/intel-cli/internal/intel"
	"github.com/sitelens/intel-cli/internal/model"
)

var (
	batchFile    string
	batchLimit   int
	batchSession string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Analyze a list of websites from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		urls, err := loadBatchFile(batchFile)
		if err != nil {
			return err
		}

		return processBatch(ctx, urls, batchLimit, cfg.Batch.MaxConcurrentSites, func(ctx context.Context, rawURL string) (*model.AnalysisResult, error) {
			return env.Pipeline.Run(ctx, intel.Request{
				URL:   rawURL,
				Owner: model.Owner{SessionID: batchSession},
			})
		})
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "YAML file with a urls: list (required)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of sites to process (0 = all)")
	batchCmd.Flags().StringVar(&batchSession, "session", "batch", "session id owning the results")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}

// batchManifest is the accepted file shape: either a bare list of URLs or a
// document with a urls: key.
type batchManifest struct {
	URLs []string `yaml:"urls"`
}

func loadBatchFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "batch: read file")
	}

	var manifest batchManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		var bare []string
		if bErr := yaml.Unmarshal(data, &bare); bErr != nil {
			return nil, eris.Wrap(err, "batch: parse file")
		}
		manifest.URLs = bare
	}

	urls := make([]string, 0, len(manifest.URLs))
	for _, u := range manifest.URLs {
		u = strings.TrimSpace(u)
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// analyzeFunc is the callback signature for running analysis on one URL.
type analyzeFunc func(ctx context.Context, rawURL string) (*model.AnalysisResult, error)

// processBatch applies limit, then analyzes sites concurrently with the
// given function. Individual failures are logged and do not abort the batch.
func processBatch(ctx context.Context, urls []string, limit, concurrency int, analyze analyzeFunc) error {
	if len(urls) == 0 {
		zap.L().Info("no urls to process")
		return nil
	}

	if limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}

	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("sites", len(urls)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for _, rawURL := range urls {
		g.Go(func() error {
			log := zap.L().With(zap.String("url", rawURL))

			result, err := analyze(gctx, rawURL)
			if err != nil {
				failed.Add(1)
				log.Error("analysis failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}

			succeeded.Add(1)
			log.Info("analysis complete",
				zap.String("organization_id", result.OrganizationID),
				zap.Int("scenarios", len(result.Scenarios)),
				zap.Bool("from_cache", result.FromCache),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}
