package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sitelens/intel-cli/internal/intel"
	"github.com/sitelens/intel-cli/internal/model"
)

var (
	analyzeURL     string
	analyzeUser    string
	analyzeSession string
	analyzeVerbose bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a single website",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		owner := model.Owner{UserID: analyzeUser, SessionID: analyzeSession}
		if owner.UserID == "" && owner.SessionID == "" {
			owner.SessionID = "cli"
		}

		req := intel.Request{
			URL:   analyzeURL,
			Owner: owner,
			Sinks: intel.Sinks{
				Progress: func(pu model.ProgressUpdate) {
					zap.L().Info("progress",
						zap.Int("stage", pu.Stage),
						zap.String("label", pu.Label),
						zap.Float64("percent", pu.Percent),
					)
				},
				Narrative: func(ev model.NarrativeEvent) {
					if !analyzeVerbose {
						return
					}
					switch ev.Type {
					case model.NarrativeStatusUpdate, model.NarrativeTransition:
						os.Stderr.WriteString(ev.Message + "\n")
					case model.NarrativeTextChunk:
						os.Stderr.WriteString(ev.Text)
					case model.NarrativeComplete:
						os.Stderr.WriteString("\n")
					}
				},
			},
		}

		result, err := env.Pipeline.Run(ctx, req)
		if err != nil {
			if intel.IsCancelled(err) {
				zap.L().Info("analysis cancelled", zap.String("url", analyzeURL))
				return nil
			}
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("analysis complete",
			zap.String("url", result.URL),
			zap.String("organization_id", result.OrganizationID),
			zap.Int("scenarios", len(result.Scenarios)),
			zap.Bool("from_cache", result.FromCache),
		)

		// Print result JSON to stdout
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeURL, "url", "", "website URL (required)")
	analyzeCmd.Flags().StringVar(&analyzeUser, "user", "", "user id owning the result")
	analyzeCmd.Flags().StringVar(&analyzeSession, "session", "", "anonymous session id owning the result")
	analyzeCmd.Flags().BoolVar(&analyzeVerbose, "narrate", false, "stream the narrative to stderr")
	_ = analyzeCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(analyzeCmd)
}
