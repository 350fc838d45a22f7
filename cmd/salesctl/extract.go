package main

import (
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/extract"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/genai"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/similarity"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/slots"
)

func newExtractCmd(c *cli) *cobra.Command {
	var (
		patternFile string
		slot        string
		useEnv      bool
	)
	cmd := &cobra.Command{
		Use:   "extract <text>",
		Short: "Run the hybrid extractor over one utterance",
		Long: `Prints the slots the hybrid arbitrator resolves for the utterance. With
--slot, prints the per-strategy score breakdown of every candidate value of
that slot instead. Similarity falls back to character overlap unless --env
is given and an embedding provider is configured.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			tuning := config.DefaultTuning()
			var backend similarity.EmbeddingBackend
			if useEnv {
				cfg, err := c.config()
				if err != nil {
					return err
				}
				tuning = cfg.Tuning
				if patternFile == "" {
					patternFile = cfg.PatternFile
				}
				embedder, err := genai.NewEmbedder(ctx, cfg, c.log)
				if err != nil {
					c.log.WithError(err).Warn("Embedding backend unavailable; using character overlap")
				} else if embedder != nil {
					backend = embedder
				}
			}

			def := slots.Default()
			if patternFile != "" {
				loaded, err := slots.LoadFile(patternFile)
				if err != nil {
					return err
				}
				def = loaded
			}
			store := slots.NewStore(def, c.log)
			engine := similarity.New(backend, similarity.Options{
				CallTimeout: config.EmbeddingCall,
				Logger:      c.log,
			})
			arb := extract.NewArbitrator(store, engine, config.NewTuningStore(tuning), nil, c.log)

			if slot != "" {
				if !slices.Contains(store.Schema().Slots(), slot) {
					return fmt.Errorf("unknown slot %q", slot)
				}
				printCandidates(cmd, arb.Candidates(ctx, args[0], slot))
				return nil
			}
			return writeJSON(cmd, arb.Extract(ctx, args[0], store.Schema()))
		},
	}
	cmd.Flags().StringVarP(&patternFile, "patterns", "p", "", "YAML pattern file (default: built-in schema)")
	cmd.Flags().StringVar(&slot, "slot", "", "show the candidate breakdown for one slot")
	cmd.Flags().BoolVar(&useEnv, "env", false, "load tuning and embeddings from the environment")
	return cmd
}

func printCandidates(cmd *cobra.Command, candidates []extract.Candidate) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VALUE\tCOMPOSITE\tSTRATEGIES\tMATCHED")
	for _, cand := range candidates {
		kinds := make([]string, 0, len(extract.Kinds))
		for _, k := range extract.Kinds {
			if s, ok := cand.Scores[k]; ok {
				kinds = append(kinds, fmt.Sprintf("%s=%.2f", k, s))
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%.3f\t%s\t%s\n", cand.Value, cand.Composite, strings.Join(kinds, " "), cand.MatchedText)
	}
	_ = w.Flush()
}
