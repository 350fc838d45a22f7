package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/config"
	domerrors "github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/errors"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/logger"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/r2client"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/snapshot"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/specialcase"
	"github.com/xrick/Sales-Integrated-AI-Platform-sub001/internal/storage"
)

func newKBCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage the special-case knowledge base",
		Long: `Reads and writes the knowledge base through the backend selected by
SALES_KB_BACKEND (sqlite, file or r2). Stop the server before importing into
the sqlite or file backend; a running server flushes its own copy on exit.`,
	}
	cmd.AddCommand(
		newKBStatsCmd(c),
		newKBExportCmd(c),
		newKBImportCmd(c),
		newKBSnapshotCmd(c),
	)
	return cmd
}

func newKBStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print knowledge base statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			store, closeStore, err := openKnowledgeStore(cmd.Context(), cfg, cfg.KBBackend, c.log)
			if err != nil {
				return err
			}
			defer closeStore()

			cases, err := loadCases(cmd.Context(), store)
			if err != nil {
				return err
			}
			return writeJSON(cmd, specialcase.ComputeStats(cases, time.Now()))
		},
	}
}

func newKBExportCmd(c *cli) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the knowledge base to a JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			store, closeStore, err := openKnowledgeStore(cmd.Context(), cfg, cfg.KBBackend, c.log)
			if err != nil {
				return err
			}
			defer closeStore()

			cases, err := loadCases(cmd.Context(), store)
			if err != nil {
				return err
			}
			snap := &specialcase.Snapshot{Cases: cases, Stats: specialcase.ComputeStats(cases, time.Now())}
			if err := specialcase.NewFileStore(out, c.log).Save(cmd.Context(), snap); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "exported %d cases to %s\n", len(cases), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "special_cases.json", "output file")
	return cmd
}

func newKBImportCmd(c *cli) *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the knowledge base with the cases in a JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			snap, err := specialcase.NewFileStore(in, c.log).Load(cmd.Context())
			if err != nil {
				if domerrors.IsNotFound(err) {
					return fmt.Errorf("import file %s does not exist", in)
				}
				return err
			}

			store, closeStore, err := openKnowledgeStore(cmd.Context(), cfg, cfg.KBBackend, c.log)
			if err != nil {
				return err
			}
			defer closeStore()

			n, err := replaceCases(cmd.Context(), store, snap.Cases, c.log)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %d cases into %s\n", n, cfg.KBBackend)
			return nil
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "special_cases.json", "input file")
	return cmd
}

func newKBSnapshotCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Copy the knowledge base between a local backend and the R2 snapshot",
	}

	var from string
	push := &cobra.Command{
		Use:   "push",
		Short: "Upload a local knowledge base as the R2 snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.transfer(cmd, from, config.BackendR2)
		},
	}
	push.Flags().StringVar(&from, "from", config.BackendSQLite, "local backend to read (sqlite or file)")

	var to string
	pull := &cobra.Command{
		Use:   "pull",
		Short: "Download the R2 snapshot into a local knowledge base",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.transfer(cmd, config.BackendR2, to)
		},
	}
	pull.Flags().StringVar(&to, "to", config.BackendSQLite, "local backend to write (sqlite or file)")

	cmd.AddCommand(push, pull)
	return cmd
}

func (c *cli) transfer(cmd *cobra.Command, from, to string) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), config.SnapshotTransfer)
	defer cancel()

	src, closeSrc, err := openKnowledgeStore(ctx, cfg, from, c.log)
	if err != nil {
		return err
	}
	defer closeSrc()
	dst, closeDst, err := openKnowledgeStore(ctx, cfg, to, c.log)
	if err != nil {
		return err
	}
	defer closeDst()

	cases, err := loadCases(ctx, src)
	if err != nil {
		return err
	}
	n, err := replaceCases(ctx, dst, cases, c.log)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "copied %d cases from %s to %s\n", n, from, to)
	return nil
}

// openKnowledgeStore opens the store for backend. The returned func releases
// whatever was opened.
func openKnowledgeStore(ctx context.Context, cfg *config.Config, backend string, log *logger.Logger) (specialcase.KnowledgeBaseStore, func(), error) {
	noop := func() {}
	switch backend {
	case config.BackendFile:
		return specialcase.NewFileStore(cfg.KBFile, log), noop, nil
	case config.BackendSQLite:
		db, err := storage.New(ctx, cfg.SQLitePath(), log)
		if err != nil {
			return nil, noop, fmt.Errorf("database: %w", err)
		}
		return storage.NewKnowledgeStore(db), func() { _ = db.Close() }, nil
	case config.BackendR2:
		if !cfg.R2Enabled {
			return nil, noop, errors.New("R2 is not configured (set SALES_R2_ENABLED and credentials)")
		}
		client, err := r2client.New(ctx, r2client.Config{
			AccountID:   cfg.R2AccountID,
			AccessKeyID: cfg.R2AccessKeyID,
			SecretKey:   cfg.R2SecretAccessKey,
			BucketName:  cfg.R2BucketName,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("r2 client: %w", err)
		}
		return snapshot.New(client, snapshot.Config{SnapshotKey: cfg.R2SnapshotKey}, log), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown knowledge base backend %q", backend)
	}
}

// loadCases returns the stored cases; a store that was never written is empty.
func loadCases(ctx context.Context, store specialcase.KnowledgeBaseStore) ([]specialcase.SpecialCase, error) {
	snap, err := store.Load(ctx)
	if domerrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap.Cases, nil
}

// replaceCases validates cases through a Knowledge and flushes them into store.
func replaceCases(ctx context.Context, store specialcase.KnowledgeBaseStore, cases []specialcase.SpecialCase, log *logger.Logger) (int, error) {
	kb := specialcase.NewKnowledge(store, specialcase.KnowledgeOptions{Logger: log})
	if err := kb.Replace(cases); err != nil {
		return 0, err
	}
	if err := kb.Flush(ctx); err != nil {
		return 0, err
	}
	return kb.Len(), nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
