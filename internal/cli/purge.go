package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/recorder/internal/recorder"
)

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	ConfigPath string
	DBURL      string
	KeepDays   int
	Repack     bool
	Timeout    time.Duration
}

// PurgeSummary is the result of a purge run.
type PurgeSummary struct {
	DB       string `json:"db"`
	KeepDays int    `json:"keep_days"`
	Repacked bool   `json:"repacked"`
}

func (s PurgeSummary) String() string {
	msg := fmt.Sprintf("purged history older than %d day(s) from %s", s.KeepDays, s.DB)
	if s.Repacked {
		msg += " and repacked"
	}
	return msg
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete recorded history older than --keep-days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&opts.DBURL, "db", "", "database URL (overrides the config file)")
	cmd.Flags().IntVar(&opts.KeepDays, "keep-days", 0, "days of history to keep (required)")
	cmd.Flags().BoolVar(&opts.Repack, "repack", false, "reclaim disk space after purging")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Minute, "upper bound on the purge")
	_ = cmd.MarkFlagRequired("keep-days")

	return cmd
}

func runPurge(cmd *cobra.Command, opts *PurgeOptions) error {
	setupLogging(cmd.ErrOrStderr(), opts.Verbose)
	out := newFormatter(cmd, opts.RootOptions)

	if opts.KeepDays < 1 {
		return out.Fail(ExitCommandError, CodeConfig, "invalid --keep-days",
			errors.New("keep-days must be at least 1"))
	}
	cfg, err := loadConfig(opts.ConfigPath, opts.DBURL)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid configuration", err)
	}

	ctx, cancel := contextWithTimeout(cmd, opts.Timeout)
	defer cancel()

	rec := recorder.New(cfg)
	if err := startRecorder(ctx, rec); err != nil {
		_ = drainAndStop(ctx, rec, time.Minute)
		return out.Fail(ExitFailure, CodeDatabase, "failed to open database", err)
	}

	purgeErr := rec.Purge(ctx, opts.KeepDays, opts.Repack)
	if err := drainAndStop(ctx, rec, time.Minute); err != nil && purgeErr == nil {
		purgeErr = err
	}
	if purgeErr != nil {
		return out.Fail(ExitFailure, CodeRecorder, "purge failed", purgeErr)
	}
	return out.Success(PurgeSummary{
		DB:       recorder.RedactURL(cfg.DBURL),
		KeepDays: opts.KeepDays,
		Repacked: opts.Repack,
	})
}
