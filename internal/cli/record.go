package cli

import (
	"fmt"
	iofs "io/fs"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/roach88/recorder/internal/model"
	"github.com/roach88/recorder/internal/recorder"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	ConfigPath string
	DBURL      string
	Timeout    time.Duration

	Fs afero.Fs
}

// RecordSummary is the result of a record run.
type RecordSummary struct {
	Files    int    `json:"files"`
	Events   int    `json:"events"`
	Accepted int    `json:"accepted"`
	Dropped  int    `json:"dropped"`
	DB       string `json:"db"`
}

func (s RecordSummary) String() string {
	return fmt.Sprintf("recorded %d of %d events from %d file(s) into %s (%d dropped)",
		s.Accepted, s.Events, s.Files, s.DB, s.Dropped)
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	return newRecordCommand(&RecordOptions{RootOptions: rootOpts, Fs: afero.NewOsFs()})
}

func newRecordCommand(opts *RecordOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record [flags] FILE...",
		Short: "Record NDJSON event files and exit",
		Long: `Record the events in one or more NDJSON files.

The command returns once every accepted event is committed. Events the
filter excludes, or offered after the backlog limit tripped, are counted
as dropped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&opts.DBURL, "db", "", "database URL (overrides the config file)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "upper bound on the whole run")

	return cmd
}

func runRecord(cmd *cobra.Command, opts *RecordOptions, files []string) error {
	setupLogging(cmd.ErrOrStderr(), opts.Verbose)
	out := newFormatter(cmd, opts.RootOptions)

	cfg, err := loadConfig(opts.ConfigPath, opts.DBURL)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid configuration", err)
	}

	for _, f := range files {
		if err := requireFile(opts.Fs, f); err != nil {
			return out.Fail(ExitCommandError, CodeInput, "input file not found", err)
		}
	}

	ctx := cmd.Context()
	rec := recorder.New(cfg)
	if err := startRecorder(ctx, rec); err != nil {
		_ = drainAndStop(ctx, rec, opts.Timeout)
		return out.Fail(ExitFailure, CodeDatabase, "failed to open database", err)
	}

	summary := RecordSummary{DB: recorder.RedactURL(cfg.DBURL)}
	for _, path := range files {
		n, err := recordFile(opts.Fs, path, rec, &summary)
		summary.Events += n
		if err != nil {
			_ = drainAndStop(ctx, rec, opts.Timeout)
			return out.Fail(ExitCommandError, CodeInput, "failed to read events", err)
		}
		summary.Files++
		out.VerboseLog("%s: %d events", path, n)
	}

	if err := drainAndStop(ctx, rec, opts.Timeout); err != nil {
		return out.Fail(ExitFailure, CodeRecorder, "failed to write events", err)
	}
	return out.Success(summary)
}

func requireFile(fs afero.Fs, path string) error {
	ok, err := afero.Exists(fs, path)
	if err == nil && !ok {
		err = iofs.ErrNotExist
	}
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func recordFile(fs afero.Fs, path string, rec *recorder.Recorder, summary *RecordSummary) (int, error) {
	f, err := fs.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := readEvents(f, time.Now, func(ev model.Event) error {
		if rec.RecordEvent(ev) {
			summary.Accepted++
		} else {
			summary.Dropped++
		}
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}
