package cli

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/roach88/recorder/internal/recorder"
	"github.com/roach88/recorder/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	DBURL   string
	Timeout time.Duration

	Fs afero.Fs
}

// StatusReport describes a database without modifying it.
type StatusReport struct {
	DB                    string           `json:"db"`
	Dialect               string           `json:"dialect"`
	SchemaVersion         int              `json:"schema_version"`
	SupportedVersion      int              `json:"supported_version"`
	Fresh                 bool             `json:"fresh"`
	Valid                 bool             `json:"valid"`
	LiveMigrationPossible bool             `json:"live_migration_possible"`
	SizeBytes             int64            `json:"size_bytes,omitempty"`
	Counts                map[string]int64 `json:"counts,omitempty"`
}

func (r StatusReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "database:        %s (%s)\n", r.DB, r.Dialect)
	switch {
	case r.Fresh:
		b.WriteString("schema:          none (fresh database)\n")
	case r.Valid:
		fmt.Fprintf(&b, "schema:          %d (current)\n", r.SchemaVersion)
	default:
		mode := "blocking"
		if r.LiveMigrationPossible {
			mode = "live"
		}
		fmt.Fprintf(&b, "schema:          %d (needs %s migration to %d)\n", r.SchemaVersion, mode, r.SupportedVersion)
	}
	if r.SizeBytes > 0 {
		fmt.Fprintf(&b, "size:            %s\n", humanize.Bytes(uint64(r.SizeBytes)))
	}
	for _, table := range slices.Sorted(maps.Keys(r.Counts)) {
		fmt.Fprintf(&b, "%-16s %s\n", table+":", humanize.Comma(r.Counts[table]))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return newStatusCommand(&StatusOptions{RootOptions: rootOpts, Fs: afero.NewOsFs()})
}

func newStatusCommand(opts *StatusOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show schema version and row counts of a database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.DBURL, "db", "", "database URL (required)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "query timeout")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runStatus(cmd *cobra.Command, opts *StatusOptions) error {
	out := newFormatter(cmd, opts.RootOptions)

	target, err := store.ParseURL(opts.DBURL)
	if err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid database URL", err)
	}
	if target.SingleFile() {
		if err := requireFile(opts.Fs, target.Path); err != nil {
			return out.Fail(ExitCommandError, CodeDatabase, "database not found", err)
		}
	}

	report, err := collectStatus(cmd, opts, target)
	if err != nil {
		code := ExitFailure
		if errors.Is(err, store.ErrSchemaTooNew) {
			code = ExitCommandError
		}
		return out.Fail(code, CodeDatabase, "failed to read database status", err)
	}
	return out.Success(report)
}

func collectStatus(cmd *cobra.Command, opts *StatusOptions, target store.Target) (StatusReport, error) {
	ctx, cancel := contextWithTimeout(cmd, opts.Timeout)
	defer cancel()

	db, err := store.Open(ctx, opts.DBURL)
	if err != nil {
		return StatusReport{}, err
	}
	defer db.Close()

	status, err := db.Validate(ctx)
	if err != nil {
		return StatusReport{}, err
	}

	report := StatusReport{
		DB:                    recorder.RedactURL(opts.DBURL),
		Dialect:               target.Dialect.String(),
		SchemaVersion:         status.Current,
		SupportedVersion:      store.SchemaVersion,
		Fresh:                 status.Fresh,
		Valid:                 status.Valid,
		LiveMigrationPossible: status.LiveMigrationPossible,
	}
	// Older schemas lack some of the counted tables.
	if status.Valid {
		if report.Counts, err = db.Counts(ctx); err != nil {
			return StatusReport{}, err
		}
	}
	if target.SingleFile() {
		if report.SizeBytes, err = store.FileSize(opts.Fs, target.Path); err != nil {
			return StatusReport{}, err
		}
	}
	return report, nil
}
