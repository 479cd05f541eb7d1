package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"marketwatch/internal/app"
	"marketwatch/internal/config"
	"marketwatch/internal/market"
	"marketwatch/internal/render"
	"marketwatch/pkg/logx"
)

func diffCmd() *cobra.Command {
	var (
		showHidden bool
		opts       market.DiffOptions
	)
	cmd := &cobra.Command{
		Use:   "diff OLD.json NEW.json",
		Short: "Print the changes between two saved catalog documents",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			prev, err := loadSnapshot(args[0], showHidden)
			if err != nil {
				return err
			}
			cur, err := loadSnapshot(args[1], showHidden)
			if err != nil {
				return err
			}
			changes := market.Diff(prev, cur, opts)
			out := cmd.OutOrStdout()
			for _, c := range changes {
				fmt.Fprintln(out, c.String())
			}
			added, updated, removed := market.Count(changes)
			fmt.Fprintf(out, "%d added, %d updated, %d removed\n", added, updated, removed)
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&showHidden, "show-hidden", false, "include hidden packages")
	f.BoolVar(&opts.ShowDeletion, "show-deletion", false, "report removed packages")
	f.BoolVar(&opts.ShowPublisher, "show-publisher", false, "carry the publisher on added packages")
	f.BoolVar(&opts.ShowDescription, "show-description", false, "carry the description on added packages")
	return cmd
}

func loadSnapshot(path string, showHidden bool) (market.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cat, err := market.DecodeCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return market.Normalize(cat, showHidden), nil
}

func demoCmd() *cobra.Command {
	var (
		out    string
		locale string
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Render the sample change set to a file",
		Long: "Render the sample change set. An .html output gets the card document;\n" +
			"anything else gets the artifact (PNG with a screenshot endpoint, text otherwise).",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := loadOrDefault(cfgPath)
			if err != nil {
				return err
			}
			if locale != "" {
				if !render.ValidLocale(locale) {
					return fmt.Errorf("unsupported locale %q", locale)
				}
				cfg.Render.Locale = locale
			}
			r, err := app.NewRenderer(cfg, logx.NewConsole(cfg.Logging.Level))
			if err != nil {
				return err
			}

			var data []byte
			if strings.EqualFold(filepath.Ext(out), ".html") {
				doc, err := r.Document(render.DemoChanges())
				if err != nil {
					return err
				}
				data = []byte(doc)
			} else {
				art, err := r.Render(cmd.Context(), render.DemoChanges())
				if err != nil {
					return err
				}
				data = art.Image
				if !art.IsImage() {
					data = []byte(art.Text)
				}
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", out, humanize.Bytes(uint64(len(data))))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "demo.html", "output file")
	cmd.Flags().StringVar(&locale, "locale", "", "override render.locale")
	return cmd
}

// loadOrDefault reads the config, or falls back to defaults when the file
// does not exist.
func loadOrDefault(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path, logx.Nop()).Parse()
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &config.Config{}
		cfg.ApplyDefaults()
		return cfg, nil
	}
	return cfg, err
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent broadcast deliveries from the audit store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.NewConfigManager(cfgPath, logx.Nop()).Parse()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cfg, logx.Nop())
			if err != nil {
				return err
			}
			if st == nil {
				return errors.New("storage is disabled in the config")
			}
			defer st.Close()

			recs, err := st.RecentDeliveries(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "WHEN\tJOB\tDESTINATION\tOUTCOME\tSIZE\tERROR")
			for _, d := range recs {
				dest := market.Destination{Platform: d.Platform, BotID: d.BotID, ChannelID: d.ChannelID, GuildID: d.GuildID}
				job := d.JobID
				if len(job) > 8 {
					job = job[:8]
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					humanize.Time(d.At), job, dest, d.Outcome, humanize.Bytes(uint64(d.Bytes)), d.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of records")
	return cmd
}
