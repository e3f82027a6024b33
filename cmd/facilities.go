package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/incinerator-map/internal/config"
	"github.com/sells-group/incinerator-map/internal/display"
	"github.com/sells-group/incinerator-map/internal/facility"
	"github.com/sells-group/incinerator-map/internal/geo"
	"github.com/sells-group/incinerator-map/internal/provider"
)

var facilitiesCmd = &cobra.Command{
	Use:   "facilities",
	Short: "List and import facility records",
}

type listOptions struct {
	remote bool
	status string
	bbox   string
	zoom   int
	json   bool
	now    func() time.Time
}

var listOpts = listOptions{now: time.Now}

var facilitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List facilities the way the map would show them",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runList(cmd.Context(), cfg, listOpts, cmd.OutOrStdout())
	},
}

var importFile string

var facilitiesImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load facility records into the configured sqlite or postgres store",
	Long:  "Validates a JSON array of facility records and upserts it into the configured store. Without --file the bundled dataset is imported.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd.Context(), cfg, importFile, cmd.OutOrStdout())
	},
}

func init() {
	f := facilitiesListCmd.Flags()
	f.BoolVar(&listOpts.remote, "remote", false, "fetch from the remote facility service")
	f.StringVar(&listOpts.status, "status", "", "comma-separated statuses to show (default all)")
	f.StringVar(&listOpts.bbox, "bbox", "", "limit to a viewport given as north,south,east,west")
	f.IntVar(&listOpts.zoom, "zoom", 8, "viewport zoom sent with --bbox")
	f.BoolVar(&listOpts.json, "json", false, "print markers as JSON")

	facilitiesImportCmd.Flags().StringVar(&importFile, "file", "", "JSON file of facility records (default bundled dataset)")

	facilitiesCmd.AddCommand(facilitiesListCmd, facilitiesImportCmd)
	rootCmd.AddCommand(facilitiesCmd)
}

// runList drives a Provider through load and an optional viewport update,
// then prints the rendered markers.
func runList(ctx context.Context, c *config.Config, opts listOptions, w io.Writer) error {
	filter, err := display.ParseFilter(opts.status)
	if err != nil {
		return err
	}
	var vp *geo.Viewport
	if opts.bbox != "" {
		b, err := parseBBoxFlag(opts.bbox)
		if err != nil {
			return err
		}
		vp = &geo.Viewport{Bounds: b, Zoom: opts.zoom}
		if err := vp.Validate(); err != nil {
			return eris.Wrap(err, "invalid --bbox")
		}
	}

	store, closeStore, err := openStore(ctx, c.Facilities)
	if err != nil {
		return eris.Wrap(err, "open facility store")
	}
	defer closeStore()

	p := provider.New(provider.NewStoreSource("local", store), newRemote(c.Facilities), nil)
	if err := p.Load(ctx, opts.remote); err != nil {
		return err
	}
	if vp != nil {
		if err := p.UpdateViewport(ctx, *vp); err != nil {
			return err
		}
	}

	st := p.State()
	now := opts.now
	if now == nil {
		now = time.Now
	}
	markers := display.Render(st.Facilities, filter, now())

	if opts.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(markers)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tNAME\tLAT\tLNG\tCAPACITY")
	for _, m := range markers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.4f\t%.4f\t%s\n",
			m.ID, m.Status, m.Popup.Name, m.Lat, m.Lng, m.Popup.Capacity)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	source := "local"
	if st.UsingRemote {
		source = "remote"
	}
	_, err = fmt.Fprintf(w, "%d shown, %d in view of %d loaded (%s)\n", len(markers), st.Total, st.Loaded, source)
	return err
}

// runImport upserts records from path, or the bundled dataset when path is
// empty, into the configured store.
func runImport(ctx context.Context, c *config.Config, path string, w io.Writer) error {
	records, err := readRecords(ctx, path)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, c.Facilities)
	if err != nil {
		return eris.Wrap(err, "open facility store")
	}
	defer closeStore()

	imp, ok := store.(importer)
	if !ok {
		return eris.Errorf("facilities driver %q does not support import", c.Facilities.Driver)
	}
	if err := imp.Migrate(ctx); err != nil {
		return err
	}
	n, err := imp.Import(ctx, records)
	if err != nil {
		return err
	}

	zap.L().Info("import complete",
		zap.Int("facilities", n),
		zap.String("driver", c.Facilities.Driver),
		zap.String("file", path),
	)
	_, err = fmt.Fprintf(w, "imported %d facilities into %s\n", n, c.Facilities.Driver)
	return err
}

func readRecords(ctx context.Context, path string) ([]facility.Facility, error) {
	if path == "" {
		return facility.Bundled().List(ctx, nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return facility.LoadJSON(f)
}

// parseBBoxFlag parses "north,south,east,west".
func parseBBoxFlag(s string) (geo.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geo.BBox{}, eris.Errorf("invalid --bbox %q: want north,south,east,west", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geo.BBox{}, eris.Wrapf(err, "invalid --bbox %q", s)
		}
		v[i] = f
	}
	return geo.BBox{North: v[0], South: v[1], East: v[2], West: v[3]}, nil
}
