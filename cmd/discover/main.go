// Command discover runs one discovery query against the configured listing
// source and prints the ordered result cards. With -import it loads a JSON
// listing file into Postgres instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"

	"github.com/yourorg/rental-discovery/internal/app"
	"github.com/yourorg/rental-discovery/internal/config"
	"github.com/yourorg/rental-discovery/internal/discovery"
	"github.com/yourorg/rental-discovery/internal/hydrator"
	"github.com/yourorg/rental-discovery/internal/logging"
	"github.com/yourorg/rental-discovery/internal/store"
)

type options struct {
	snapshot    string
	importPath  string
	query       string
	minPrice    string
	maxPrice    string
	minCapacity string
	amenities   string
	near        string
	radius      float64
	sort        string
	asJSON      bool
	timeout     time.Duration
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("discover", flag.ContinueOnError)
	fs.StringVar(&o.snapshot, "snapshot", "", "listing JSON file (overrides SNAPSHOT_PATH)")
	fs.StringVar(&o.importPath, "import", "", "load this listing JSON file into DATABASE_URL and exit")
	fs.StringVar(&o.query, "q", "", "text search")
	fs.StringVar(&o.minPrice, "min-price", "", "minimum monthly price")
	fs.StringVar(&o.maxPrice, "max-price", "", "maximum monthly price")
	fs.StringVar(&o.minCapacity, "min-capacity", "", "minimum capacity")
	fs.StringVar(&o.amenities, "amenities", "", "comma-separated required amenities")
	fs.StringVar(&o.near, "near", "", "location to anchor a radius search on")
	fs.Float64Var(&o.radius, "radius", 5, "search radius in km")
	fs.StringVar(&o.sort, "sort", "", "distance, price_asc, price_desc, capacity_asc, capacity_desc, newest, oldest")
	fs.BoolVar(&o.asJSON, "json", false, "print JSON instead of a table")
	fs.DurationVar(&o.timeout, "timeout", 15*time.Second, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if o.snapshot != "" {
		os.Setenv("SNAPSHOT_PATH", o.snapshot)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: "console"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	if o.importPath != "" {
		err = importListings(ctx, cfg, o.importPath)
	} else {
		err = discover(ctx, cfg, o, os.Stdout)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "discover:", err)
		os.Exit(1)
	}
}

func importListings(ctx context.Context, cfg *config.Config, path string) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("-import needs DATABASE_URL")
	}
	rows, err := hydrator.FileSource{Path: path}.Rows(ctx)
	if err != nil {
		return err
	}
	valid := make([]store.ListingRow, 0, len(rows))
	for _, r := range rows {
		if _, err := hydrator.ToListing(r); err != nil {
			logging.Warn().Err(err).Int64("listing", r.ID).Msg("skipping listing")
			continue
		}
		valid = append(valid, r)
	}
	cfg.Snapshot.Path = ""
	_, st, closeSource, err := app.ListingSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()
	if err := st.UpsertListings(ctx, valid); err != nil {
		return err
	}
	logging.Info().Int("listings", len(valid)).Int("skipped", len(rows)-len(valid)).Msg("import complete")
	return nil
}

func discover(ctx context.Context, cfg *config.Config, o options, out io.Writer) error {
	src, _, closeSource, err := app.ListingSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()
	snap, err := hydrator.New(src).Load(ctx)
	if err != nil {
		return err
	}

	var notices []discovery.Notice
	eng := discovery.NewEngine(snap, app.Limits(cfg), discovery.ListenerFunc(func(ev discovery.Event) {
		if ev.Kind == discovery.EventNotice && ev.Notice != nil {
			notices = append(notices, *ev.Notice)
		}
	}))
	eng.ApplyFilter(discovery.ParseFilter(discovery.RawFilter{
		TextQuery:   o.query,
		MinPrice:    o.minPrice,
		MaxPrice:    o.maxPrice,
		MinCapacity: o.minCapacity,
		Amenities:   splitList(o.amenities),
	}, eng.Limits()))

	if o.sort != "" {
		if _, err := eng.SetSort(discovery.SortKey(o.sort)); err != nil {
			return err
		}
	}
	if o.near != "" {
		maps, closeMaps := app.MapsService(ctx, cfg)
		defer closeMaps()
		if err := anchor(ctx, eng, maps, o); err != nil {
			return err
		}
	}
	for _, n := range notices {
		fmt.Fprintf(os.Stderr, "%s: %s\n", n.Code, n.Message)
	}
	return printResults(out, eng.State(), o.asJSON)
}

// anchor geocodes o.near synchronously and anchors the engine on it.
func anchor(ctx context.Context, eng *discovery.Engine, g discovery.Geocoder, o options) error {
	t, err := eng.BeginSearch(o.near, o.radius, discovery.SortKey(o.sort))
	if err != nil {
		return err
	}
	res, err := g.Geocode(ctx, t.Query)
	if err != nil {
		eng.FailSearch(t, err)
		return fmt.Errorf("geocode %q: %w", o.near, err)
	}
	eng.CompleteSearch(t, res)
	return nil
}

func printResults(w io.Writer, st discovery.State, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	if st.Anchor != nil {
		fmt.Fprintf(w, "near %s (%.0f km, sorted by %s)\n", st.Anchor.Address, st.Anchor.RadiusKm, st.SortKey)
	}
	if st.Empty {
		fmt.Fprintln(w, "no listings match")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tPRICE\tUNITS\tDISTANCE\tAMENITIES")
	for _, c := range st.Cards {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d/%d\t%s\t%s\n", c.ID, c.Title, discovery.FormatPrice(c.Price),
			c.AvailableUnits, c.TotalUnits, c.DistanceLabel, strings.Join(c.AmenityPreview, ", "))
	}
	return tw.Flush()
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
