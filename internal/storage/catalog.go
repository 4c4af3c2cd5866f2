package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/mvp-joe/geoindexer/internal/indexer"
	"github.com/mvp-joe/geoindexer/internal/logging"
)

var (
	// ErrRunNotFound indicates a run id that is not in the catalog.
	ErrRunNotFound = errors.New("run not found")

	// ErrNoRuns indicates an empty catalog.
	ErrNoRuns = errors.New("catalog has no runs")
)

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID        string
	Root      string
	Started   time.Time
	Finished  time.Time
	Elapsed   time.Duration
	Cancelled bool
	Skipped   int
	TargetCRS string
	Features  int
	Totals    indexer.Counts
}

// StoredRun is a run loaded back from the catalog. Features are the
// per-asset features in their native CRS, so aggregates can be derived
// again from them.
type StoredRun struct {
	Root      string
	TargetCRS string
	Snapshot  *indexer.Snapshot
	Features  *geojson.FeatureCollection
}

// Catalog persists run reports and footprints in SQLite.
type Catalog struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// OpenCatalog opens or creates the catalog database at path.
func OpenCatalog(path string, logger *zap.SugaredLogger) (*Catalog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create catalog directory")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open catalog")
	}
	// A single connection keeps the foreign_keys pragma in effect.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable foreign keys")
	}

	version, err := GetSchemaVersion(db)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to check schema version")
	}
	if version == "0" {
		if err := CreateSchema(db); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "failed to create schema")
		}
	}

	return newCatalog(db, logger), nil
}

// newCatalog wraps an already prepared database.
func newCatalog(db *sql.DB, logger *zap.SugaredLogger) *Catalog {
	return &Catalog{db: db, logger: logging.OrNop(logger)}
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// SaveRun stores the snapshot, failure ledger and features of a run.
// Saving a run id again replaces the earlier copy.
func (c *Catalog) SaveRun(ctx context.Context, root string, res *indexer.Result) error {
	s := res.Snapshot

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() // Safe to call even after commit

	if _, err := sq.Delete("runs").Where(sq.Eq{"run_id": s.RunID}).RunWith(tx).ExecContext(ctx); err != nil {
		return errors.Wrapf(err, "failed to clear run %s", s.RunID)
	}

	target := ""
	features := 0
	if res.Coverage != nil {
		target = res.Coverage.Target.ID()
		features = len(res.Coverage.Features.Features)
	}

	_, err = sq.Insert("runs").
		Columns("run_id", "root", "started_at", "finished_at", "elapsed_ns", "cancelled", "skipped", "target_crs", "features").
		Values(s.RunID, root, formatTime(s.Started), formatTime(s.Finished), int64(s.Elapsed), s.Cancelled, s.Skipped, target, features).
		RunWith(tx).
		ExecContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to insert run %s", s.RunID)
	}

	for _, f := range s.Families() {
		counts := s.Statistics[f]
		_, err := sq.Insert("run_stats").
			Columns("run_id", "family", "attempted", "succeeded", "failed").
			Values(s.RunID, string(f), counts.Attempted, counts.Succeeded, counts.Failed).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return errors.Wrapf(err, "failed to insert stats for %s", f)
		}
	}

	for _, e := range s.Entries {
		_, err := sq.Insert("run_failures").
			Columns("run_id", "kind", "path", "layer", "family", "detail", "occurred_at").
			Values(s.RunID, string(e.Kind), e.Path, e.Layer, string(e.Family), e.Detail, formatTime(e.Time)).
			RunWith(tx).
			ExecContext(ctx)
		if err != nil {
			return errors.Wrapf(err, "failed to insert failure %s", e.ID())
		}
	}

	if res.Coverage != nil {
		for _, f := range res.Coverage.Features.Features {
			data, err := f.MarshalJSON()
			if err != nil {
				return errors.Wrap(err, "failed to marshal feature")
			}
			_, err = sq.Insert("footprints").
				Columns("run_id", "uid", "path", "layer", "family", "crs", "valid", "feature").
				Values(
					s.RunID,
					f.Properties.MustString(indexer.PropUID, ""),
					featurePath(f),
					f.Properties.MustString(indexer.PropLayer, ""),
					f.Properties.MustString(indexer.PropFamily, ""),
					f.Properties.MustString(indexer.PropCRS, ""),
					f.Properties.MustBool(indexer.PropValid, false),
					string(data),
				).
				RunWith(tx).
				ExecContext(ctx)
			if err != nil {
				return errors.Wrap(err, "failed to insert footprint")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	c.logger.Debugw("Run catalogued", logging.FieldRunID, s.RunID, logging.FieldCount, features)
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (c *Catalog) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := sq.Select(
		"r.run_id", "r.root", "r.started_at", "r.finished_at", "r.elapsed_ns",
		"r.cancelled", "r.skipped", "r.target_crs", "r.features",
		"COALESCE(SUM(s.attempted), 0)", "COALESCE(SUM(s.succeeded), 0)", "COALESCE(SUM(s.failed), 0)",
	).
		From("runs r").
		LeftJoin("run_stats s ON s.run_id = r.run_id").
		GroupBy("r.run_id").
		OrderBy("r.started_at DESC", "r.run_id")
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	rows, err := query.RunWith(c.db).QueryContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list runs")
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var started, finished string
		var elapsed int64
		if err := rows.Scan(&r.ID, &r.Root, &started, &finished, &elapsed,
			&r.Cancelled, &r.Skipped, &r.TargetCRS, &r.Features,
			&r.Totals.Attempted, &r.Totals.Succeeded, &r.Totals.Failed); err != nil {
			return nil, errors.Wrap(err, "failed to scan run")
		}
		r.Started = parseTime(started)
		r.Finished = parseTime(finished)
		r.Elapsed = time.Duration(elapsed)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate runs")
	}
	return runs, nil
}

// LatestRun loads the most recently started run.
func (c *Catalog) LatestRun(ctx context.Context) (*StoredRun, error) {
	runs, err := c.ListRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}
	return c.LoadRun(ctx, runs[0].ID)
}

// LoadRun loads a run with its statistics, failures and features.
func (c *Catalog) LoadRun(ctx context.Context, id string) (*StoredRun, error) {
	out := &StoredRun{Snapshot: &indexer.Snapshot{
		RunID:      id,
		Statistics: make(map[indexer.Family]indexer.Counts),
		Failures:   make(map[indexer.FailureKind][]string),
	}}
	s := out.Snapshot

	var started, finished string
	var elapsed int64
	err := sq.Select("root", "started_at", "finished_at", "elapsed_ns", "cancelled", "skipped", "target_crs").
		From("runs").
		Where(sq.Eq{"run_id": id}).
		RunWith(c.db).
		QueryRowContext(ctx).
		Scan(&out.Root, &started, &finished, &elapsed, &s.Cancelled, &s.Skipped, &out.TargetCRS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrRunNotFound, "%s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load run %s", id)
	}
	s.Started = parseTime(started)
	s.Finished = parseTime(finished)
	s.Elapsed = time.Duration(elapsed)

	if err := c.loadStats(ctx, s); err != nil {
		return nil, err
	}
	if err := c.loadFailures(ctx, s); err != nil {
		return nil, err
	}
	if out.Features, err = c.loadFeatures(ctx, id); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Catalog) loadStats(ctx context.Context, s *indexer.Snapshot) error {
	rows, err := sq.Select("family", "attempted", "succeeded", "failed").
		From("run_stats").
		Where(sq.Eq{"run_id": s.RunID}).
		RunWith(c.db).
		QueryContext(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load stats")
	}
	defer rows.Close()

	for rows.Next() {
		var family string
		var counts indexer.Counts
		if err := rows.Scan(&family, &counts.Attempted, &counts.Succeeded, &counts.Failed); err != nil {
			return errors.Wrap(err, "failed to scan stats")
		}
		s.Statistics[indexer.Family(family)] = counts
	}
	return rows.Err()
}

func (c *Catalog) loadFailures(ctx context.Context, s *indexer.Snapshot) error {
	rows, err := sq.Select("kind", "path", "layer", "family", "detail", "occurred_at").
		From("run_failures").
		Where(sq.Eq{"run_id": s.RunID}).
		OrderBy("failure_id").
		RunWith(c.db).
		QueryContext(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load failures")
	}
	defer rows.Close()

	for rows.Next() {
		var e indexer.FailureEntry
		var kind, family, occurred string
		if err := rows.Scan(&kind, &e.Path, &e.Layer, &family, &e.Detail, &occurred); err != nil {
			return errors.Wrap(err, "failed to scan failure")
		}
		e.Kind = indexer.FailureKind(kind)
		e.Family = indexer.Family(family)
		e.Time = parseTime(occurred)
		s.Entries = append(s.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// Entries were saved in snapshot order, so the grouping stays sorted.
	for _, e := range s.Entries {
		s.Failures[e.Kind] = append(s.Failures[e.Kind], e.ID())
	}
	return nil
}

func (c *Catalog) loadFeatures(ctx context.Context, id string) (*geojson.FeatureCollection, error) {
	rows, err := sq.Select("feature").
		From("footprints").
		Where(sq.Eq{"run_id": id}).
		RunWith(c.db).
		QueryContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load footprints")
	}
	defer rows.Close()

	fc := geojson.NewFeatureCollection()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, "failed to scan footprint")
		}
		f, err := geojson.UnmarshalFeature([]byte(data))
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode footprint")
		}
		fc.Append(f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Restore the asset order the features were written in.
	sort.SliceStable(fc.Features, func(i, j int) bool {
		return featureKey(fc.Features[i]) < featureKey(fc.Features[j])
	})
	return fc, nil
}

// featurePath is the asset path of a feature: its directory URI and file name.
func featurePath(f *geojson.Feature) string {
	dir := strings.TrimPrefix(f.Properties.MustString(indexer.PropPath, ""), "file://")
	return filepath.Join(filepath.FromSlash(dir), f.Properties.MustString(indexer.PropFileName, ""))
}

func featureKey(f *geojson.Feature) string {
	key := featurePath(f)
	if layer := f.Properties.MustString(indexer.PropLayer, ""); layer != "" {
		key += " | " + layer
	}
	return key
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
