package treesync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kettleworks/treesync/internal/observability"
	"github.com/kettleworks/treesync/remotetree"
	"github.com/kettleworks/treesync/treestore"
	"github.com/kettleworks/treesync/treetype"
)

// exportFetchLimit bounds the export fan-out so a large exercise does not
// hammer the rate-limited remote API.
const exportFetchLimit = 8

// Exporter walks an exercise's resource tree and mirrors the remote tree's
// blobs into an output container. A blob whose fetch fails (the mirror
// never caught up, or was deleted out-of-band) is logged and omitted; export
// never fails outright because of one missing blob.
type Exporter struct {
	store  treestore.Store
	remote *remotetree.Client
	kinds  *Kinds
	repo   string
	logger *slog.Logger
}

// NewExporter creates an exporter.
func NewExporter(store treestore.Store, remote *remotetree.Client, kinds *Kinds, repo string, logger *slog.Logger) *Exporter {
	if kinds == nil {
		kinds = DefaultKinds()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		store:  store,
		remote: remote,
		kinds:  kinds,
		repo:   repo,
		logger: logger,
	}
}

// Export writes the exercise's mirrored tree into the sink. The sink is
// finalized only after the whole fan-out has settled.
func (e *Exporter) Export(ctx context.Context, actor treetype.Actor, exerciseID string, sink Sink) error {
	exercise, err := e.store.Get(ctx, KindExercise, exerciseID)
	if err != nil {
		return &PersistenceError{Op: "load", Err: err}
	}
	records, err := e.store.ListByExercise(ctx, exerciseID)
	if err != nil {
		return &PersistenceError{Op: "load", Err: err}
	}

	e.logger.InfoContext(ctx, "exporting exercise",
		"exercise_id", exerciseID, "resources", len(records), "actor", actor.Email)

	rootPrefix := e.kinds.FolderPath(exercise) + "/"

	var fanout errgroup.Group
	fanout.SetLimit(exportFetchLimit)

	fetch := func(remotePath string) {
		fanout.Go(func() error {
			content, _, err := e.remote.ReadFile(ctx, e.repo, remotePath)
			if err != nil {
				// Omitted, not fatal: the container simply misses this
				// entry.
				observability.ExportFetchFailures.Inc()
				e.logger.WarnContext(ctx, "omitting blob from export",
					"exercise_id", exerciseID, "path", remotePath, "error", err)
				return nil
			}
			return sink.Put(strings.TrimPrefix(remotePath, rootPrefix), content)
		})
	}

	fetch(e.kinds.MetadataPath(exercise))
	for _, record := range records {
		fetch(e.kinds.MetadataPath(record))
		desc, err := e.kinds.ByName(record.Kind)
		if err != nil {
			e.logger.WarnContext(ctx, "skipping record of unknown kind",
				"kind", record.Kind, "resource_id", record.ID)
			continue
		}
		for _, blob := range desc.ContentBlobs {
			if record.BlobPathname(blob) == "" {
				continue
			}
			fetch(e.kinds.ContentPath(record, blob))
		}
	}

	if err := fanout.Wait(); err != nil {
		return fmt.Errorf("writing export container: %w", err)
	}
	return sink.Close()
}
