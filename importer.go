package treesync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kettleworks/treesync/internal/observability"
	"github.com/kettleworks/treesync/treetype"
)

// entryGrammar is the fixed path grammar reconstructing hierarchy from a
// flat archive: <kind-folder>/<resource-id>/<rest>. Entries that don't match
// it are silently ignored.
var entryGrammar = regexp.MustCompile(`^([^/]+)/([^/]+)/(.+)$`)

// metadataFileName is the required metadata entry at the archive root and
// inside every resource group.
const metadataFileName = "metadata.json"

// Importer reconstructs an exercise's resource tree from a flat container,
// creating relational rows and enqueueing the same sync jobs as a normal
// create.
type Importer struct {
	service *Service
	logger  *slog.Logger
}

// NewImporter creates an importer on top of the write path.
func NewImporter(service *Service, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{service: service, logger: logger}
}

// metadataRefs are the content file references parsed out of a resource's
// metadata. The rest of the metadata object is opaque to the importer.
type metadataRefs struct {
	Pathname string `json:"pathname"`
	Input    string `json:"input"`
	Output   string `json:"output"`
}

// ImportProcessEntries imports a whole exercise from archive entries.
//
// The root metadata.json is required; its absence fails the import before
// any row is written. Child groups run as one fan-out batch: the call
// succeeds only if every sub-import succeeds, but sub-imports that did
// succeed have already durably written their rows and enqueued their sync
// jobs by the time a sibling's failure rejects the batch. The exercise
// record is returned whenever the root import went through, even alongside
// a batch error.
func (imp *Importer) ImportProcessEntries(ctx context.Context, actor treetype.Actor, exerciseID string, entries map[string]ArchiveEntry) (*treetype.ResourceRecord, error) {
	root, ok := entries[metadataFileName]
	if !ok {
		return nil, &MissingMetadataError{}
	}
	rootMetadata, err := root.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read root metadata: %w", err)
	}

	exercise, err := imp.service.CreateOne(ctx, actor, KindExercise, CreateInput{
		ID:       exerciseID,
		Metadata: rootMetadata,
	})
	if err != nil {
		return nil, err
	}

	groups := imp.partition(entries)

	var batch errgroup.Group
	for key, group := range groups {
		key, group := key, group
		batch.Go(func() error {
			desc, _ := imp.service.kinds.ByFolder(key.folder)
			err := imp.importGroup(ctx, actor, desc, exercise.ID, "", key.id, key.folder+"/"+key.id, group)
			if err != nil {
				observability.ImportResources.WithLabelValues("error").Inc()
				return err
			}
			observability.ImportResources.WithLabelValues("ok").Inc()
			return nil
		})
	}
	if err := batch.Wait(); err != nil {
		// Sibling rows written before the failure stay durable; only the
		// batch as a whole is rejected.
		return exercise, err
	}
	return exercise, nil
}

type groupKey struct {
	folder string
	id     string
}

// partition groups the non-root entries by (kind folder, resource id),
// keyed inside each group by the remaining path. Entries outside the
// grammar, or under an unrecognized folder, are dropped without error.
func (imp *Importer) partition(entries map[string]ArchiveEntry) map[groupKey]map[string]ArchiveEntry {
	groups := make(map[groupKey]map[string]ArchiveEntry)
	for entryPath, entry := range entries {
		if entryPath == metadataFileName {
			continue
		}
		match := entryGrammar.FindStringSubmatch(entryPath)
		if match == nil {
			continue
		}
		if _, ok := imp.service.kinds.ByFolder(match[1]); !ok {
			imp.logger.Debug("ignoring archive entry under unknown folder", "path", entryPath)
			continue
		}
		key := groupKey{folder: match[1], id: match[2]}
		if groups[key] == nil {
			groups[key] = make(map[string]ArchiveEntry)
		}
		groups[key][match[3]] = entry
	}
	return groups
}

// importGroup imports one resource from its group of entries. Test set
// groups are further sub-partitioned into tests/<id>/... and recurse with
// the same shape.
func (imp *Importer) importGroup(ctx context.Context, actor treetype.Actor, desc KindDescriptor, exerciseID, testSetID, resourceID, scope string, group map[string]ArchiveEntry) error {
	own := group
	var testGroups map[groupKey]map[string]ArchiveEntry

	if desc.Name == "testset" {
		own = make(map[string]ArchiveEntry)
		testGroups = make(map[groupKey]map[string]ArchiveEntry)
		for rest, entry := range group {
			match := entryGrammar.FindStringSubmatch(rest)
			if match != nil && match[1] == "tests" {
				key := groupKey{folder: "tests", id: match[2]}
				if testGroups[key] == nil {
					testGroups[key] = make(map[string]ArchiveEntry)
				}
				testGroups[key][match[3]] = entry
				continue
			}
			own[rest] = entry
		}
	}

	metadataEntry, ok := own[metadataFileName]
	if !ok {
		return &MissingMetadataError{Scope: scope}
	}
	metadata, err := metadataEntry.Bytes()
	if err != nil {
		return fmt.Errorf("failed to read metadata of %q: %w", scope, err)
	}

	refs, err := parseRefs(metadata)
	if err != nil {
		return fmt.Errorf("malformed metadata of %q: %w", scope, err)
	}

	in := CreateInput{
		ID:         resourceID,
		ExerciseID: exerciseID,
		TestSetID:  testSetID,
		Metadata:   metadata,
	}
	if in.File, err = referencedUpload(own, scope, refs.Pathname); err != nil {
		return err
	}
	if in.Input, err = referencedUpload(own, scope, refs.Input); err != nil {
		return err
	}
	if in.Output, err = referencedUpload(own, scope, refs.Output); err != nil {
		return err
	}

	if _, err := imp.service.CreateOne(ctx, actor, desc.Name, in); err != nil {
		return err
	}

	testDesc, err := imp.service.kinds.ByName("test")
	if err != nil {
		return err
	}
	for key, testGroup := range testGroups {
		testScope := path.Join(scope, "tests", key.id)
		if err := imp.importGroup(ctx, actor, testDesc, exerciseID, resourceID, key.id, testScope, testGroup); err != nil {
			return err
		}
	}
	return nil
}

// referencedUpload resolves a content file referenced by the metadata.
// A missing reference is fatal to the sub-import; an empty reference means
// the resource carries no such blob.
func referencedUpload(group map[string]ArchiveEntry, scope, pathname string) (*Upload, error) {
	if pathname == "" {
		return nil, nil
	}
	entry, ok := group[pathname]
	if !ok {
		return nil, &MissingReferencedFileError{Scope: scope, Pathname: pathname}
	}
	return &Upload{Name: path.Base(pathname), Bytes: entry.Bytes}, nil
}

func parseRefs(metadata []byte) (*metadataRefs, error) {
	var refs metadataRefs
	if err := json.Unmarshal(metadata, &refs); err != nil {
		return nil, err
	}
	refs.Pathname = strings.TrimPrefix(refs.Pathname, "./")
	refs.Input = strings.TrimPrefix(refs.Input, "./")
	refs.Output = strings.TrimPrefix(refs.Output, "./")
	return &refs, nil
}
