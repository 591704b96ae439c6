package blobfs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dendrascience/dendra-blobfs/blobstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// thumbMarker identifies generated thumbnails, which move together with
// the image they were generated from.
const thumbMarker = "_thumb."

// MigrationConfig bounds the copy wait of each relocation.
type MigrationConfig struct {
	Disabled            bool
	PollInitialInterval time.Duration
	PollMaxInterval     time.Duration
	CopyTimeout         time.Duration
}

func (c MigrationConfig) withDefaults() MigrationConfig {
	if c.PollInitialInterval <= 0 {
		c.PollInitialInterval = 50 * time.Millisecond
	}
	if c.PollMaxInterval <= 0 {
		c.PollMaxInterval = 2 * time.Second
	}
	if c.CopyTimeout <= 0 {
		c.CopyTimeout = 5 * time.Minute
	}
	return c
}

type (
	// RelocationUnit is a set of blobs moved into one new folder.
	RelocationUnit struct {
		Folder int
		Moves  []RedirectEntry
	}
	// MigrationPlan lists the relocations a run would perform.
	MigrationPlan struct {
		Skipped   bool // the redirect index already exists
		Watermark int  // highest numeric folder before the run
		Units     []RelocationUnit
	}
	RelocationFailure struct {
		Entry RedirectEntry
		Err   error
	}
	// MigrationReport is the outcome of Migrator.Run.
	MigrationReport struct {
		RunID     string
		Skipped   bool
		Watermark int
		Final     int
		Relocated []RedirectEntry
		Failed    []RelocationFailure
	}
)

// Final is the highest folder number the plan allocates.
func (p MigrationPlan) Final() int {
	if len(p.Units) == 0 {
		return p.Watermark
	}
	return p.Units[len(p.Units)-1].Folder
}

// Moves counts the blobs the plan relocates.
func (p MigrationPlan) Moves() int {
	n := 0
	for _, u := range p.Units {
		n += len(u.Moves)
	}
	return n
}

// Migrator renumbers legacy folders once per container: every blob is
// moved into a fresh folder above the current highest folder number and
// the moves are recorded in the redirect index.
type Migrator struct {
	backend blobstore.Backend
	cfg     MigrationConfig
	log     *zap.Logger
	// onMove is called after each successful relocation.
	onMove func(RedirectEntry)
}

func NewMigrator(backend blobstore.Backend, cfg MigrationConfig, log *zap.Logger) *Migrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Migrator{backend: backend, cfg: cfg.withDefaults(), log: log}
}

// withFolder replaces the first segment of name with folder.
func withFolder(name string, folder int) string {
	i := strings.Index(name, "/")
	return strconv.Itoa(folder) + name[i:]
}

// isSibling reports whether name belongs to the image rooted at root:
// the original ("root.ext") or one of its variants ("root_xyz...").
func isSibling(name, root string) bool {
	if len(name) <= len(root) || !strings.HasPrefix(name, root) {
		return false
	}
	c := name[len(root)]
	return c == '.' || c == '_'
}

// Plan computes the relocations without changing anything.
func (m *Migrator) Plan(ctx context.Context) (MigrationPlan, error) {
	var plan MigrationPlan
	done, err := HasRedirectIndex(ctx, m.backend)
	if err != nil {
		return plan, fmt.Errorf("failed to check migration marker: %w", err)
	}
	if done {
		plan.Skipped = true
		return plan, nil
	}

	plan.Watermark, err = MaxFolderNumber(ctx, m.backend)
	if err != nil || plan.Watermark == 0 {
		return plan, err
	}

	items, err := m.backend.List(ctx, "", true)
	if err != nil {
		return plan, fmt.Errorf("failed to list blobs: %w", err)
	}
	var names []string
	for _, item := range items {
		if item.IsDirectory || isReserved(item.Name) || !strings.Contains(item.Name, "/") {
			continue
		}
		names = append(names, item.Name)
	}

	alloc := folderAllocator{highest: plan.Watermark}
	assigned := make(map[string]bool, len(names))
	unit := func(members []string) {
		folder := alloc.next()
		u := RelocationUnit{Folder: folder}
		for _, name := range members {
			assigned[name] = true
			u.Moves = append(u.Moves, RedirectEntry{Old: name, New: withFolder(name, folder)})
		}
		plan.Units = append(plan.Units, u)
	}

	for _, thumb := range names {
		i := strings.LastIndex(thumb, thumbMarker)
		if i < 0 || assigned[thumb] {
			continue
		}
		root := thumb[:i]
		var members []string
		for _, name := range names {
			if !assigned[name] && isSibling(name, root) {
				members = append(members, name)
			}
		}
		unit(members)
	}
	for _, name := range names {
		if !assigned[name] {
			unit([]string{name})
		}
	}
	return plan, nil
}

// Run executes the plan. The pre-move watermark is recorded first when the
// container has none. Failed relocations leave the old blob in place
// and are left out of the index; the run carries on with the next unit.
// The index is written when at least one blob moved.
func (m *Migrator) Run(ctx context.Context) (MigrationReport, error) {
	report := MigrationReport{RunID: uuid.NewString()}
	log := m.log.With(zap.String("run", report.RunID))

	plan, err := m.Plan(ctx)
	if err != nil {
		return report, err
	}
	report.Skipped = plan.Skipped
	report.Watermark = plan.Watermark
	report.Final = plan.Watermark
	if plan.Skipped {
		log.Debug("redirect index present, migration skipped")
		return report, nil
	}
	if len(plan.Units) == 0 {
		log.Info("nothing to migrate", zap.Int("watermark", plan.Watermark))
		return report, nil
	}

	if err := recordWatermark(ctx, m.backend, plan.Watermark, log); err != nil {
		return report, err
	}

	log.Info("migrating folders",
		zap.Int("watermark", plan.Watermark),
		zap.Int("units", len(plan.Units)),
		zap.Int("blobs", plan.Moves()))

	var index RedirectIndex
	var runErr error
	for _, u := range plan.Units {
		if runErr = ctx.Err(); runErr != nil {
			break
		}
		for _, move := range u.Moves {
			if err := m.relocate(ctx, move); err != nil {
				relocations.WithLabelValues("failed").Inc()
				log.Error("relocation failed", zap.String("from", move.Old), zap.String("to", move.New), zap.Error(err))
				report.Failed = append(report.Failed, RelocationFailure{Entry: move, Err: err})
				continue
			}
			relocations.WithLabelValues("ok").Inc()
			index.Add(move)
			report.Relocated = append(report.Relocated, move)
			if m.onMove != nil {
				m.onMove(move)
			}
		}
		report.Final = u.Folder
	}

	if index.Len() > 0 {
		if err := SaveRedirectIndex(context.WithoutCancel(ctx), m.backend, index); err != nil {
			return report, err
		}
	}
	log.Info("migration finished",
		zap.Int("relocated", len(report.Relocated)),
		zap.Int("failed", len(report.Failed)),
		zap.Int("final", report.Final))
	return report, runErr
}
