// Package library keeps the citation index in sync with the bibliography
// files of a workspace. Files are parsed off the scheduler goroutine and
// committed through it.
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/clementpoiret/bibli-ls/internal/bibliography"
	"github.com/clementpoiret/bibli-ls/internal/index"
	"github.com/clementpoiret/bibli-ls/internal/scheduler"
	"github.com/clementpoiret/bibli-ls/internal/store"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var log = commonlog.GetLogger("bibli.library")

// Notifier receives warnings meant for the user.
type Notifier func(message string)

type fileState struct {
	modTime time.Time
	size    int64
}

type parsed struct {
	ticket  index.Ticket
	records []bibliography.Record
	state   fileState
	missing bool
}

type Loader struct {
	index *index.Index
	sched *scheduler.Scheduler
	cache store.Store
	note  Notifier
	warns rate.Sometimes

	mu      sync.Mutex
	tracked map[string]fileState
	order   []string
	open    func(path string) bool
}

// New creates a loader. cache and notify may be nil.
func New(idx *index.Index, sched *scheduler.Scheduler, cache store.Store, notify Notifier) *Loader {
	return &Loader{
		index:   idx,
		sched:   sched,
		cache:   cache,
		note:    notify,
		warns:   rate.Sometimes{Interval: time.Second},
		tracked: make(map[string]fileState),
	}
}

// SkipOpen makes Poll leave out every file for which open reports true.
// Their records come from the editor through Apply.
func (l *Loader) SkipOpen(open func(path string) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = open
}

// Files returns the tracked paths in configured order.
func (l *Loader) Files() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.order)
}

// Tracks reports whether path is one of the configured bibliography files.
func (l *Loader) Tracks(path string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tracked[path]
	return ok
}

// LoadAll makes paths the tracked set. Every file is parsed concurrently,
// then all of them are committed in the given order so that a later file
// wins key collisions. Files no longer listed are forgotten.
func (l *Loader) LoadAll(ctx context.Context, paths []string) error {
	paths = dedupe(paths)

	l.mu.Lock()
	dropped := make([]string, 0)
	for path := range l.tracked {
		if !slices.Contains(paths, path) {
			dropped = append(dropped, path)
			delete(l.tracked, path)
		}
	}
	for _, path := range paths {
		if _, ok := l.tracked[path]; !ok {
			l.tracked[path] = fileState{}
		}
	}
	l.order = slices.Clone(paths)
	l.mu.Unlock()

	results := make([]parsed, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		ticket := l.index.Begin(path)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			p, err := l.load(ticket)
			if err != nil {
				l.warn(err.Error())
			}
			results[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to load bibliographies: %w", err)
	}

	err := l.sched.Do("load bibliographies", func() error {
		for _, path := range dropped {
			l.index.Forget(path)
		}
		for _, p := range results {
			l.commit(p)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if l.cache != nil {
		if err := l.cache.Retain(paths); err != nil {
			log.Warningf("failed to prune cache: %v", err)
		}
	}
	log.Infof("loaded %d keys from %d files", l.index.Snapshot().Len(), len(paths))
	return nil
}

// Apply replaces the records of path with the parse of text. A nil text
// removes the file from the index.
func (l *Loader) Apply(path string, text *[]byte) error {
	if text == nil {
		return l.sched.Do("remove "+path, func() error {
			l.index.Forget(path)
			return nil
		})
	}

	ticket := l.index.Begin(path)
	records := bibliography.Parse(path, *text)
	return l.sched.Do("apply "+path, func() error {
		l.index.Commit(ticket, records)
		return nil
	})
}

// Reload parses path from disk. A missing file is removed from the index.
func (l *Loader) Reload(path string) error {
	p, err := l.load(l.index.Begin(path))
	if err != nil {
		l.warn(err.Error())
		if !p.missing {
			return err
		}
	}
	return l.sched.Do("reload "+path, func() error {
		l.commit(p)
		return nil
	})
}

// Poll reloads every tracked file whose modification time or size changed.
// It commits directly and is meant to run as a scheduler task.
func (l *Loader) Poll() error {
	l.mu.Lock()
	open := l.open
	order := slices.Clone(l.order)
	l.mu.Unlock()

	var changed []string
	for _, path := range order {
		if open != nil && open(path) {
			continue
		}
		l.mu.Lock()
		known := l.tracked[path]
		l.mu.Unlock()
		info, err := os.Stat(path)
		switch {
		case err != nil:
			if !known.modTime.IsZero() {
				changed = append(changed, path)
			}
		case !info.ModTime().Equal(known.modTime) || info.Size() != known.size:
			changed = append(changed, path)
		}
	}

	if len(changed) == 0 {
		return nil
	}
	log.Debugf("%d bibliography files changed", len(changed))

	batch := make(map[string][]bibliography.Record, len(changed))
	for _, path := range changed {
		p, err := l.load(l.index.Begin(path))
		if err != nil {
			l.warn(err.Error())
		}
		switch {
		case p.missing:
			l.commit(p)
		case err == nil && l.index.Valid(p.ticket):
			batch[path] = p.records
		}
	}
	l.index.UpdateFiles(batch)
	return nil
}

// StartPolling schedules Poll every interval. changed runs after every
// poll that altered the index.
func (l *Loader) StartPolling(interval time.Duration, changed func()) {
	if interval <= 0 {
		return
	}
	l.sched.SchedulePeriodicTask(interval, scheduler.Task{
		Name: "poll bibliographies",
		Execute: func() error {
			before := l.index.Snapshot()
			err := l.Poll()
			if changed != nil && l.index.Snapshot() != before {
				changed()
			}
			return err
		},
	})
}

// load reads and parses the file of ticket, using the cache when it is
// still fresh. It does not touch the index.
func (l *Loader) load(ticket index.Ticket) (parsed, error) {
	path := ticket.Path()
	p := parsed{ticket: ticket}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.missing = true
			l.setState(path, fileState{})
			return p, fmt.Errorf("bibliography file %s does not exist", path)
		}
		return p, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read %s: %w", path, err)
	}
	p.state = fileState{modTime: info.ModTime(), size: info.Size()}
	l.setState(path, p.state)

	if l.cache != nil {
		entry, err := l.cache.Get(path)
		if err == nil && entry.Fresh(p.state.modTime, content) {
			log.Debugf("using cached parse of %s", path)
			p.records = entry.Records
			return p, nil
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Warningf("failed to read cache for %s: %v", path, err)
		}
	}

	p.records = bibliography.Parse(path, content)
	if l.cache != nil {
		err := l.cache.Put(store.Entry{
			Path:     path,
			ModTime:  p.state.modTime,
			Checksum: store.Checksum(content),
			Records:  p.records,
		})
		if err != nil {
			log.Warningf("failed to cache %s: %v", path, err)
		}
	}
	return p, nil
}

// commit must run on the scheduler goroutine.
func (l *Loader) commit(p parsed) {
	if p.missing {
		l.index.Forget(p.ticket.Path())
		if l.cache != nil {
			if err := l.cache.Delete(p.ticket.Path()); err != nil {
				log.Warningf("failed to drop cache for %s: %v", p.ticket.Path(), err)
			}
		}
		return
	}
	if p.records == nil && p.state.modTime.IsZero() {
		// unreadable, keep what was indexed before
		return
	}
	l.index.Commit(p.ticket, p.records)
}

func (l *Loader) setState(path string, state fileState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tracked[path]; ok {
		l.tracked[path] = state
	}
}

func (l *Loader) warn(message string) {
	log.Warning(message)
	if l.note == nil {
		return
	}
	l.warns.Do(func() { l.note(message) })
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
