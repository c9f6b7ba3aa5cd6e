// Package index keeps the records of every bibliography file of a workspace
// and the merged key to record mapping derived from them.
//
// Writers are serialized by a mutex and publish a new immutable Snapshot on
// every change. Readers load the current snapshot without locking.
package index

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/clementpoiret/bibli-ls/internal/bibliography"
	"github.com/tliron/commonlog"
	"golang.org/x/text/cases"
)

var log = commonlog.GetLogger("bibli.index")

// Ticket marks the start of a parse for one file. Only the newest ticket of a
// path may commit.
type Ticket struct {
	path string
	gen  uint64
}

// Path returns the file the ticket was issued for.
func (t Ticket) Path() string { return t.path }

type fileSlice struct {
	records []bibliography.Record
	stamp   uint64
}

// Index owns per-file record sequences. The zero value is not usable, use New.
type Index struct {
	mu     sync.Mutex
	order  []string
	files  map[string]fileSlice
	gens   map[string]uint64
	stamp  uint64
	closed bool

	snap atomic.Pointer[Snapshot]
}

// New creates an empty index.
func New() *Index {
	idx := &Index{
		files: make(map[string]fileSlice),
		gens:  make(map[string]uint64),
	}
	idx.snap.Store(emptySnapshot())
	return idx
}

// Snapshot returns the current published view.
func (idx *Index) Snapshot() *Snapshot {
	return idx.snap.Load()
}

// UpdateFile replaces the records of path. A file seen for the first time is
// appended after every known file.
func (idx *Index) UpdateFile(path string, records []bibliography.Record) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		log.Warningf("update of %s after close ignored", path)
		return
	}
	idx.stamp++
	idx.put(path, records)
	idx.publish()
}

// UpdateFiles applies several files as one change. They share one update
// stamp; on a key collision among them the lexically greater path wins.
// New files are appended in lexical order.
func (idx *Index) UpdateFiles(batch map[string][]bibliography.Record) {
	if len(batch) == 0 {
		return
	}
	paths := make([]string, 0, len(batch))
	for path := range batch {
		paths = append(paths, path)
	}
	slices.Sort(paths)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed {
		log.Warningf("update of %d files after close ignored", len(batch))
		return
	}
	idx.stamp++
	for _, path := range paths {
		idx.put(path, batch[path])
	}
	idx.publish()
}

// RemoveFile drops the records of path. Unknown paths are ignored.
func (idx *Index) RemoveFile(path string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.remove(path) {
		idx.publish()
	}
}

// Begin issues a ticket for a parse of path. Any ticket issued earlier for
// the same path becomes stale.
func (idx *Index) Begin(path string) Ticket {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.gens[path]++
	return Ticket{path: path, gen: idx.gens[path]}
}

// Commit stores records parsed under ticket. It reports false and changes
// nothing when a newer Begin or Forget happened for the same path.
func (idx *Index) Commit(ticket Ticket, records []bibliography.Record) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.closed || idx.gens[ticket.path] != ticket.gen {
		log.Debugf("discarding stale parse of %s", ticket.path)
		return false
	}
	idx.stamp++
	idx.put(ticket.path, records)
	idx.publish()
	return true
}

// Valid reports whether ticket is still the newest for its path.
func (idx *Index) Valid(ticket Ticket) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return !idx.closed && idx.gens[ticket.path] == ticket.gen
}

// Forget removes path and invalidates every outstanding ticket for it.
func (idx *Index) Forget(path string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.gens[path]++
	if idx.remove(path) {
		idx.publish()
	}
}

// WithPrefix is a shorthand for Snapshot().WithPrefix.
func (idx *Index) WithPrefix(prefix string, lenient bool) []bibliography.Record {
	return idx.Snapshot().WithPrefix(prefix, lenient)
}

// Lookup is a shorthand for Snapshot().Lookup.
func (idx *Index) Lookup(key string) (bibliography.Record, bool) {
	return idx.Snapshot().Lookup(key)
}

// Close drops every record. Later updates are ignored.
func (idx *Index) Close() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.closed = true
	idx.order = nil
	idx.files = make(map[string]fileSlice)
	idx.snap.Store(emptySnapshot())
}

func (idx *Index) put(path string, records []bibliography.Record) {
	if _, ok := idx.files[path]; !ok {
		idx.order = append(idx.order, path)
	}
	idx.files[path] = fileSlice{
		records: slices.Clone(records),
		stamp:   idx.stamp,
	}
}

func (idx *Index) remove(path string) bool {
	if _, ok := idx.files[path]; !ok {
		return false
	}
	delete(idx.files, path)
	idx.order = slices.DeleteFunc(idx.order, func(p string) bool { return p == path })
	return true
}

type owner struct {
	path  string
	stamp uint64
}

// beats reports whether o wins a key collision against other.
func (o owner) beats(other owner) bool {
	if o.stamp != other.stamp {
		return o.stamp > other.stamp
	}
	return o.path > other.path
}

// publish rebuilds the derived mapping and swaps in a new snapshot.
func (idx *Index) publish() {
	winners := make(map[string]owner)
	for _, path := range idx.order {
		fs := idx.files[path]
		candidate := owner{path: path, stamp: fs.stamp}
		for _, rec := range fs.records {
			if current, ok := winners[rec.Key]; !ok || candidate.beats(current) {
				winners[rec.Key] = candidate
			}
		}
	}

	snap := &Snapshot{
		files:  slices.Clone(idx.order),
		byFile: make(map[string][]bibliography.Record, len(idx.order)),
		byKey:  make(map[string]int, len(winners)),
	}
	folder := cases.Fold()
	for _, path := range idx.order {
		records := idx.files[path].records
		snap.byFile[path] = records

		// the last occurrence of a key inside one file wins, at its first position
		last := make(map[string]int, len(records))
		for i, rec := range records {
			last[rec.Key] = i
		}
		for _, rec := range records {
			if winners[rec.Key].path != path {
				continue
			}
			if _, done := snap.byKey[rec.Key]; done {
				continue
			}
			snap.byKey[rec.Key] = len(snap.ordered)
			snap.ordered = append(snap.ordered, records[last[rec.Key]])
			snap.folded = append(snap.folded, folder.String(rec.Key))
		}
	}
	idx.snap.Store(snap)
	log.Debugf("published %d keys from %d files", len(snap.ordered), len(snap.files))
}

// Snapshot is an immutable view of the index at one point in time.
type Snapshot struct {
	files   []string
	byFile  map[string][]bibliography.Record
	ordered []bibliography.Record
	folded  []string
	byKey   map[string]int
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		byFile: map[string][]bibliography.Record{},
		byKey:  map[string]int{},
	}
}

// WithPrefix returns every winning record whose key starts with prefix, in
// file insertion order then declaration order. With lenient set, records
// that only match after case folding follow the exact matches.
func (s *Snapshot) WithPrefix(prefix string, lenient bool) []bibliography.Record {
	var exact, folded []bibliography.Record
	var foldedPrefix string
	if lenient {
		foldedPrefix = cases.Fold().String(prefix)
	}
	for i, rec := range s.ordered {
		switch {
		case strings.HasPrefix(rec.Key, prefix):
			exact = append(exact, rec)
		case lenient && strings.HasPrefix(s.folded[i], foldedPrefix):
			folded = append(folded, rec)
		}
	}
	return append(exact, folded...)
}

// Lookup resolves an exact key.
func (s *Snapshot) Lookup(key string) (bibliography.Record, bool) {
	i, ok := s.byKey[key]
	if !ok {
		return bibliography.Record{}, false
	}
	return s.ordered[i], true
}

// All returns the winning record of every key in stable order.
func (s *Snapshot) All() []bibliography.Record {
	return slices.Clone(s.ordered)
}

// Files returns the indexed paths in insertion order.
func (s *Snapshot) Files() []string {
	return slices.Clone(s.files)
}

// Records returns every record of path, including keys shadowed by another
// file.
func (s *Snapshot) Records(path string) []bibliography.Record {
	return slices.Clone(s.byFile[path])
}

// Len is the number of distinct keys.
func (s *Snapshot) Len() int {
	return len(s.ordered)
}
