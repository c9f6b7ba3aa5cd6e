// scanner walks a workspace for bibliography files and citing documents.
package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/clementpoiret/bibli-ls/internal/bibliography"
	"github.com/clementpoiret/bibli-ls/internal/completion"
	"github.com/clementpoiret/bibli-ls/internal/parser"
	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var log = commonlog.GetLogger("bibli.scanner")

var ignoredDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"_build":       true,
}

// IgnoreDir reports whether a directory is never descended into.
func IgnoreDir(path string) bool {
	name := filepath.Base(path)
	if len(name) > 1 && strings.HasPrefix(name, ".") {
		return true
	}
	return ignoredDirs[name]
}

// Scan walks the entire subtree under root. Hidden and ignored directories
// are skipped entirely. For each remaining file, skip() is applied, and if
// that returns false the file is read and callback(path, contents) runs on
// a single worker goroutine. Scan returns once all callbacks have completed.
func Scan(
	root string,
	skip func(path string, info fs.FileInfo) bool,
	callback func(path string, document []byte),
) {
	fileCh := make(chan string, 100)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for path := range fileCh {
			data, err := os.ReadFile(path)
			if err != nil {
				log.Warningf("read error %s: %v", path, err)
				continue
			}
			callback(path, data)
		}
	}()

	log.Debugf("starting walk at %q", root)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warningf("walk error: %v", err)
			return nil
		}

		if d.IsDir() {
			if path != root && IgnoreDir(path) {
				return fs.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if skip(path, info) {
			return nil
		}

		fileCh <- path
		return nil
	})
	if err != nil {
		log.Warningf("walk finished with error: %v", err)
	}

	close(fileCh)
	wg.Wait()
}

// FindBibfiles lists every BibTeX file below root in lexical order. YAML
// files are too common to be taken for bibliographies unless configured.
func FindBibfiles(root string) []string {
	var found []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && IgnoreDir(path) {
				return fs.SkipDir
			}
			return nil
		}
		if bibliography.Supported(path) && bibliography.FormatOf(path) == bibliography.FormatBibTeX {
			found = append(found, path)
		}
		return nil
	})
	slices.Sort(found)
	return found
}

// Reference is one citation of a key inside a workspace document.
type Reference struct {
	Path  string
	Range protocol.Range
}

// FindReferences searches every document below root whose extension is in
// exts for citations of key. Documents present in open are read from there
// instead of the disk. Citations inside code or comments are left out.
// Results are ordered by path, then position.
func FindReferences(
	root string,
	exts []string,
	open map[string][]byte,
	key, trigger string,
) []Reference {
	var refs []Reference
	collect := func(path string, document []byte) {
		var found []completion.Citation
		for _, c := range completion.Citations(string(document), trigger) {
			if c.Key == key {
				found = append(found, c)
			}
		}
		if len(found) == 0 {
			return
		}

		doc, err := parser.NewDocument(path, document)
		if err != nil {
			log.Warningf("failed to parse %s: %v", path, err)
			return
		}
		defer doc.Close()
		for _, c := range found {
			if doc.IsCitableOffset(c.Start) {
				refs = append(refs, Reference{Path: path, Range: c.Range})
			}
		}
	}

	wanted := func(path string) bool {
		return slices.Contains(exts, strings.ToLower(filepath.Ext(path)))
	}
	Scan(root, func(path string, info fs.FileInfo) bool {
		if _, ok := open[path]; ok {
			return true
		}
		return !wanted(path)
	}, collect)

	for path, text := range open {
		if wanted(path) {
			collect(path, text)
		}
	}

	slices.SortStableFunc(refs, func(a, b Reference) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		if a.Range.Start.Line != b.Range.Start.Line {
			return int(a.Range.Start.Line) - int(b.Range.Start.Line)
		}
		return int(a.Range.Start.Character) - int(b.Range.Start.Character)
	})
	return refs
}
