// Package viewer renders a cited document page by page next to the passages
// that back an answer.
//
// The viewer is an explicit state machine (Closed, Loading, Displaying).
// Opening shows the citation's chunk list immediately, then loads the
// document; page renders are tagged with a generation number so that a stale
// result is discarded instead of overwriting a newer one.
package viewer

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/lumic/docchat/citation"
)

type State int

const (
	StateClosed State = iota
	StateLoading
	StateDisplaying
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateLoading:
		return "loading"
	case StateDisplaying:
		return "displaying"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Fetcher retrieves the raw bytes of one cited document.
type Fetcher interface {
	FetchDocument(ctx context.Context, filename string) ([]byte, error)
}

// Surface receives everything the viewer wants shown. Implementations render
// to a terminal or record calls in tests. Calls are serialized by the viewer.
type Surface interface {
	ShowChunks(title string, chunks []citation.Chunk)
	ShowPage(page RenderedPage)
	Clear()
}

// RenderedPage is one page scaled so its width fills the available surface
// width.
type RenderedPage struct {
	Number int
	Scale  float64
	Width  float64
	Text   string
}

// NavState mirrors the enabled/disabled state of the navigation controls.
type NavState struct {
	PrevEnabled bool
	NextEnabled bool
}

// Viewer displays one citation at a time. All methods are safe for
// concurrent use.
type Viewer struct {
	fetcher Fetcher
	surface Surface
	width   float64
	logger  *log.Logger

	// openDoc is swapped out in tests to avoid parsing real PDFs.
	openDoc func(data []byte) (Document, error)

	mu          sync.Mutex
	state       State
	source      citation.Source
	doc         Document
	currentPage int
	totalPages  int
	loadSeq     uint64
	renderSeq   uint64
}

// New constructs a closed viewer. width is the available surface width in
// display units; page scale is computed against it.
func New(fetcher Fetcher, surface Surface, width float64, logger *log.Logger) *Viewer {
	if logger == nil {
		logger = log.Default()
	}

	return &Viewer{
		fetcher:     fetcher,
		surface:     surface,
		width:       width,
		logger:      logger,
		openDoc:     OpenDocument,
		currentPage: 1,
	}
}

// Open shows the citation's chunks right away (chunk rendering does not
// depend on the document) and then loads the document through the fetcher.
// On load failure the surface is cleared and the viewer returns to Closed.
func (v *Viewer) Open(ctx context.Context, src citation.Source) error {
	v.mu.Lock()
	if v.state != StateClosed {
		v.mu.Unlock()
		return fmt.Errorf("viewer is %s, close it first", v.state)
	}
	v.state = StateLoading
	v.source = src
	v.loadSeq++
	seq := v.loadSeq
	v.mu.Unlock()

	v.surface.ShowChunks(src.DisplayName(), src.Chunks)

	data, err := v.fetcher.FetchDocument(ctx, src.Filename)
	var doc Document
	if err == nil {
		doc, err = v.openDoc(data)
	}

	v.mu.Lock()
	if v.loadSeq != seq || v.state != StateLoading {
		// Closed while loading; the result no longer has a home.
		v.mu.Unlock()
		return nil
	}
	if err != nil {
		v.state = StateClosed
		v.currentPage = 1
		v.totalPages = 0
		v.mu.Unlock()
		v.surface.Clear()
		v.logger.Printf("document load failed for %s: %v", src.Filename, err)
		return err
	}
	v.doc = doc
	v.totalPages = doc.PageCount()
	v.currentPage = 1
	v.state = StateDisplaying
	v.mu.Unlock()

	v.RenderPage(1)
	return nil
}

// RenderPage extracts and scales page n onto the surface. Each request takes
// a generation number; when a newer request arrives before this one finishes,
// the stale result is dropped on arrival (last request wins).
func (v *Viewer) RenderPage(n int) {
	v.mu.Lock()
	if v.state != StateDisplaying || n < 1 || n > v.totalPages {
		v.mu.Unlock()
		return
	}
	doc := v.doc
	v.renderSeq++
	seq := v.renderSeq
	v.mu.Unlock()

	nativeWidth := doc.PageWidth(n)
	scale := v.width / nativeWidth
	text, textErr := doc.PageText(n)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.renderSeq != seq || v.state != StateDisplaying {
		return
	}
	if textErr != nil {
		v.logger.Printf("render page %d failed: %v", n, textErr)
		return
	}
	v.surface.ShowPage(RenderedPage{
		Number: n,
		Scale:  scale,
		Width:  nativeWidth * scale,
		Text:   text,
	})
}

// ChangePage moves by delta. Candidates outside [1, totalPages] are ignored
// without touching state or triggering a render. This is the only mutator of
// the current page.
func (v *Viewer) ChangePage(delta int) {
	v.mu.Lock()
	if v.state != StateDisplaying {
		v.mu.Unlock()
		return
	}
	candidate := v.currentPage + delta
	if candidate < 1 || candidate > v.totalPages {
		v.mu.Unlock()
		return
	}
	v.currentPage = candidate
	v.mu.Unlock()

	v.RenderPage(candidate)
}

// Close discards the document handle and all page state, from any state.
// Closing an already closed viewer is a no-op; in-flight load and render
// results are dropped when they arrive.
func (v *Viewer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == StateClosed {
		return
	}
	v.state = StateClosed
	v.doc = nil
	v.currentPage = 1
	v.totalPages = 0
	v.loadSeq++
	v.renderSeq++
}

func (v *Viewer) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *Viewer) CurrentPage() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.currentPage
}

func (v *Viewer) TotalPages() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalPages
}

func (v *Viewer) NavState() NavState {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateDisplaying {
		return NavState{}
	}
	return NavState{
		PrevEnabled: v.currentPage > 1,
		NextEnabled: v.currentPage < v.totalPages,
	}
}

// Title is the cleaned display name of the open citation's document.
func (v *Viewer) Title() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.source.DisplayName()
}

// DownloadQuery is the retrieval address for the open citation's document.
// It always carries the original unmodified identifier.
func (v *Viewer) DownloadQuery() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.source.DownloadQuery()
}

// SuggestedFilename is the save name offered alongside the download address:
// the original identifier, untouched.
func (v *Viewer) SuggestedFilename() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.source.Filename
}
