package transcript

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// SilenceSpeaker marks a backend line that covers silence.
const SilenceSpeaker = -2

const DefaultMaxLines = 500

// seenFactor sizes the resend memory relative to the retention window.
const seenFactor = 16

// Line is a finalized transcript segment.
type Line struct {
	Speaker int      `json:"speaker"`
	Name    string   `json:"name,omitempty"`
	Text    string   `json:"text"`
	Beg     TimeCode `json:"beg"`
	End     TimeCode `json:"end,omitempty"`

	seq uint64
}

// Label is the speaker label shown next to the line.
func (l Line) Label() string {
	if l.Name != "" {
		return l.Name
	}
	return "Speaker " + strconv.Itoa(l.Speaker)
}

// Buffer is one source's in-progress, revisable text.
type Buffer struct {
	Source string `json:"source"`
	Text   string `json:"text"`

	updated uint64
}

// Rendered is the aggregated view over every source. It is recomputed on
// each call to Render and never stored.
type Rendered struct {
	Lines  []Line  `json:"lines"`
	Active *Buffer `json:"active,omitempty"`

	// Boundaries counts segment-boundary markers seen so far; LastBoundary
	// names the source of the latest one. They are display dividers and
	// are never merged into Lines.
	Boundaries   int    `json:"boundaries"`
	LastBoundary string `json:"last_boundary,omitempty"`
	// BoundaryLast is true when nothing arrived after the latest boundary.
	BoundaryLast bool `json:"boundary_last"`
}

// Aggregator merges per-source finalized lines and buffers into one
// ordered transcript. It is not safe for concurrent use; the relay only
// touches it from its event loop.
type Aggregator struct {
	maxLines int
	seq      uint64

	lines   []Line // arrival order
	buffers map[string]*Buffer

	// seen remembers finalized lines past their eviction from lines, so a
	// backend resending its whole history does not bring them back. Once
	// seenCap is exceeded the oldest keys are forgotten and floor records,
	// per source, the latest begin time among them.
	seen      map[lineKey]struct{}
	seenOrder []lineKey
	seenCap   int
	floor     map[string]float64

	boundaries   int
	lastBoundary string
	boundarySeq  uint64
}

func NewAggregator(maxLines int) *Aggregator {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Aggregator{
		maxLines: maxLines,
		buffers:  make(map[string]*Buffer),
		seen:     make(map[lineKey]struct{}),
		seenCap:  maxLines * seenFactor,
		floor:    make(map[string]float64),
	}
}

// lineKey identifies a finalized line across resends. The end time is left
// out since backends may revise it.
type lineKey struct {
	name    string
	speaker int
	beg     TimeCode
	text    string
}

func (a *Aggregator) next() uint64 {
	a.seq++
	return a.seq
}

// AddLines records newly finalized lines for source. Backends that resend
// their full line list are tolerated: a line already seen for the same
// source with the same speaker, begin time and text is skipped, even after
// retention has evicted it.
func (a *Aggregator) AddLines(source string, lines []Line) int {
	added := 0
	for _, l := range lines {
		if l.Name == "" {
			l.Name = source
		}
		k := lineKey{name: l.Name, speaker: l.Speaker, beg: l.Beg, text: l.Text}
		if a.seenBefore(k) {
			continue
		}
		a.remember(k)

		l.seq = a.next()
		a.lines = append(a.lines, l)
		added++
	}

	if over := len(a.lines) - a.maxLines; over > 0 {
		a.lines = append([]Line(nil), a.lines[over:]...)
	}
	return added
}

func (a *Aggregator) seenBefore(k lineKey) bool {
	if _, ok := a.seen[k]; ok {
		return true
	}
	f, ok := a.floor[k.name]
	if !ok {
		return false
	}
	at, err := k.beg.Seconds()
	return err == nil && at <= f
}

func (a *Aggregator) remember(k lineKey) {
	a.seen[k] = struct{}{}
	a.seenOrder = append(a.seenOrder, k)
	if len(a.seenOrder) <= a.seenCap {
		return
	}

	old := a.seenOrder[0]
	a.seenOrder = a.seenOrder[1:]
	delete(a.seen, old)
	if at, err := old.beg.Seconds(); err == nil {
		if f, ok := a.floor[old.name]; !ok || at > f {
			a.floor[old.name] = at
		}
	}
}

// SetBuffer replaces source's in-progress text.
func (a *Aggregator) SetBuffer(source, text string) {
	b, ok := a.buffers[source]
	if !ok {
		b = &Buffer{Source: source}
		a.buffers[source] = b
	}
	b.Text = text
	b.updated = a.next()
}

// Boundary records a segment-boundary marker from source.
func (a *Aggregator) Boundary(source string) {
	a.boundaries++
	a.lastBoundary = source
	a.boundarySeq = a.next()
}

// Render produces the ordered transcript. Silence and blank lines are
// dropped, the rest sorted by begin time with ties kept in arrival order.
// Lines with an unparseable begin time sort after all others. When several
// sources hold non-empty buffers the earliest-updated one is active.
func (a *Aggregator) Render() Rendered {
	type keyed struct {
		line Line
		at   float64
	}

	keyedLines := make([]keyed, 0, len(a.lines))
	for _, l := range a.lines {
		if l.Speaker == SilenceSpeaker || strings.TrimSpace(l.Text) == "" {
			continue
		}
		at, err := l.Beg.Seconds()
		if err != nil {
			at = math.Inf(1)
		}
		keyedLines = append(keyedLines, keyed{line: l, at: at})
	}

	sort.SliceStable(keyedLines, func(i, j int) bool {
		return keyedLines[i].at < keyedLines[j].at
	})

	out := Rendered{
		Lines:        make([]Line, len(keyedLines)),
		Boundaries:   a.boundaries,
		LastBoundary: a.lastBoundary,
		BoundaryLast: a.boundaries > 0 && a.boundarySeq == a.seq,
	}
	for i, k := range keyedLines {
		out.Lines[i] = k.line
	}

	var active *Buffer
	for _, b := range a.buffers {
		if strings.TrimSpace(b.Text) == "" {
			continue
		}
		if active == nil || b.updated < active.updated {
			active = b
		}
	}
	if active != nil {
		cp := *active
		out.Active = &cp
	}

	return out
}
