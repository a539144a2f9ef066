// Package planner resolves catalog queries into a minimal, deterministically
// ordered sequence of files covering a requested time range, plus an explicit
// list of coverage gaps. Missing data is never an error: the result is best
// effort plus gaps, and repeated calls against an unchanged catalog return
// bit-identical ordering.
package planner

import (
	"context"

	"github.com/gridcat/gridcat/internal/catalog"
	"github.com/gridcat/gridcat/internal/timeaxis"
)

// gapSlack stretches the nominal sampling interval when deciding whether a
// hole between two files is a real gap. Calendar months run up to 31 days
// against a nominal 30, leap years 366 against 365.
const gapSlack = 1.5

// Request is one resolution request.
type Request struct {
	Experiment string
	Variable   string
	// Run narrows to one run when non-empty.
	Run string
	// From and To bound the range as padded stamps; empty means unbounded.
	From string
	To   string
	// Frequency prefers candidates at this output frequency when several
	// files overlap; otherwise the finest frequency wins.
	Frequency string
}

// Selection is one file's contribution to the plan: the path plus the time
// slice the caller should take from it.
type Selection struct {
	Path      string `json:"path"`
	Variable  string `json:"variable"`
	Run       string `json:"run"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Frequency string `json:"frequency"`
	Calendar  string `json:"calendar"`
}

// Gap is a sub-interval of the requested range no candidate covers.
type Gap struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Plan is a successful resolution: ordered files, explicit gaps, and any
// metadata conflict warnings touching the queried variable.
type Plan struct {
	Files    []Selection        `json:"files"`
	Gaps     []Gap              `json:"gaps,omitempty"`
	Warnings []catalog.Conflict `json:"warnings,omitempty"`
}

// Planner reads only from the catalog; it never touches raw files.
type Planner struct {
	store *catalog.Store
}

// New creates a Planner over the given catalog.
func New(store *catalog.Store) *Planner {
	return &Planner{store: store}
}

// Resolve fetches matching coverage rows and sweeps them into a covering
// plan. Conflict warnings for the variable are attached to the result.
func (p *Planner) Resolve(ctx context.Context, req Request) (*Plan, error) {
	rows, err := p.store.Candidates(ctx, catalog.QueryFilter{
		Experiment: req.Experiment,
		Variable:   req.Variable,
		Run:        req.Run,
		From:       req.From,
		To:         req.To,
	})
	if err != nil {
		return nil, err
	}

	plan := sweep(rows, req)

	warnings, err := p.store.Conflicts(ctx, catalog.QueryFilter{
		Experiment: req.Experiment,
		Variable:   req.Variable,
		Run:        req.Run,
	})
	if err != nil {
		return nil, err
	}
	plan.Warnings = warnings

	return plan, nil
}

// sweep builds the covering sequence. Candidates arrive sorted by
// (start, path); the cursor walks the requested range selecting, among
// candidates covering it, the preferred one, and records holes larger than
// the local sampling interval as gaps.
func sweep(rows []catalog.CoverageRow, req Request) *Plan {
	plan := &Plan{}

	if len(rows) == 0 {
		if req.From != "" && req.To != "" && req.From < req.To {
			plan.Gaps = append(plan.Gaps, Gap{Start: req.From, End: req.To})
		}
		return plan
	}

	from := req.From
	if from == "" {
		from = rows[0].Start
	}
	to := req.To
	if to == "" {
		for _, r := range rows {
			if r.End > to {
				to = r.End
			}
		}
	}

	cursor := from
	for cursor < to {
		best := -1
		for i, r := range rows {
			if r.Start > cursor || r.End <= cursor {
				continue
			}
			if best < 0 || better(r, rows[best], req.Frequency) {
				best = i
			}
		}

		if best >= 0 {
			r := rows[best]
			plan.Files = append(plan.Files, Selection{
				Path:      r.Path,
				Variable:  r.Variable,
				Run:       r.Run,
				Start:     maxStamp(r.Start, cursor),
				End:       minStamp(r.End, to),
				Frequency: r.Frequency,
				Calendar:  r.Calendar,
			})
			cursor = r.End
			continue
		}

		// Nothing covers the cursor; jump to the next candidate start.
		next := -1
		for i, r := range rows {
			if r.Start > cursor && r.End > cursor {
				next = i
				break
			}
		}
		if next < 0 {
			plan.Gaps = append(plan.Gaps, Gap{Start: cursor, End: to})
			break
		}

		if isRealGap(cursor, rows[next]) {
			plan.Gaps = append(plan.Gaps, Gap{Start: cursor, End: rows[next].Start})
		}
		cursor = rows[next].Start
	}

	return plan
}

// better reports whether a should be preferred over b among candidates
// covering the same instant: the requested frequency first, then the finer
// frequency, then the most recently indexed, then lexical path order.
func better(a, b catalog.CoverageRow, want string) bool {
	if want != "" {
		am, bm := a.Frequency == want, b.Frequency == want
		if am != bm {
			return am
		}
	}
	if a.Frequency != b.Frequency {
		return timeaxis.FinerFrequency(a.Frequency, b.Frequency)
	}
	if a.IndexedAt != b.IndexedAt {
		return a.IndexedAt > b.IndexedAt
	}
	return a.Path < b.Path
}

// isRealGap reports whether the hole between the cursor and the next
// candidate exceeds the candidate's sampling interval. Consecutive files of a
// time series whose stamps step by one sample are contiguous, not gapped.
func isRealGap(cursor string, next catalog.CoverageRow) bool {
	step := timeaxis.FrequencyHours(next.Frequency)
	if step <= 0 || step != step || step > 1e12 {
		return true
	}

	a, errA := timeaxis.ParseStamp(cursor)
	b, errB := timeaxis.ParseStamp(next.Start)
	if errA != nil || errB != nil {
		return true
	}

	cal := timeaxis.ParseCalendar(next.Calendar)
	holeHours := timeaxis.DeltaDays(a, b, cal) * 24
	return holeHours > step*gapSlack
}

func maxStamp(a, b string) string {
	if a > b {
		return a
	}
	return b
}

func minStamp(a, b string) string {
	if a < b {
		return a
	}
	return b
}
