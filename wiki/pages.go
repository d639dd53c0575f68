package wiki

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strconv"

	"github.com/olgasafonova/mediawiki-api-go/metrics"
)

// PageKey identifies a page within one QueryPages session. Pages without a
// pageid (missing or invalid titles) are keyed by title.
type PageKey struct {
	ID    int64
	Title string
}

func (k PageKey) String() string {
	if k.Title != "" {
		return "title:" + k.Title
	}
	return strconv.FormatInt(k.ID, 10)
}

func pageKeyOf(page Object) (PageKey, bool) {
	if id, ok := page.Int("pageid"); ok {
		return PageKey{ID: id}, true
	}
	if title := page.Str("title"); title != "" {
		return PageKey{Title: title}, true
	}
	return PageKey{}, false
}

// QueryPages runs a query with a pages result (prop=..., generator=..., titles=...)
// and yields every page once, after all of its fragments have been merged.
//
// A page is complete once a response arrives that no longer mentions it, or
// when the query is exhausted. Pages whose lastrevid changed between two
// responses are dropped; after every other page has been yielded the
// sequence ends with a *ModificationConflictError naming them.
func QueryPages(ctx context.Context, caller Caller, params Params) iter.Seq2[Object, error] {
	return func(yield func(Object, error) bool) {
		session := newPageSession()

		for result, err := range Iterate(ctx, caller, "query", params) {
			if err != nil {
				yield(nil, err)
				return
			}

			raw, ok := result["pages"]
			if !ok {
				yield(nil, &MalformedResponseError{Action: "query", Field: "pages"})
				return
			}
			pages, ok := raw.([]any)
			if !ok {
				yield(nil, &MalformedResponseError{Action: "query", Field: "pages", Reason: "not an array"})
				return
			}

			finished, err := session.absorb(pages)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, page := range finished {
				metrics.PagesYielded.Inc()
				if !yield(page, nil) {
					return
				}
			}
		}

		for _, page := range session.drain() {
			metrics.PagesYielded.Inc()
			if !yield(page, nil) {
				return
			}
		}

		if conflict := session.conflict(); conflict != nil {
			metrics.ModificationConflicts.Add(float64(len(conflict.Pages)))
			yield(nil, conflict)
		}
	}
}

// pageSession is the merge state of one QueryPages run.
type pageSession struct {
	incomplete map[PageKey]Object
	order      []PageKey // keys of incomplete, first-seen order
	changed    map[PageKey]struct{}
	changedSeq []PageKey
}

func newPageSession() *pageSession {
	return &pageSession{
		incomplete: make(map[PageKey]Object),
		changed:    make(map[PageKey]struct{}),
	}
}

// absorb merges one response's pages and returns the pages it completed:
// those pending before this response that the response did not mention.
func (s *pageSession) absorb(pages []any) ([]Object, error) {
	candidates := make(map[PageKey]struct{}, len(s.incomplete))
	for key := range s.incomplete {
		candidates[key] = struct{}{}
	}
	pending := slices.Clone(s.order)

	for i, raw := range pages {
		page, ok := asObject(raw)
		if !ok {
			return nil, &MalformedResponseError{Action: "query", Field: "pages", Reason: fmt.Sprintf("entry %d is not an object", i)}
		}
		key, ok := pageKeyOf(page)
		if !ok {
			return nil, &MalformedResponseError{Action: "query", Field: "pageid", Reason: fmt.Sprintf("entry %d has neither pageid nor title", i)}
		}

		if _, gone := s.changed[key]; gone {
			continue
		}

		prev, seen := s.incomplete[key]
		if !seen {
			s.incomplete[key] = page
			s.order = append(s.order, key)
			continue
		}

		delete(candidates, key)
		if revisionChanged(prev, page) {
			delete(s.incomplete, key)
			s.changed[key] = struct{}{}
			s.changedSeq = append(s.changedSeq, key)
			continue
		}
		mergeObject(prev, page)
		metrics.PagesMerged.Inc()
	}

	var finished []Object
	for _, key := range pending {
		if _, ok := candidates[key]; !ok {
			continue
		}
		finished = append(finished, s.incomplete[key])
		delete(s.incomplete, key)
	}
	s.compact()
	return finished, nil
}

// drain empties the session, returning the remaining pages in first-seen order.
func (s *pageSession) drain() []Object {
	out := make([]Object, 0, len(s.incomplete))
	for _, key := range s.order {
		if page, ok := s.incomplete[key]; ok {
			out = append(out, page)
		}
	}
	clear(s.incomplete)
	s.order = nil
	return out
}

func (s *pageSession) conflict() *ModificationConflictError {
	if len(s.changedSeq) == 0 {
		return nil
	}
	return &ModificationConflictError{Pages: slices.Clone(s.changedSeq)}
}

// compact drops keys that are no longer pending from order.
func (s *pageSession) compact() {
	s.order = slices.DeleteFunc(s.order, func(key PageKey) bool {
		_, ok := s.incomplete[key]
		return !ok
	})
}

// revisionChanged reports whether both fragments carry a lastrevid and they differ.
func revisionChanged(prev, next Object) bool {
	a, okA := prev["lastrevid"]
	b, okB := next["lastrevid"]
	if !okA || !okB {
		return false
	}
	ia, intA := toInt64(a)
	ib, intB := toInt64(b)
	if intA && intB {
		return ia != ib
	}
	return fmt.Sprint(a) != fmt.Sprint(b)
}
