package wiki

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

// pageEvent records one element of a QueryPages sequence together with the
// number of calls made when it arrived.
type pageEvent struct {
	page  Object
	err   error
	calls int
}

func collectPages(t *testing.T, caller *scriptedCaller, params Params) []pageEvent {
	t.Helper()
	var events []pageEvent
	for page, err := range QueryPages(context.Background(), caller, params) {
		events = append(events, pageEvent{page: page, err: err, calls: len(caller.requests)})
	}
	return events
}

func assertQueryRequest(t *testing.T, caller *scriptedCaller, index int, extra map[string]string) {
	t.Helper()
	if index >= len(caller.requests) {
		t.Fatalf("request %d not made (%d calls)", index, len(caller.requests))
	}
	want := wantRequest("query", extra)
	if _, ok := extra["continue"]; !ok && index == 0 {
		want["continue"] = ""
	}
	if got := caller.requests[index].Params; !reflect.DeepEqual(got, want) {
		t.Errorf("request %d = %v, want %v", index, got, want)
	}
}

func TestQueryPages_Empty(t *testing.T) {
	caller := &scriptedCaller{responses: []string{`{}`}}

	events := collectPages(t, caller, nil)

	if len(events) != 0 {
		t.Errorf("expected no elements, got %v", events)
	}
	if len(caller.requests) != 1 {
		t.Errorf("calls = %d, want 1", len(caller.requests))
	}
	assertQueryRequest(t, caller, 0, nil)
}

func TestQueryPages_Single(t *testing.T) {
	caller := &scriptedCaller{responses: []string{`{"query":{"pages":[{"pageid":1}]}}`}}

	events := collectPages(t, caller, nil)

	if len(events) != 1 || events[0].err != nil {
		t.Fatalf("events = %v, want one page", events)
	}
	if want := mustObject(t, `{"pageid":1}`); !reflect.DeepEqual(events[0].page, want) {
		t.Errorf("page = %v, want %v", events[0].page, want)
	}
	if len(caller.requests) != 1 {
		t.Errorf("calls = %d, want 1", len(caller.requests))
	}
	assertQueryRequest(t, caller, 0, nil)
}

func TestQueryPages_TwoPagesSameResponse(t *testing.T) {
	caller := &scriptedCaller{responses: []string{`{"query":{"pages":[{"pageid":1},{"pageid":2}]}}`}}

	events := collectPages(t, caller, nil)

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	for i, id := range []int64{1, 2} {
		if events[i].err != nil {
			t.Fatalf("unexpected error: %v", events[i].err)
		}
		if got, _ := events[i].page.Int("pageid"); got != id {
			t.Errorf("page %d id = %d, want %d", i, got, id)
		}
		if events[i].calls != 1 {
			t.Errorf("page %d arrived after %d calls, want 1", i, events[i].calls)
		}
	}
}

func TestQueryPages_SplitAcrossTwoResponses(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"continue":{"c":"yes"},"query":{"pages":[{"pageid":1,"abc":2}]}}`,
		`{"query":{"pages":[{"pageid":1,"xyz":3}]}}`,
	}}

	events := collectPages(t, caller, nil)

	if len(events) != 1 || events[0].err != nil {
		t.Fatalf("events = %v, want one page", events)
	}
	if want := mustObject(t, `{"pageid":1,"abc":2,"xyz":3}`); !reflect.DeepEqual(events[0].page, want) {
		t.Errorf("page = %v, want %v", events[0].page, want)
	}
	if len(caller.requests) != 2 {
		t.Errorf("calls = %d, want 2", len(caller.requests))
	}
	assertQueryRequest(t, caller, 0, nil)
	assertQueryRequest(t, caller, 1, map[string]string{"c": "yes"})
}

func TestQueryPages_CompletesWhenNotMentioned(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"continue":{"c":"A"},"query":{"pages":[{"pageid":1}]}}`,
		`{"continue":{"c":"B"},"query":{"pages":[{"pageid":2}]}}`,
		`{"query":{"pages":[{"pageid":3}]}}`,
	}}

	events := collectPages(t, caller, nil)

	want := []struct {
		id    int64
		calls int
	}{{1, 2}, {2, 3}, {3, 3}}
	if len(events) != len(want) {
		t.Fatalf("events = %d, want %d", len(events), len(want))
	}
	for i, w := range want {
		if id, _ := events[i].page.Int("pageid"); id != w.id {
			t.Errorf("event %d page = %d, want %d", i, id, w.id)
		}
		if events[i].calls != w.calls {
			t.Errorf("page %d yielded after %d calls, want %d", w.id, events[i].calls, w.calls)
		}
	}
	assertQueryRequest(t, caller, 1, map[string]string{"c": "A"})
	assertQueryRequest(t, caller, 2, map[string]string{"c": "B"})
}

func TestQueryPages_MergesListsAcrossResponses(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"continue":{"clcontinue":"1|B","continue":"||"},"query":{"pages":[
			{"pageid":1,"title":"One","lastrevid":10,"categories":[{"title":"Category:A"}]},
			{"pageid":2,"title":"Two","lastrevid":20,"categories":[{"title":"Category:X"}]}]}}`,
		`{"continue":{"clcontinue":"2|Y","continue":"||"},"query":{"pages":[
			{"pageid":1,"title":"One","lastrevid":10,"categories":[{"title":"Category:B"}]},
			{"pageid":2,"title":"Two","lastrevid":20}]}}`,
		`{"query":{"pages":[
			{"pageid":2,"title":"Two","categories":[{"title":"Category:Y"}]}]}}`,
	}}

	events := collectPages(t, caller, Params{"prop": "categories|info", "titles": []string{"One", "Two"}})

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	one, two := events[0].page, events[1].page
	if one.Str("title") != "One" || two.Str("title") != "Two" {
		t.Fatalf("order = %s, %s; want One, Two", one.Str("title"), two.Str("title"))
	}
	if n := len(one.Array("categories")); n != 2 {
		t.Errorf("One categories = %d, want 2", n)
	}
	var cats []string
	for _, c := range two.Objects("categories") {
		cats = append(cats, c.Str("title"))
	}
	if want := []string{"Category:X", "Category:Y"}; !reflect.DeepEqual(cats, want) {
		t.Errorf("Two categories = %v, want %v", cats, want)
	}
	if events[0].calls != 3 {
		t.Errorf("One yielded after %d calls, want 3", events[0].calls)
	}
}

func TestQueryPages_ModificationConflict(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"continue":{"c":"1"},"query":{"pages":[{"pageid":1,"lastrevid":5},{"pageid":2,"lastrevid":9}]}}`,
		`{"continue":{"c":"2"},"query":{"pages":[{"pageid":1,"lastrevid":7},{"pageid":2,"lastrevid":9,"extra":true}]}}`,
		`{"query":{"pages":[{"pageid":1,"lastrevid":7,"late":true},{"pageid":3}]}}`,
	}}

	events := collectPages(t, caller, nil)

	if len(events) != 3 {
		t.Fatalf("events = %d, want 3: %v", len(events), events)
	}
	for _, ev := range events[:2] {
		if ev.err != nil {
			t.Fatalf("conflict must come last, got %v", ev.err)
		}
		if id, _ := ev.page.Int("pageid"); id == 1 {
			t.Error("changed page 1 must never be yielded")
		}
	}
	if !events[1].page.Bool("extra") && !events[0].page.Bool("extra") {
		t.Error("page 2 should carry merged data")
	}

	last := events[2]
	if last.page != nil {
		t.Errorf("conflict element page = %v, want nil", last.page)
	}
	var conflict *ModificationConflictError
	if !errors.As(last.err, &conflict) {
		t.Fatalf("expected ModificationConflictError, got %v", last.err)
	}
	if !reflect.DeepEqual(conflict.Pages, []PageKey{{ID: 1}}) {
		t.Errorf("conflict pages = %v, want [1]", conflict.Pages)
	}
	if !reflect.DeepEqual(conflict.PageIDs(), []int64{1}) {
		t.Errorf("PageIDs = %v", conflict.PageIDs())
	}
}

func TestQueryPages_LastrevidOnlyComparedWhenBothPresent(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"continue":{"c":"1"},"query":{"pages":[{"pageid":1,"lastrevid":5}]}}`,
		`{"continue":{"c":"2"},"query":{"pages":[{"pageid":1,"links":[1]}]}}`,
		`{"query":{"pages":[{"pageid":1,"lastrevid":"5","links":[2]}]}}`,
	}}

	events := collectPages(t, caller, nil)

	if len(events) != 1 || events[0].err != nil {
		t.Fatalf("events = %v, want one page without conflict", events)
	}
	if n := len(events[0].page.Array("links")); n != 2 {
		t.Errorf("links = %d, want 2", n)
	}
}

func TestQueryPages_MissingPagesField(t *testing.T) {
	tests := []struct {
		name      string
		responses []string
		wantPages int
	}{
		{
			name:      "first response",
			responses: []string{`{"continue":{"c":"1"},"query":{"normalized":[]}}`},
		},
		{
			name: "later response",
			responses: []string{
				`{"continue":{"c":"1"},"query":{"pages":[{"pageid":1}]}}`,
				`{"continue":{"c":"2"},"query":{"pages":[{"pageid":2}]}}`,
				`{"query":{}}`,
			},
			wantPages: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &scriptedCaller{responses: tt.responses}
			events := collectPages(t, caller, nil)

			if len(events) != tt.wantPages+1 {
				t.Fatalf("events = %d, want %d", len(events), tt.wantPages+1)
			}
			var malformed *MalformedResponseError
			if !errors.As(events[len(events)-1].err, &malformed) {
				t.Fatalf("expected MalformedResponseError, got %v", events[len(events)-1].err)
			}
			if malformed.Field != "pages" {
				t.Errorf("Field = %q, want pages", malformed.Field)
			}
			if len(caller.requests) != len(tt.responses) {
				t.Errorf("calls = %d, want %d", len(caller.requests), len(tt.responses))
			}
		})
	}
}

func TestQueryPages_BadPageEntries(t *testing.T) {
	tests := []struct {
		name     string
		response string
		field    string
	}{
		{"pages not an array", `{"query":{"pages":{"1":{"pageid":1}}}}`, "pages"},
		{"entry not an object", `{"query":{"pages":[1]}}`, "pages"},
		{"entry without identity", `{"query":{"pages":[{"ns":0}]}}`, "pageid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := collectPages(t, &scriptedCaller{responses: []string{tt.response}}, nil)
			if len(events) != 1 {
				t.Fatalf("events = %d, want 1", len(events))
			}
			var malformed *MalformedResponseError
			if !errors.As(events[0].err, &malformed) {
				t.Fatalf("expected MalformedResponseError, got %v", events[0].err)
			}
			if malformed.Field != tt.field {
				t.Errorf("Field = %q, want %q", malformed.Field, tt.field)
			}
		})
	}
}

func TestQueryPages_MissingTitlesKeyedByTitle(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"query":{"pages":[{"ns":0,"title":"Nope","missing":true},{"ns":0,"title":"Also nope","missing":true},{"pageid":5,"title":"Real"}]}}`,
	}}

	events := collectPages(t, caller, Params{"titles": []string{"Nope", "Also nope", "Real"}})

	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	if !events[0].page.Bool("missing") || events[0].page.Str("title") != "Nope" {
		t.Errorf("first page = %v", events[0].page)
	}
}

func TestQueryPages_PageReappearingAfterCompletion(t *testing.T) {
	// A page left out of one response is complete; if the server mentions
	// it again it starts a new record and is yielded a second time.
	caller := &scriptedCaller{responses: []string{
		`{"continue":{"c":"1"},"query":{"pages":[{"pageid":1,"a":1}]}}`,
		`{"continue":{"c":"2"},"query":{"pages":[{"pageid":2}]}}`,
		`{"query":{"pages":[{"pageid":1,"b":2}]}}`,
	}}

	events := collectPages(t, caller, nil)

	var ids []int64
	for _, ev := range events {
		if ev.err != nil {
			t.Fatalf("unexpected error: %v", ev.err)
		}
		id, _ := ev.page.Int("pageid")
		ids = append(ids, id)
	}
	if want := []int64{1, 2, 1}; !reflect.DeepEqual(ids, want) {
		t.Errorf("yield order = %v, want %v", ids, want)
	}
	if events[2].page.Has("a") {
		t.Error("reappearing page should not carry the earlier fragment")
	}
}

func TestQueryPages_BreakStopsRequests(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"continue":{"c":"1"},"query":{"pages":[{"pageid":1},{"pageid":2}]}}`,
		`{"continue":{"c":"2"},"query":{"pages":[{"pageid":3}]}}`,
		`{"query":{"pages":[{"pageid":4}]}}`,
	}}

	for range QueryPages(context.Background(), caller, nil) {
		break
	}

	if len(caller.requests) != 2 {
		t.Errorf("calls = %d, want 2", len(caller.requests))
	}
}

func TestQueryPages_PropagatesCallerError(t *testing.T) {
	serverErr := &ServerError{Action: "query", Code: "maxlag", Info: "Waiting for db"}
	caller := &scriptedCaller{
		responses: []string{`{"continue":{"c":"1"},"query":{"pages":[{"pageid":1}]}}`},
		errs:      map[int]error{1: serverErr},
	}

	events := collectPages(t, caller, nil)

	if len(events) != 1 {
		t.Fatalf("events = %d, want only the error", len(events))
	}
	if !errors.Is(events[0].err, serverErr) {
		t.Errorf("err = %v, want the server error", events[0].err)
	}
}

func TestQueryPages_RejectsReservedParams(t *testing.T) {
	caller := &scriptedCaller{}
	events := collectPages(t, caller, Params{"continue": "x"})

	var invalid *InvalidParameterError
	if len(events) != 1 || !errors.As(events[0].err, &invalid) {
		t.Fatalf("expected one InvalidParameterError, got %v", events)
	}
	if len(caller.requests) != 0 {
		t.Errorf("calls = %d, want 0", len(caller.requests))
	}
}

func TestPageKeyString(t *testing.T) {
	if got := (PageKey{ID: 42}).String(); got != "42" {
		t.Errorf("String = %q", got)
	}
	if got := (PageKey{Title: "Foo"}).String(); got != "title:Foo" {
		t.Errorf("String = %q", got)
	}
}
