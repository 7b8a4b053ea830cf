package mention

import (
	"reflect"
	"testing"
)

func TestResolveStripsTagsAndMatches(t *testing.T) {
	names := []string{"my-app", "api-service"}

	cleaned, matched := Resolve("fix bug in #my-app please", names)
	if cleaned != "fix bug in please" {
		t.Fatalf("cleaned content mismatch: %q", cleaned)
	}
	if !reflect.DeepEqual(matched, []string{"my-app"}) {
		t.Fatalf("matched mismatch: %v", matched)
	}
}

func TestResolveCases(t *testing.T) {
	names := []string{"my-app", "api-service", "frontend"}

	cases := []struct {
		name    string
		input   string
		cleaned string
		matched []string
	}{
		{
			name:    "no mentions",
			input:   "how does auth work?",
			cleaned: "how does auth work?",
		},
		{
			name:    "short token ignored",
			input:   "see #a for details",
			cleaned: "see #a for details",
		},
		{
			name:    "bare sigil ignored",
			input:   "issue # 42",
			cleaned: "issue # 42",
		},
		{
			name:    "at sigil",
			input:   "ping @frontend about the header",
			cleaned: "ping about the header",
			matched: []string{"frontend"},
		},
		{
			name:    "mid-word sigil is not a mention",
			input:   "value is a#my-app literal",
			cleaned: "value is a#my-app literal",
		},
		{
			name:    "multiple mentions deduplicated in first-seen order",
			input:   "#api-service talks to #frontend and #api-service again",
			cleaned: "talks to and again",
			matched: []string{"api-service", "frontend"},
		},
		{
			name:    "substring match, first registry entry wins",
			input:   "does #app use #service?",
			cleaned: "does use?",
			matched: []string{"my-app", "api-service"},
		},
		{
			name:    "unmatched token stripped silently",
			input:   "look at #unknown-repo here",
			cleaned: "look at here",
		},
		{
			name:    "trailing mention with punctuation",
			input:   "refactor #my-app, then deploy",
			cleaned: "refactor, then deploy",
			matched: []string{"my-app"},
		},
		{
			name:    "mention only input trims to empty",
			input:   "#my-app",
			cleaned: "",
			matched: []string{"my-app"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cleaned, matched := Resolve(tc.input, names)
			if cleaned != tc.cleaned {
				t.Fatalf("cleaned mismatch: got %q want %q", cleaned, tc.cleaned)
			}
			if !reflect.DeepEqual(matched, tc.matched) {
				t.Fatalf("matched mismatch: got %v want %v", matched, tc.matched)
			}
		})
	}
}

func TestScanOffsets(t *testing.T) {
	tokens := Scan("a #bb c @dd-e")
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	if tokens[0].Start != 2 || tokens[0].End != 5 || tokens[0].Text != "bb" {
		t.Fatalf("first token mismatch: %#v", tokens[0])
	}
	if tokens[1].Text != "dd-e" {
		t.Fatalf("second token mismatch: %#v", tokens[1])
	}
}

func TestSuggest(t *testing.T) {
	names := []string{"my-app", "api-service", "mobile-app", "frontend"}

	got := Suggest("tell me about #ap", 17, names)
	want := []string{"my-app", "api-service", "mobile-app"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("suggestions mismatch: got %v want %v", got, want)
	}

	// caret not at the end of a token yields nothing
	if got := Suggest("tell me about #ap now", 21, names); got != nil {
		t.Fatalf("expected no suggestions, got %v", got)
	}

	// token too short yields nothing
	if got := Suggest("#a", 2, names); got != nil {
		t.Fatalf("expected no suggestions for short token, got %v", got)
	}
}

func TestSuggestCap(t *testing.T) {
	var names []string
	for i := 0; i < 12; i++ {
		names = append(names, "repo-"+string(rune('a'+i)))
	}
	got := Suggest("#repo", 5, names)
	if len(got) != MaxSuggestions {
		t.Fatalf("expected %d suggestions, got %d", MaxSuggestions, len(got))
	}
	if got[0] != "repo-a" {
		t.Fatalf("suggestions should follow registry order, got %v", got)
	}
}
