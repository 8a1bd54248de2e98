package retrieve

import "strings"

// stopWords is the closed set filtered out of retrieval queries and tag
// keywords: English function words plus verbs that dominate coding prompts
// and carry no recall value.
var stopWords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`
		the a an and or but if then else when where what which who whom whose
		this that these those there here how why all any both each few more
		most other some such only own same than too very can will just should
		now also into onto about above after again against before below
		between during under until while with without within your you our
		ours their them they was were been being are is has have had having
		does did doing would could may might must shall not nor off over out
		for from its his her him she he who let per via each
		fix fixes fixed add adds added make makes made create creates created
		update updates updated change changes changed remove removes removed
		delete deletes deleted implement implemented write writes written
		check checks checked use uses used using run runs running get gets
		set sets need needs needed want wants wanted help look looks find
		finds found show shows please try tries new file files code line
	`) {
		stopWords[w] = true
	}
}

// IsStopWord reports whether the lowercased token is in the stopword set.
func IsStopWord(token string) bool {
	return stopWords[token]
}

// Keywords extracts up to max lowercased alphanumeric tokens of length > 2
// that are not stopwords, deduplicated in first-seen order. max <= 0 means
// no cap.
func Keywords(s string, max int) []string {
	var out []string
	seen := map[string]bool{}

	token := func(t string) {
		if len(t) <= 2 || stopWords[t] || seen[t] {
			return
		}
		seen[t] = true
		out = append(out, t)
	}

	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			token(b.String())
			b.Reset()
		}
		if max > 0 && len(out) >= max {
			return out
		}
	}
	if b.Len() > 0 {
		token(b.String())
	}
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}
