package evidence

import (
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"

	"github.com/n0madic/go-turnkit/internal/types"
)

// Evidence is the running record of what the current turn actually searched.
type Evidence struct {
	Used    bool     `json:"used"`
	Queries []string `json:"queries,omitempty"`
	URLs    []string `json:"urls,omitempty"`
	// Domains observed in search results and citations, not in model text.
	Domains []string `json:"domains,omitempty"`
}

// Merge folds other into e keeping first-seen order.
func (e *Evidence) Merge(other Evidence) {
	e.Used = e.Used || other.Used
	e.Queries = appendUnique(e.Queries, other.Queries...)
	e.URLs = appendUnique(e.URLs, other.URLs...)
	e.Domains = appendUnique(e.Domains, other.Domains...)
}

var rawURLPattern = regexp.MustCompile(`https?://[^\s<>"'\)\]]+`)

// Extract scans response output for search invocations, citations and URLs.
func Extract(resp *types.Response) Evidence {
	var ev Evidence
	if resp == nil {
		return ev
	}
	for _, item := range resp.Output {
		r := gjson.ParseBytes(item.Raw)
		switch item.Type {
		case "web_search_call":
			ev.Used = true
			ev.Queries = appendUnique(ev.Queries, searchQueries(r)...)
			r.Get("action.sources").ForEach(func(_, src gjson.Result) bool {
				ev.addObserved(src.Get("url").String())
				return true
			})
		case "message":
			r.Get("content").ForEach(func(_, part gjson.Result) bool {
				part.Get("annotations").ForEach(func(_, ann gjson.Result) bool {
					if ann.Get("type").String() == "url_citation" {
						ev.addObserved(ann.Get("url").String())
					}
					return true
				})
				for _, u := range rawURLPattern.FindAllString(part.Get("text").String(), -1) {
					if norm, ok := normalizeURL(strings.TrimRight(u, ".,;:")); ok {
						ev.URLs = appendUnique(ev.URLs, norm)
					}
				}
				return true
			})
		}
	}
	return ev
}

func (e *Evidence) addObserved(raw string) {
	norm, ok := normalizeURL(raw)
	if !ok {
		return
	}
	e.URLs = appendUnique(e.URLs, norm)
	if d := domainOf(norm); d != "" {
		e.Domains = appendUnique(e.Domains, d)
	}
}

func searchQueries(r gjson.Result) []string {
	var out []string
	add := func(q string) {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	add(r.Get("action.query").String())
	r.Get("action.queries").ForEach(func(_, q gjson.Result) bool {
		add(q.String())
		return true
	})
	add(r.Get("query").String())
	if args := r.Get("arguments"); args.Exists() {
		raw := args.Raw
		if args.Type == gjson.String {
			raw = args.String()
		}
		add(gjson.Get(raw, "query").String())
	}
	return out
}

var sensitiveFields = map[string]bool{
	"price":              true,
	"unitprice":          true,
	"markup":             true,
	"discount":           true,
	"manufacturer":       true,
	"article":            true,
	"supplier":           true,
	"schematic":          true,
	"schematicref":       true,
	"schematicreference": true,
	"note":               true,
	"notes":              true,
	"quantity":           true,
	"qty":                true,
	"unit":               true,
}

// RequiresProof returns the market-sensitive field names found anywhere in a
// tool argument object, in first-seen order.
func RequiresProof(args string) []string {
	if !gjson.Valid(args) {
		return nil
	}
	var found []string
	var walk func(gjson.Result)
	walk = func(v gjson.Result) {
		v.ForEach(func(key, child gjson.Result) bool {
			name := key.String()
			if name == "verification" || name == "proof" || name == "evidence" {
				return true
			}
			if key.Type == gjson.String && sensitiveFields[fieldKey(name)] {
				found = appendUnique(found, name)
			}
			if child.IsObject() || child.IsArray() {
				walk(child)
			}
			return true
		})
	}
	walk(gjson.Parse(args))
	return found
}

// ProofOf returns the proof object embedded in tool arguments, if any.
func ProofOf(args string) []byte {
	for _, key := range []string{"verification", "proof", "evidence"} {
		if v := gjson.Get(args, key); v.IsObject() {
			return []byte(v.Raw)
		}
	}
	return nil
}

var keyFold = cases.Fold()

func fieldKey(k string) string {
	k = keyFold.String(k)
	return strings.Map(func(r rune) rune {
		if r == '_' || r == '-' || r == ' ' {
			return -1
		}
		return r
	}, k)
}

func normalizeURL(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	return u.String(), true
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func domainsOf(urls []string) []string {
	var out []string
	for _, u := range urls {
		if d := domainOf(u); d != "" {
			out = appendUnique(out, d)
		}
	}
	return out
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if v != "" && !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
