// Package ingest reads content feeds exported by the CMS.
//
// A feed is JSONL, one item per line:
//
//	{"id":12,"type":"project","title":"Quai Perrache","excerpt":"<p>...</p>",
//	 "status":"publish","show_in_graph":true,"date":"2024-03-01T10:00:00Z",
//	 "meta":{"client":"Ville de Lyon","cost":150000},
//	 "categories":[4,{"id":9,"name":"Urbanisme"}],"tags":[],
//	 "terms":{"project_type":[2]},"manual_links":[7]}
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lazypower/affinity/internal/store"
)

// entry is one raw feed line. Fields the CMS emits in more than one shape
// are kept raw and normalized afterwards.
type entry struct {
	ID          int64                      `json:"id"`
	Type        string                     `json:"type"`
	Title       string                     `json:"title"`
	Excerpt     string                     `json:"excerpt"`
	Author      string                     `json:"author"`
	Status      string                     `json:"status"`
	ShowInGraph json.RawMessage            `json:"show_in_graph"`
	Date        json.RawMessage            `json:"date"`
	Meta        map[string]json.RawMessage `json:"meta"`
	Categories  json.RawMessage            `json:"categories"`
	Tags        json.RawMessage            `json:"tags"`
	Terms       map[string]json.RawMessage `json:"terms"`
	ManualLinks []int64                    `json:"manual_links"`
}

// Skipped describes a feed line that could not be turned into an item.
type Skipped struct {
	Line   int
	Reason string
}

// Result is a parsed feed.
type Result struct {
	Items   []store.Item
	Skipped []Skipped
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

// ParseFile reads a JSONL feed file.
func ParseFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a JSONL feed. Malformed lines are skipped and reported, never
// fatal; only read failures are returned as errors.
func Parse(r io.Reader) (*Result, error) {
	res := &Result{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB line buffer

	n := 0
	for scanner.Scan() {
		n++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		it, err := parseLine(line)
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{Line: n, Reason: err.Error()})
			continue
		}
		res.Items = append(res.Items, *it)
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("scan feed: %w", err)
	}
	return res, nil
}

// ParseLines parses a feed held in a string.
func ParseLines(content string) (*Result, error) {
	return Parse(strings.NewReader(content))
}

func parseLine(line []byte) (*store.Item, error) {
	var e entry
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	kind := store.Kind(e.Type)
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown type %q", e.Type)
	}
	if e.ID < 0 {
		return nil, fmt.Errorf("invalid id %d", e.ID)
	}

	it := &store.Item{
		ID:          e.ID,
		Kind:        kind,
		Title:       cleanText(e.Title),
		Excerpt:     cleanText(e.Excerpt),
		Author:      strings.TrimSpace(e.Author),
		Status:      e.Status,
		ShowInGraph: parseFlag(e.ShowInGraph),
		ManualLinks: e.ManualLinks,
	}

	var err error
	if it.PublishedAt, err = parseDate(e.Date); err != nil {
		return nil, err
	}
	if len(e.Meta) > 0 {
		it.Attributes = make(map[string]string, len(e.Meta))
		for k, raw := range e.Meta {
			if v := metaValue(raw); v != "" {
				it.Attributes[k] = v
			}
		}
	}
	if it.Categories, err = parseTerms(e.Categories); err != nil {
		return nil, fmt.Errorf("categories: %w", err)
	}
	if it.Tags, err = parseTerms(e.Tags); err != nil {
		return nil, fmt.Errorf("tags: %w", err)
	}
	for tax, raw := range e.Terms {
		terms, err := parseTerms(raw)
		if err != nil {
			return nil, fmt.Errorf("terms %s: %w", tax, err)
		}
		if it.Terms == nil {
			it.Terms = make(map[string][]store.Term)
		}
		it.Terms[tax] = terms
	}
	return it, nil
}

// cleanText strips markup and entities from CMS-rendered strings.
func cleanText(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// parseFlag accepts true/false, 1/0 and their string forms. Absent means
// shown.
func parseFlag(raw json.RawMessage) bool {
	if len(raw) == 0 || string(raw) == "null" {
		return true
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return b
	}
	switch strings.Trim(string(raw), `"`) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// parseDate accepts RFC 3339 strings, the CMS "2006-01-02 15:04:05" form
// and unix milliseconds. Absent or empty gives 0.
func parseDate(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var ms int64
	if json.Unmarshal(raw, &ms) == nil {
		return ms, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("date: %w", err)
	}
	if s == "" {
		return 0, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("date: unrecognized %q", s)
}

// metaValue flattens a meta field to the string form attributes are stored
// in. Numbers keep their literal text; lists are joined with commas.
func metaValue(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if dec.Decode(&n) == nil {
		return n.String()
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return strconv.FormatBool(b)
	}
	var list []json.RawMessage
	if json.Unmarshal(raw, &list) == nil {
		parts := make([]string, 0, len(list))
		for _, v := range list {
			if s := metaValue(v); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	}
	return ""
}

// parseTerms accepts a list of bare ids, of {"id","name"} objects, or a mix.
func parseTerms(raw json.RawMessage) ([]store.Term, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	terms := make([]store.Term, 0, len(list))
	for _, v := range list {
		var t store.Term
		if err := json.Unmarshal(v, &t.ID); err != nil {
			if err := json.Unmarshal(v, &t); err != nil {
				return nil, err
			}
		}
		if t.ID <= 0 {
			return nil, fmt.Errorf("invalid term id %d", t.ID)
		}
		terms = append(terms, t)
	}
	return terms, nil
}
