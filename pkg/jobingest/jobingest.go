// Package jobingest fetches a job posting page and reduces it to plain text.
package jobingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	DefaultMaxChars = 20000
	DefaultTimeout  = 20 * time.Second
	userAgent       = "Mozilla/5.0 (compatible; mockprep/1.0)"
)

var ErrUnsupportedURL = errors.New("unsupported job url")

// Page is the readable part of a job posting.
type Page struct {
	Title string
	Text  string
}

// Fetcher downloads job postings.
type Fetcher struct {
	http     *resty.Client
	maxChars int
}

// New returns a Fetcher. maxChars <= 0 uses DefaultMaxChars.
func New(timeout time.Duration, maxChars int) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	hc := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml")
	return &Fetcher{http: hc, maxChars: maxChars}
}

// Fetch downloads rawURL and extracts its description text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Page{}, fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL)
	}

	resp, err := f.http.R().SetContext(ctx).SetDoNotParseResponse(true).Get(u.String())
	if err != nil {
		return Page{}, fmt.Errorf("fetch job page: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.IsError() {
		return Page{}, fmt.Errorf("fetch job page: status %d", resp.StatusCode())
	}

	doc, err := html.Parse(body)
	if err != nil {
		return Page{}, fmt.Errorf("parse job page: %w", err)
	}
	return Extract(doc, f.maxChars), nil
}

var (
	crlf       = regexp.MustCompile(`\r\n?`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// Extract pulls the title and the main content text out of a parsed page.
// Script, style and noscript content is dropped; <main> wins over <body>.
func Extract(doc *html.Node, maxChars int) Page {
	var title string
	if t := find(doc, atom.Title); t != nil {
		title = strings.TrimSpace(textOf(t))
	}

	root := find(doc, atom.Main)
	if root == nil {
		root = find(doc, atom.Body)
	}
	if root == nil {
		root = doc
	}

	var lines []string
	collect(root, &lines)
	text := strings.Join(lines, "\n")
	text = crlf.ReplaceAllString(text, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars]
		for !utf8.ValidString(text) {
			text = text[:len(text)-1]
		}
	}

	return Page{Title: title, Text: strings.TrimSpace(text)}
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if m := find(c, a); m != nil {
			return m
		}
	}
	return nil
}

func skipped(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template:
		return true
	}
	return false
}

// collect appends each non-blank text node as its own line.
func collect(n *html.Node, lines *[]string) {
	if skipped(n) {
		return
	}
	if n.Type == html.TextNode {
		if s := strings.TrimSpace(n.Data); s != "" {
			*lines = append(*lines, s)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collect(c, lines)
	}
}

func textOf(n *html.Node) string {
	var lines []string
	collect(n, &lines)
	return strings.Join(lines, " ")
}
