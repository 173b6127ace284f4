// Package hackernews extracts stories from Hacker News listing pages and
// comments from item pages.
package hackernews

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/hn-fanout-scraper/internal/scraper"
)

// Field and detail keys produced by Parser.
const (
	FieldTitle = "title"
	FieldLink  = "link"
	FieldRank  = "rank"
	FieldSite  = "site"
	FieldScore = "score"
	FieldBy    = "by"

	DetailComments = "comments"
)

// CommentUserKey is the detail key holding the author of the i-th comment.
func CommentUserKey(i int) string { return "comment." + strconv.Itoa(i) + ".user" }

// CommentTextKey is the detail key holding the text of the i-th comment.
func CommentTextKey(i int) string { return "comment." + strconv.Itoa(i) + ".text" }

// Parser implements scraper.Parser for news.ycombinator.com markup.
type Parser struct{}

// New returns a Parser.
func New() Parser {
	return Parser{}
}

// ParsePage returns one record per story row that has both an id and a
// title link, in page order.
func (Parser) ParsePage(body []byte) ([]scraper.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("read listing html: %w", err)
	}

	var records []scraper.Record
	doc.Find(".athing").Each(func(_ int, row *goquery.Selection) {
		id, _ := row.Attr("id")
		id = strings.TrimSpace(id)
		titleTag := row.Find(".titleline > a").First()
		if id == "" || titleTag.Length() == 0 {
			return
		}
		href, _ := titleTag.Attr("href")
		fields := map[string]string{
			FieldTitle: strings.TrimSpace(titleTag.Text()),
			FieldLink:  strings.TrimSpace(href),
		}
		if rank := strings.TrimSuffix(strings.TrimSpace(row.Find(".rank").First().Text()), "."); rank != "" {
			fields[FieldRank] = rank
		}
		if site := strings.TrimSpace(row.Find(".sitestr").First().Text()); site != "" {
			fields[FieldSite] = site
		}
		// Score and author live in the row right after the story row.
		sub := row.Next()
		if score := strings.TrimSpace(sub.Find(".score").First().Text()); score != "" {
			fields[FieldScore] = strings.TrimSuffix(strings.TrimSuffix(score, " points"), " point")
		}
		if by := strings.TrimSpace(sub.Find(".hnuser").First().Text()); by != "" {
			fields[FieldBy] = by
		}
		records = append(records, scraper.Record{ID: id, Fields: fields})
	})
	return records, nil
}

// ParseDetail flattens the comment tree into a map: "comments" holds the
// count and comment.<i>.user / comment.<i>.text hold each comment in page
// order. Deleted comments (no author or no text) are skipped.
func (Parser) ParseDetail(body []byte) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("read item html: %w", err)
	}

	detail := map[string]string{}
	n := 0
	doc.Find("tr.comtr").Each(func(_ int, row *goquery.Selection) {
		user := row.Find(".hnuser").First()
		text := row.Find(".commtext").First()
		if user.Length() == 0 || text.Length() == 0 {
			return
		}
		detail[CommentUserKey(n)] = strings.TrimSpace(user.Text())
		detail[CommentTextKey(n)] = joinedText(text)
		n++
	})
	detail[DetailComments] = strconv.Itoa(n)
	return detail, nil
}

// joinedText returns every text node under sel, trimmed and joined by single
// spaces, so paragraphs and links do not run together.
func joinedText(sel *goquery.Selection) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}
