package reply

import (
	"regexp"
	"strings"

	"github.com/roelfdiedericks/chatreply/internal/lang"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const (
	minCJKRun   = 2
	maxCJKRun   = 10
	minLatinRun = 3
)

var tokenPattern = regexp.MustCompile(`[\p{Han}\p{Hiragana}\p{Katakana}\p{Hangul}]+|[A-Za-z][A-Za-z0-9_]*(?:[.\-+#][A-Za-z0-9_]+)*`)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true, "this": true,
	"what": true, "how": true, "why": true, "are": true, "you": true, "your": true,
	"can": true, "could": true, "would": true, "should": true, "from": true, "have": true,
	"has": true, "was": true, "were": true, "will": true, "about": true, "into": true,
	"there": true, "their": true, "them": true, "then": true, "than": true, "when": true,
	"where": true, "which": true, "who": true, "does": true, "did": true, "not": true,
	"but": true, "all": true, "any": true, "some": true, "more": true, "most": true,
	"just": true, "also": true, "like": true, "use": true, "using": true, "get": true,
	"make": true, "please": true, "explain": true, "tell": true, "give": true, "know": true,
	"need": true, "want": true, "help": true, "here": true, "these": true, "those": true,
	"its": true, "our": true, "out": true, "one": true, "two": true, "way": true,
	"什么": true, "怎么": true, "如何": true, "为什么": true, "可以": true, "这个": true,
	"那个": true, "我们": true, "你们": true, "他们": true, "是否": true, "一下": true,
}

var md = goldmark.New()

// plainText renders markdown to its prose text, skipping code and raw HTML,
// so keywords are not mined from source listings.
func plainText(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	source := []byte(src)
	doc := md.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock {
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.CodeSpan, *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			b.Write(node.Segment.Value(source))
			b.WriteByte(' ')
		case *ast.String:
			b.Write(node.Value)
			b.WriteByte(' ')
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// extractKeywords returns up to limit distinct topic tokens in order of appearance.
func extractKeywords(s string, limit int) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tok := range tokenPattern.FindAllString(s, -1) {
		if len(out) >= limit {
			break
		}
		runes := []rune(tok)
		if lang.IsCJK(runes[0]) {
			if len(runes) < minCJKRun {
				continue
			}
			if len(runes) > maxCJKRun {
				runes = runes[:maxCJKRun]
			}
		} else if len(runes) < minLatinRun {
			continue
		}
		kw := string(runes)
		key := strings.ToLower(kw)
		if stopWords[key] || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, kw)
	}
	return out
}
