// Package render turns model replies into HTML for the chat page and into
// styled text for the terminal.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// DefaultStyle is the chroma style served as the highlight stylesheet.
const DefaultStyle = "monokai"

// languageAliases maps fence labels chroma does not know to a lexer it does.
var languageAliases = map[string]string{
	"luau":   "lua",
	"rbxlua": "lua",
}

var htmlFormatter = chromahtml.New(chromahtml.WithClasses(true))

// CodeBlock is a fenced or indented code block found in a reply.
type CodeBlock struct {
	Language string
	Code     string
}

// HTML renders Markdown content. Code blocks get the id <prefix>-code-<n>,
// numbered from 1 in document order, so copy buttons can target them.
func HTML(prefix, content string) (template.HTML, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			renderer.WithNodeRenderers(util.Prioritized(&nodeRenderer{prefix: prefix}, 100)),
		),
	)
	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("render: convert markdown: %w", err)
	}
	return template.HTML(buf.String()), nil
}

// CodeBlocks returns the raw code blocks of content in document order.
func CodeBlocks(content string) []CodeBlock {
	source := []byte(content)
	doc := goldmark.New(goldmark.WithExtensions(extension.GFM)).Parser().Parse(text.NewReader(source))

	var blocks []CodeBlock
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.FencedCodeBlock:
			blocks = append(blocks, CodeBlock{Language: string(v.Language(source)), Code: blockText(v, source)})
		case *ast.CodeBlock:
			blocks = append(blocks, CodeBlock{Code: blockText(v, source)})
		}
		return ast.WalkContinue, nil
	})
	return blocks
}

// CSS returns the stylesheet for the highlight classes. Unknown style names
// fall back to chroma's default style.
func CSS(style string) (string, error) {
	var buf bytes.Buffer
	if err := htmlFormatter.WriteCSS(&buf, styles.Get(style)); err != nil {
		return "", fmt.Errorf("render: write css: %w", err)
	}
	return buf.String(), nil
}

type nodeRenderer struct {
	prefix string
	blocks int
}

func (r *nodeRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.renderFencedCodeBlock)
	reg.Register(ast.KindCodeBlock, r.renderCodeBlock)
	reg.Register(ast.KindCodeSpan, r.renderCodeSpan)
	reg.Register(ast.KindHeading, r.renderHeading)
	reg.Register(ast.KindLink, r.renderLink)
	reg.Register(ast.KindAutoLink, r.renderAutoLink)
}

func (r *nodeRenderer) renderFencedCodeBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.FencedCodeBlock)
	return ast.WalkSkipChildren, r.writeCodeBlock(w, string(n.Language(source)), blockText(n, source))
}

func (r *nodeRenderer) renderCodeBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	return ast.WalkSkipChildren, r.writeCodeBlock(w, "", blockText(node, source))
}

func (r *nodeRenderer) writeCodeBlock(w util.BufWriter, lang, code string) error {
	r.blocks++
	id := template.HTMLEscapeString(fmt.Sprintf("%s-code-%d", r.prefix, r.blocks))
	label := "CODE"
	if lang != "" {
		label = strings.ToUpper(lang)
	}

	fmt.Fprintf(w, `<div class="code-block" id="%s">`, id)
	fmt.Fprintf(w, `<div class="code-header"><span class="code-lang">%s</span>`, template.HTMLEscapeString(label))
	fmt.Fprintf(w, `<button type="button" class="copy-btn" data-copy-target="%s" title="Copiar código">Copiar</button></div>`, id)
	_, _ = w.WriteString(`<div class="code-body">`)
	if err := highlight(w, lang, code); err != nil {
		return fmt.Errorf("render: highlight %s block: %w", label, err)
	}
	_, _ = w.WriteString("</div></div>\n")
	return nil
}

func (r *nodeRenderer) renderCodeSpan(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		_, _ = w.WriteString("</code>")
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString(`<code class="inline-code">`)
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		var value []byte
		switch t := c.(type) {
		case *ast.Text:
			value = t.Segment.Value(source)
		case *ast.String:
			value = t.Value
		}
		// Line endings inside a code span render as spaces.
		if bytes.HasSuffix(value, []byte("\n")) {
			value = append(value[:len(value)-1:len(value)-1], ' ')
		}
		_, _ = w.Write(util.EscapeHTML(value))
	}
	return ast.WalkSkipChildren, nil
}

func (r *nodeRenderer) renderHeading(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.Heading)
	if !entering {
		fmt.Fprintf(w, "</h%d>\n", n.Level)
		return ast.WalkContinue, nil
	}
	switch n.Level {
	case 2:
		_, _ = w.WriteString(`<h2 class="md-h2"><span class="heading-accent">#</span> `)
	case 1, 3:
		fmt.Fprintf(w, `<h%d class="md-h%d">`, n.Level, n.Level)
	default:
		fmt.Fprintf(w, "<h%d>", n.Level)
	}
	return ast.WalkContinue, nil
}

func (r *nodeRenderer) renderLink(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.Link)
	if !entering {
		_, _ = w.WriteString("</a>")
		return ast.WalkContinue, nil
	}
	writeAnchorOpen(w, n.Destination, n.Title)
	return ast.WalkContinue, nil
}

func (r *nodeRenderer) renderAutoLink(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.AutoLink)
	url := n.URL(source)
	label := n.Label(source)
	if n.AutoLinkType == ast.AutoLinkEmail && !bytes.HasPrefix(bytes.ToLower(url), []byte("mailto:")) {
		url = append([]byte("mailto:"), url...)
	}
	writeAnchorOpen(w, url, nil)
	_, _ = w.Write(util.EscapeHTML(label))
	_, _ = w.WriteString("</a>")
	return ast.WalkContinue, nil
}

// writeAnchorOpen writes an anchor that opens in a new tab. Dangerous
// schemes such as javascript: lose their href.
func writeAnchorOpen(w util.BufWriter, dest, title []byte) {
	_, _ = w.WriteString(`<a href="`)
	if !html.IsDangerousURL(dest) {
		_, _ = w.Write(util.EscapeHTML(util.URLEscape(dest, true)))
	}
	_, _ = w.WriteString(`" target="_blank" rel="noreferrer"`)
	if len(title) > 0 {
		_, _ = w.WriteString(` title="`)
		_, _ = w.Write(util.EscapeHTML(title))
		_ = w.WriteByte('"')
	}
	_ = w.WriteByte('>')
}

func highlight(w io.Writer, lang, code string) error {
	lexer := lexerFor(lang, code)
	it, err := lexer.Tokenise(nil, code)
	if err != nil {
		return err
	}
	return htmlFormatter.Format(w, styles.Get(DefaultStyle), it)
}

func lexerFor(lang, code string) chroma.Lexer {
	name := strings.ToLower(strings.TrimSpace(lang))
	if alias, ok := languageAliases[name]; ok {
		name = alias
	}
	var lexer chroma.Lexer
	if name != "" {
		lexer = lexers.Get(name)
	}
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	return chroma.Coalesce(lexer)
}

// blockText joins the lines of a code block without its final newline.
func blockText(n ast.Node, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		b.Write(line.Value(source))
	}
	return strings.TrimSuffix(b.String(), "\n")
}
