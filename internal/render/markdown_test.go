package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTML_FencedCodeBlock(t *testing.T) {
	content := "Use this:\n\n```lua\nlocal x = 1\nprint(x)\n```\n"
	out, err := HTML("msg1", content)
	require.NoError(t, err)

	s := string(out)
	require.Contains(t, s, `<div class="code-block" id="msg1-code-1">`)
	require.Contains(t, s, `<span class="code-lang">LUA</span>`)
	require.Contains(t, s, `data-copy-target="msg1-code-1"`)
	require.Contains(t, s, ">Copiar</button>")
	require.Contains(t, s, `class="chroma"`)
	require.Contains(t, s, "print")
	require.NotContains(t, s, "```")
}

func TestHTML_UnlabeledBlockShowsCode(t *testing.T) {
	out, err := HTML("m", "```\nsome text\n```\n")
	require.NoError(t, err)
	require.Contains(t, string(out), `<span class="code-lang">CODE</span>`)
}

func TestHTML_NumbersBlocksInOrder(t *testing.T) {
	content := "```lua\na()\n```\n\ntext\n\n```luau\nb()\n```\n\n    indented()\n"
	out, err := HTML("p", content)
	require.NoError(t, err)

	s := string(out)
	first := strings.Index(s, `id="p-code-1"`)
	second := strings.Index(s, `id="p-code-2"`)
	third := strings.Index(s, `id="p-code-3"`)
	require.True(t, first >= 0 && second > first && third > second)
	require.Contains(t, s, `<span class="code-lang">LUAU</span>`)
}

func TestHTML_InlineCode(t *testing.T) {
	out, err := HTML("m", "call `task.wait(<1>)` first")
	require.NoError(t, err)
	require.Contains(t, string(out), `<code class="inline-code">task.wait(&lt;1&gt;)</code>`)
}

func TestHTML_Headings(t *testing.T) {
	out, err := HTML("m", "# Title\n\n## Section\n\n### Sub\n\n#### Deep\n")
	require.NoError(t, err)

	s := string(out)
	require.Contains(t, s, `<h1 class="md-h1">Title</h1>`)
	require.Contains(t, s, `<h2 class="md-h2"><span class="heading-accent">#</span> Section</h2>`)
	require.Contains(t, s, `<h3 class="md-h3">Sub</h3>`)
	require.Contains(t, s, `<h4>Deep</h4>`)
}

func TestHTML_LinksOpenInNewTab(t *testing.T) {
	out, err := HTML("m", "[docs](https://create.roblox.com/docs) and https://example.com")
	require.NoError(t, err)

	s := string(out)
	require.Contains(t, s, `<a href="https://create.roblox.com/docs" target="_blank" rel="noreferrer">docs</a>`)
	require.Contains(t, s, `<a href="https://example.com" target="_blank" rel="noreferrer">https://example.com</a>`)
}

func TestHTML_DangerousLinkLosesHref(t *testing.T) {
	out, err := HTML("m", "[click](javascript:alert(1))")
	require.NoError(t, err)
	require.Contains(t, string(out), `<a href="" target="_blank"`)
	require.NotContains(t, string(out), "javascript:")
}

func TestHTML_RawHTMLIsNotPassedThrough(t *testing.T) {
	out, err := HTML("m", "hello <script>alert(1)</script>\n\n<div onclick=\"x\">block</div>\n")
	require.NoError(t, err)
	require.NotContains(t, string(out), "<script>")
	require.NotContains(t, string(out), "onclick")
}

func TestHTML_GFMTable(t *testing.T) {
	out, err := HTML("m", "| a | b |\n|---|---|\n| 1 | 2 |\n")
	require.NoError(t, err)
	require.Contains(t, string(out), "<table>")
}

func TestHTML_Empty(t *testing.T) {
	out, err := HTML("m", "")
	require.NoError(t, err)
	require.Empty(t, strings.TrimSpace(string(out)))
}

func TestCodeBlocks(t *testing.T) {
	content := "intro\n\n```lua\nlocal a = 1\n```\n\n```\nplain\n```\n\n    indented\n"
	blocks := CodeBlocks(content)
	require.Equal(t, []CodeBlock{
		{Language: "lua", Code: "local a = 1"},
		{Language: "", Code: "plain"},
		{Language: "", Code: "indented"},
	}, blocks)
}

func TestCodeBlocks_None(t *testing.T) {
	require.Empty(t, CodeBlocks("just **text**"))
}

func TestCSS(t *testing.T) {
	css, err := CSS(DefaultStyle)
	require.NoError(t, err)
	require.Contains(t, css, ".chroma")

	fallback, err := CSS("no-such-style")
	require.NoError(t, err)
	require.NotEmpty(t, fallback)
}

func TestLexerFor(t *testing.T) {
	require.Equal(t, "Lua", lexerFor("luau", "local x").Config().Name)
	require.Equal(t, "Lua", lexerFor("LUA", "local x").Config().Name)
	require.NotNil(t, lexerFor("no-such-language", "???"))
}

func TestTerminal(t *testing.T) {
	out, err := Terminal("# Olá\n\n`print(1)`", 0)
	require.NoError(t, err)
	require.Contains(t, out, "Olá")
	require.Contains(t, out, "print(1)")
}
