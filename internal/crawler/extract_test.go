package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
  <title>  Example &amp; Co  </title>
  <title>Second title</title>
  <META NAME="Description" CONTENT=" A sample page ">
  <meta name="description" content="ignored">
  <link rel="stylesheet" href="/css/site.css">
  <link href="/print.css?v=2" media="print">
  <link rel="icon" href="/favicon.ico">
  <script src="/js/app.js"></script>
  <script src="/js/app.js"></script>
  <script src="/api/config?format=js"></script>
  <script>var inline = true;</script>
  <style>
    body { background: url('/img/bg.png'); }
    @font-face { src: url("/fonts/inter.woff2") format("woff2"); }
    .x { background: url(/misc/pattern.dat); }
  </style>
</head>
<body>
  <a href="/about">About</a>
  <a href="/about#team">Team</a>
  <a href="https://external.org/">Elsewhere</a>
  <a href="mailto:hi@example.com">Mail</a>
  <a>No href</a>
  <img src="/img/logo.svg">
  <img src="/img/logo.svg">
  <div style="background-image: url(/img/hero.jpg)"></div>
</body>
</html>`

func TestExtract(t *testing.T) {
	t.Parallel()

	got := NewExtractor().Extract([]byte(samplePage), "https://example.com/", NewScope("example.com"))

	require.Equal(t, "Example & Co", got.Title)
	require.Equal(t, "A sample page", got.Description)
	require.Equal(t, []string{"https://example.com/about"}, got.Links)
	require.Equal(t, []string{
		"https://example.com/css/site.css",
		"https://example.com/print.css?v=2",
	}, got.Assets[AssetCSS])
	require.Equal(t, []string{"https://example.com/js/app.js"}, got.Assets[AssetJS])
	require.Equal(t, []string{
		"https://example.com/img/bg.png",
		"https://example.com/img/logo.svg",
		"https://example.com/img/hero.jpg",
	}, got.Assets[AssetImage])
	require.Equal(t, []string{"https://example.com/fonts/inter.woff2"}, got.Assets[AssetFont])
	require.Equal(t, []string{"https://example.com/misc/pattern.dat"}, got.Assets[AssetOther])
	require.Equal(t, 8, got.AssetCount())
}

func TestExtractNilScopeKeepsExternalLinks(t *testing.T) {
	t.Parallel()

	got := NewExtractor().Extract([]byte(samplePage), "https://example.com/", nil)
	require.Equal(t, []string{"https://example.com/about", "https://external.org/"}, got.Links)
}

func TestExtractDegradesOnMalformedInput(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":         "",
		"plain text":    "just some words, no markup",
		"binary":        "\x00\x01\x02\xff\xfe",
		"unclosed tags": `<html><head><title>Broken<a href="/x"`,
		"bad attrs":     `<a href=>x</a><img src=""><link rel=stylesheet>`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got := NewExtractor().Extract([]byte(input), "https://example.com/", NewScope("example.com"))
			require.Empty(t, got.Description)
			require.Empty(t, got.Links)
			require.Zero(t, got.AssetCount())
			for _, assetType := range AssetTypes {
				require.NotNil(t, got.Assets[assetType])
			}
		})
	}
}

func TestExtractTitleFirstNonEmpty(t *testing.T) {
	t.Parallel()

	got := NewExtractor().Extract([]byte(`<title>  </title><title>Later</title><title>Last</title>`), "https://example.com/", nil)
	require.Equal(t, "Later", got.Title)

	got = NewExtractor().Extract([]byte(`<svg><title>Icon</title></svg><p>text</p>`), "https://example.com/", nil)
	require.Equal(t, "Icon", got.Title)
}
