package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel>
  <title>Marketing Weekly</title>
  <item>
    <title>SEO budgets &amp; strategy in 2024</title>
    <link>https://example.test/seo</link>
    <description>&lt;p&gt;Teams are rethinking search.&lt;/p&gt;</description>
    <content:encoded><![CDATA[<p>Intro paragraph without figures here.</p><p>Some 68% of marketers increased their SEO spend this year.</p>]]></content:encoded>
    <pubDate>Tue, 05 Mar 2024 10:00:00 +0000</pubDate>
    <dc:creator>Jane Doe</dc:creator>
  </item>
  <item>
    <title>Email open rates hold steady</title>
    <link>https://example.test/email</link>
    <description>Nothing dramatic this quarter.</description>
    <pubDate>not a date</pubDate>
  </item>
  <item>
    <title></title>
    <link>https://example.test/untitled</link>
  </item>
</channel>
</rss>`

const atomFixture = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom test</title>
  <entry>
    <title>Atom entry one</title>
    <link rel="alternate" href="https://example.test/a1"/>
    <link rel="self" href="https://example.test/a1.xml"/>
    <summary>Atom summary text</summary>
    <updated>2024-03-01T12:00:00Z</updated>
  </entry>
</feed>`

const rdfFixture = `<?xml version="1.0"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#" xmlns="http://purl.org/rss/1.0/">
  <channel rdf:about="https://example.test/">
    <title>RDF feed</title>
    <link>https://example.test/</link>
    <description>rss 1.0</description>
  </channel>
  <item rdf:about="https://example.test/r1">
    <title>RDF item one</title>
    <link>https://example.test/r1</link>
    <description>Parsed by the fallback parser</description>
  </item>
</rdf:RDF>`

func serveBody(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestDispatcher(srv *httptest.Server) *Dispatcher {
	return NewDispatcher(Options{HTTPClient: srv.Client()})
}

func assertInvariants(t *testing.T, cands []Candidate) {
	t.Helper()
	for i, c := range cands {
		if c.Title == "" || c.Source == "" {
			t.Fatalf("candidate %d violates title/source invariant: %+v", i, c)
		}
		if len([]rune(c.BlurbSeed)) > MaxBlurbRunes {
			t.Fatalf("candidate %d blurb too long", i)
		}
		if c.Confidence < 0 || c.Confidence > 1 {
			t.Fatalf("candidate %d confidence out of range", i)
		}
	}
}

func TestFeedAdapter_RSS(t *testing.T) {
	var gotAccept, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(rssFixture))
	}))
	defer srv.Close()

	src := Source{Type: TypeFeed, Name: "Marketing Weekly", URL: srv.URL, Tags: []string{"marketing"}}
	cands, err := newTestDispatcher(srv).Fetch(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(gotAccept, "application/rss+xml") || !strings.Contains(gotUA, "AIStats") {
		t.Fatalf("unexpected headers accept=%q ua=%q", gotAccept, gotUA)
	}
	if len(cands) != 2 {
		t.Fatalf("expected untitled item to be dropped, got %d candidates", len(cands))
	}
	assertInvariants(t, cands)

	first := cands[0]
	if first.Title != "SEO budgets & strategy in 2024" {
		t.Fatalf("unexpected title %q", first.Title)
	}
	if !strings.Contains(first.BlurbSeed, "68%") || first.Confidence != statConfidence {
		t.Fatalf("expected statistic blurb with raised confidence, got %q / %v", first.BlurbSeed, first.Confidence)
	}
	if first.PublishedAt != "2024-03-05T10:00:00Z" {
		t.Fatalf("unexpected published_at %q", first.PublishedAt)
	}
	if first.Metadata["author"] != "Jane Doe" || first.Geo != GeoGlobal || first.Source != "Marketing Weekly" {
		t.Fatalf("unexpected candidate %+v", first)
	}

	second := cands[1]
	if second.Confidence != feedConfidence || second.BlurbSeed != "Nothing dramatic this quarter." {
		t.Fatalf("unexpected second candidate %+v", second)
	}
	if second.PublishedAt != "not a date" {
		t.Fatalf("unparseable date should be kept verbatim, got %q", second.PublishedAt)
	}
}

func TestFeedAdapter_Atom(t *testing.T) {
	srv := serveBody(t, "application/atom+xml", atomFixture)
	cands, err := newTestDispatcher(srv).Fetch(context.Background(), Source{Type: TypeFeed, Name: "Atom", URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].URL != "https://example.test/a1" || cands[0].BlurbSeed != "Atom summary text" {
		t.Fatalf("unexpected atom candidates %+v", cands)
	}
}

func TestFeedAdapter_FallbackParser(t *testing.T) {
	srv := serveBody(t, "application/rdf+xml", rdfFixture)
	cands, err := newTestDispatcher(srv).Fetch(context.Background(), Source{Type: TypeFeed, Name: "RDF", URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].Title != "RDF item one" {
		t.Fatalf("expected fallback parser to read RSS 1.0, got %+v", cands)
	}
}

func TestFeedAdapter_Errors(t *testing.T) {
	t.Run("http 500", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusInternalServerError)
		}))
		defer srv.Close()
		if _, err := newTestDispatcher(srv).Fetch(context.Background(), Source{Type: TypeFeed, Name: "Down", URL: srv.URL}); err == nil {
			t.Fatal("expected error for HTTP 500")
		}
	})

	t.Run("malformed", func(t *testing.T) {
		srv := serveBody(t, "text/plain", "this is not xml at all")
		if _, err := newTestDispatcher(srv).Fetch(context.Background(), Source{Type: TypeFeed, Name: "Bad", URL: srv.URL}); err == nil {
			t.Fatal("expected parse error for malformed feed")
		}
	})

	t.Run("empty channel", func(t *testing.T) {
		srv := serveBody(t, "application/rss+xml", `<rss version="2.0"><channel><title>x</title></channel></rss>`)
		cands, err := newTestDispatcher(srv).Fetch(context.Background(), Source{Type: TypeFeed, Name: "Empty", URL: srv.URL})
		if err != nil || len(cands) != 0 {
			t.Fatalf("expected empty result without error, got %d / %v", len(cands), err)
		}
	})
}
