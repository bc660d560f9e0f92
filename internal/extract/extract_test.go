package extract

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"weibo_feed/internal/httpclient"
	"weibo_feed/internal/model"
)

func loadFixture(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test-only fixture loading
	if err != nil {
		t.Fatalf("read fixture %s: %v", path, err)
	}
	return string(data)
}

var article = model.ArticleListing{
	URL:       "https://www.weibo.com/ttarticle/p/show?id=2309404990000000000003",
	Title:     "每日安全动态推送(01-03)",
	Published: time.Date(2024, time.January, 3, 10, 5, 0, 0, model.CST),
}

func TestParseItem(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		want        Item
		wantOutcome Outcome
		wantErr     bool
	}{
		{
			name: "title and one bullet",
			raw: "<p align=\"justify\">T1:<a href=\"L1\"><br>x</a></p>\n" +
				"<p align=\"justify\">・\u00a0C1\u00a0–\u00a0<a href=\"https://sec.today/user/abc/pushes/\">y</a></p>",
			want:        Item{Title: "T1", Link: "L1", Content: "C1"},
			wantOutcome: Parsed,
		},
		{
			name: "bullets joined and unescaped",
			raw: "<p align=\"justify\">A &amp; B:<a href=\"https://x/a\"><br>x</a></p>\n" +
				"<p align=\"justify\">・\u00a0one &lt;1&gt;\u00a0–\u00a0<a href=\"https://sec.today/user/0-f/pushes/\">y</a></p>\n" +
				"<p align=\"justify\">・\u00a0two\u00a0–\u00a0<a href=\"https://sec.today/user/0-f/pushes/\">y</a></p>",
			want:        Item{Title: "A & B", Link: "https://x/a", Content: "one <1><br>two"},
			wantOutcome: Parsed,
		},
		{
			name:        "italic markup stripped from title",
			raw:         "<p align=\"justify\">Fuzzing <i>Chrome</i>:<a href=\"L\"><br>x</a></p>",
			want:        Item{Title: "Fuzzing Chrome", Link: "L"},
			wantOutcome: Parsed,
		},
		{
			name:        "escaped italic markup stripped after unescape",
			raw:         "<p align=\"justify\">&lt;i&gt;V8&lt;/i&gt; bug:<a href=\"L\"><br>x</a></p>",
			want:        Item{Title: "V8 bug", Link: "L"},
			wantOutcome: Parsed,
		},
		{
			name:        "footer skipped",
			raw:         "<p align=\"justify\">* 查看或搜索历史推送内容请访问:<a href=\"https://sec.today/\"><br>x</a></p>\nnot even a bullet",
			wantOutcome: Skipped,
		},
		{
			name:    "bad title line",
			raw:     "<p>no title here</p>",
			wantErr: true,
		},
		{
			name: "bad bullet line",
			raw: "<p align=\"justify\">T1:<a href=\"L1\"><br>x</a></p>\n" +
				"<p align=\"justify\">・\u00a0C1\u00a0-\u00a0<a href=\"https://sec.today/user/abc/pushes/\">y</a></p>",
			wantErr: true,
		},
		{
			name: "bullet from unknown user link",
			raw: "<p align=\"justify\">T1:<a href=\"L1\"><br>x</a></p>\n" +
				"<p align=\"justify\">・\u00a0C1\u00a0–\u00a0<a href=\"https://sec.today/user/XYZ/pushes/\">y</a></p>",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, outcome, err := ParseItem(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrItemShape) {
					t.Fatalf("expected ErrItemShape, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantOutcome, outcome); diff != "" {
				t.Errorf("outcome mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("item mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFragment(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{
			name: "both markers",
			body: "<html>" + FragmentStart + "\n  <p>a</p>\n" + FragmentEnd + "</div>",
			want: "<p>a</p>",
		},
		{
			name:    "missing opening marker",
			body:    "<html><p>a</p>" + FragmentEnd,
			wantErr: true,
		},
		{
			name:    "missing closing marker",
			body:    FragmentStart + "<p>a</p></div>",
			wantErr: true,
		},
		{
			name:    "closing marker before opening",
			body:    FragmentEnd + FragmentStart + "<p>a</p>",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Fragment(tt.body)
			if tt.wantErr {
				if !errors.Is(err, ErrNoFragment) {
					t.Fatalf("expected ErrNoFragment, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("fragment mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEntries(t *testing.T) {
	body := loadFixture(t, "testdata/article.html")

	got, err := Entries(body, article)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []model.FeedEntry{
		{
			ID:      article.URL + "#0",
			Updated: article.Published,
			Title:   "Linux 内核 io_uring 提权漏洞分析",
			Link:    "https://example.com/io-uring",
			Content: "分析 io_uring 中的 UAF 漏洞 & 利用<br>附带 PoC 代码",
		},
		{
			ID:      article.URL + "#1",
			Updated: article.Published,
			Title:   "Fuzzing Chrome IPC",
			Link:    "https://example.com/ipc",
			Content: "Mojo 接口模糊测试",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestEntryIDsDoNotCollideAcrossArticles(t *testing.T) {
	body := loadFixture(t, "testdata/article.html")
	other := article
	other.URL = "https://www.weibo.com/ttarticle/p/show?id=2309404990000000000002"

	a, err := Entries(body, article)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	b, err := Entries(body, other)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}

	seen := map[string]bool{}
	for _, e := range append(a, b...) {
		if seen[e.ID] {
			t.Errorf("duplicate entry id %q", e.ID)
		}
		seen[e.ID] = true
	}
	if diff := cmp.Diff(4, len(seen)); diff != "" {
		t.Errorf("unique id count mismatch (-want +got):\n%s", diff)
	}
}

func TestEntriesShapeErrorIsFatal(t *testing.T) {
	body := FragmentStart + "<p align=\"justify\">T:<a href=\"L\"><br>x</a></p>" + ItemSeparator + "<p>broken</p>" + FragmentEnd

	_, err := Entries(body, article)
	if !errors.Is(err, ErrItemShape) {
		t.Fatalf("expected ErrItemShape, got %v", err)
	}
}

type stubHTTP struct {
	bodies map[string]string
}

func (s *stubHTTP) Get(_ context.Context, rawURL string, _ ...httpclient.Option) (*httpclient.Response, error) {
	body, ok := s.bodies[rawURL]
	if !ok {
		return nil, httpclient.ErrNoResponse
	}
	return &httpclient.Response{StatusCode: 200, Body: []byte(body)}, nil
}

func TestExtractorExtract(t *testing.T) {
	stub := &stubHTTP{bodies: map[string]string{article.URL: loadFixture(t, "testdata/article.html")}}
	e := New(stub, slog.New(slog.NewTextHandler(io.Discard, nil)))

	got, err := e.Extract(context.Background(), article)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(2, len(got)); diff != "" {
		t.Errorf("entry count mismatch (-want +got):\n%s", diff)
	}

	missing := article
	missing.URL = "https://www.weibo.com/ttarticle/p/show?id=0"
	if _, err := e.Extract(context.Background(), missing); !errors.Is(err, httpclient.ErrNoResponse) {
		t.Fatalf("expected ErrNoResponse, got %v", err)
	}
}
