package parser

import (
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/V4T54L/logrelay/internal/domain"
	"github.com/V4T54L/logrelay/internal/pkg/options"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestParser builds a registered parser with a fixed clock.
func newTestParser(t *testing.T, name string, opts options.Options) domain.Parser {
	t.Helper()
	p, err := NewRegistry().New(name, opts, testLogger())
	if err != nil {
		t.Fatalf("failed to create %s parser: %v", name, err)
	}
	now := func() time.Time { return fixedNow }
	switch v := p.(type) {
	case *Plain:
		v.now = now
	case *Bracketed:
		v.now = now
	case *Tomcat:
		v.now = now
	case *Apache:
		v.now = now
	case *Rails:
		v.now = now
	}
	return p
}

func feedAll(p domain.Parser, chunks ...string) []domain.Entry {
	var out []domain.Entry
	for _, c := range chunks {
		out = append(out, p.Feed([]byte(c))...)
	}
	return out
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	t.Run("unknown parser", func(t *testing.T) {
		_, err := r.New("nope", options.Options{}, testLogger())
		if !errors.Is(err, ErrUnknownParser) {
			t.Errorf("expected ErrUnknownParser, got %v", err)
		}
	})

	t.Run("name is case insensitive", func(t *testing.T) {
		if _, err := r.New("Tomcat", options.Options{}, testLogger()); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("unknown option", func(t *testing.T) {
		_, err := r.New("bracketed", options.Options{"colour": "red"}, testLogger())
		if err == nil {
			t.Error("expected error for unknown option")
		}
	})

	t.Run("invalid int option", func(t *testing.T) {
		_, err := r.New("bracketed", options.Options{"field_level": "two"}, testLogger())
		if err == nil {
			t.Error("expected error for invalid field index")
		}
	})

	t.Run("names", func(t *testing.T) {
		want := []string{"apache", "bracketed", "glassfish", "plain", "rails", "tomcat"}
		if got := r.Names(); !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})
}

func TestPlain(t *testing.T) {
	p := newTestParser(t, "plain", nil)
	entries := feedAll(p, "2020-01-01 hello\n")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Text != "2020-01-01 hello" {
		t.Errorf("unexpected text %q", entries[0].Text)
	}
	if entries[0].Type() != domain.EntryPlain {
		t.Errorf("expected plain entry, got %v", entries[0].Type())
	}

	t.Run("partial line is held", func(t *testing.T) {
		p := newTestParser(t, "plain", nil)
		if got := p.Feed([]byte("no newline yet")); len(got) != 0 {
			t.Fatalf("expected no entries, got %d", len(got))
		}
		got := p.Feed([]byte("\r\nnext\n"))
		if len(got) != 2 || got[0].Text != "no newline yet" || got[1].Text != "next" {
			t.Errorf("unexpected entries %+v", got)
		}
	})
}

// Every split point of the input must yield the same entries as a single feed.
func TestChunkBoundaryIndependence(t *testing.T) {
	inputs := map[string]string{
		"plain": "first line\nsecond line\r\n\nthird\n",
		"bracketed": "[2020-01-01T00:00:00|INFO|x|msg|extra]\n" +
			"noise between records\n" +
			"[2020-01-02T10:11:12.500+0200|ERROR|x|failed\n" +
			"  at a.b.c\n" +
			"  at d.e.f|trace]\n" +
			"[2020-01-03T00:00:00|WARNING|x|tail|]\n",
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			want := feedAll(newTestParser(t, name, nil), input)
			if len(want) == 0 {
				t.Fatal("expected entries from single feed")
			}
			for i := 1; i < len(input); i++ {
				got := feedAll(newTestParser(t, name, nil), input[:i], input[i:])
				if !reflect.DeepEqual(got, want) {
					t.Fatalf("split at %d: expected %+v, got %+v", i, want, got)
				}
			}
			// Byte at a time.
			p := newTestParser(t, name, nil)
			var got []domain.Entry
			for i := 0; i < len(input); i++ {
				got = append(got, p.Feed([]byte{input[i]})...)
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("byte feed: expected %+v, got %+v", want, got)
			}
		})
	}
}

func TestBracketed(t *testing.T) {
	t.Run("record split mid line", func(t *testing.T) {
		p := newTestParser(t, "bracketed", nil)
		if got := p.Feed([]byte("[2020-01-01T00:00:00|IN")); len(got) != 0 {
			t.Fatalf("expected no entries after first chunk, got %d", len(got))
		}
		got := p.Feed([]byte("FO|x|msg|extra]\n"))
		if len(got) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(got))
		}
		e := got[0]
		if e.Level != domain.LevelInfo {
			t.Errorf("expected INFO, got %v", e.Level)
		}
		if e.Text != "msg" || e.ExtraText != "extra" {
			t.Errorf("unexpected text %q / extra %q", e.Text, e.ExtraText)
		}
		if !e.Timestamp.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("unexpected timestamp %v", e.Timestamp)
		}
		if f, ok := e.Fields.(domain.AppserverFields); !ok || f.Level != "INFO" {
			t.Errorf("unexpected fields %+v", e.Fields)
		}
	})

	t.Run("multi line record", func(t *testing.T) {
		p := newTestParser(t, "bracketed", nil)
		got := feedAll(p, "[2020-01-01T00:00:00|SEVERE|x|boom\n", "  at line one\n", "  at line two|trace]\n")
		if len(got) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(got))
		}
		if got[0].Level != domain.LevelError {
			t.Errorf("expected ERROR, got %v", got[0].Level)
		}
		if got[0].Text != "boom\n  at line one\n  at line two" {
			t.Errorf("unexpected text %q", got[0].Text)
		}
	})

	t.Run("bad timestamp falls back to now", func(t *testing.T) {
		p := newTestParser(t, "bracketed", nil)
		got := feedAll(p, "[yesterday|INFO|x|msg|]\n")
		if len(got) != 1 || !got[0].Timestamp.Equal(fixedNow) {
			t.Errorf("expected fallback timestamp, got %+v", got)
		}
	})

	t.Run("too few fields skips record", func(t *testing.T) {
		p := newTestParser(t, "bracketed", nil)
		got := feedAll(p, "[2020-01-01T00:00:00|INFO]\n", "[2020-01-01T00:00:00|INFO|x|ok|]\n")
		if len(got) != 1 || got[0].Text != "ok" {
			t.Errorf("expected only the valid record, got %+v", got)
		}
	})

	t.Run("unterminated record is discarded after max_lines", func(t *testing.T) {
		p := newTestParser(t, "bracketed", options.Options{"max_lines": "3"})
		got := feedAll(p, "[2020-01-01T00:00:00|INFO|x|never closed\n", "a\n", "b\n", "c\n",
			"[2020-01-01T00:00:00|INFO|x|recovered|]\n")
		if len(got) != 1 || got[0].Text != "recovered" {
			t.Errorf("expected parser to resynchronise, got %+v", got)
		}
	})

	t.Run("new record replaces unterminated one", func(t *testing.T) {
		p := newTestParser(t, "bracketed", nil)
		got := feedAll(p, "[2020-01-01T00:00:00|INFO|x|broken\n",
			"[2020-01-01T00:00:01|ERROR|y|good|trace]\n")
		if len(got) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(got))
		}
		if got[0].Level != domain.LevelError || got[0].Text != "good" || got[0].ExtraText != "trace" {
			t.Errorf("unexpected entry %+v", got[0])
		}
	})

	t.Run("bracketed continuation without timestamp stays in record", func(t *testing.T) {
		p := newTestParser(t, "bracketed", nil)
		got := feedAll(p, "[2020-01-01T00:00:00|INFO|x|start\n", "[worker-1] still going|]\n")
		if len(got) != 1 || got[0].Text != "start\n[worker-1] still going" {
			t.Errorf("expected a single merged record, got %+v", got)
		}
	})

	t.Run("custom delimiter and indexes", func(t *testing.T) {
		p := newTestParser(t, "bracketed", options.Options{
			"delimiter": ";", "field_time": "1", "field_level": "0", "field_text": "2", "field_extra": "-1",
		})
		got := feedAll(p, "[WARN;2021-06-01 08:00:00;hello]\n")
		if len(got) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(got))
		}
		if got[0].Level != domain.LevelWarning || got[0].Text != "hello" || got[0].ExtraText != "" {
			t.Errorf("unexpected entry %+v", got[0])
		}
	})
}

func TestGlassfish(t *testing.T) {
	p := newTestParser(t, "glassfish", nil)
	got := feedAll(p,
		"[#|2009-05-15T00:00:00.609+0200|WARNING|glassfish|javax.enterprise|_ThreadID=10;|Deployment failed\n",
		"java.lang.Exception: nope|#]\n",
	)
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	e := got[0]
	if e.Level != domain.LevelWarning {
		t.Errorf("expected WARNING, got %v", e.Level)
	}
	if e.Text != "Deployment failed\njava.lang.Exception: nope" {
		t.Errorf("unexpected text %q", e.Text)
	}
	if !e.Timestamp.Equal(time.Date(2009, 5, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected timestamp %v", e.Timestamp)
	}
}

func TestGlassfish_ResynchronisesOnNewRecord(t *testing.T) {
	p := newTestParser(t, "glassfish", nil)
	got := feedAll(p,
		"[#|2009-05-15T00:00:00.609+0200|INFO|glassfish|core|_ThreadID=1;|cut off\n",
		"[#|2009-05-15T00:00:01.000+0200|SEVERE|glassfish|core|_ThreadID=2;|complete|#]\n",
	)
	if len(got) != 1 || got[0].Level != domain.LevelError || got[0].Text != "complete" {
		t.Errorf("expected only the complete record, got %+v", got)
	}
}

func TestTomcat(t *testing.T) {
	t.Run("records close one line late", func(t *testing.T) {
		p := newTestParser(t, "tomcat", nil)
		got := feedAll(p,
			"startup noise\n",
			"INFO: Server startup in 120 ms\n",
			"SEVERE: Exception processing request\n",
			"java.lang.NullPointerException\n",
			"\tat com.example.Foo.bar(Foo.java:10)\n",
		)
		if len(got) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(got))
		}
		if got[0].Text != "INFO: Server startup in 120 ms" || got[0].Level != domain.LevelInfo {
			t.Errorf("unexpected first entry %+v", got[0])
		}

		got = p.Feed([]byte("DEBUG: next\n"))
		if len(got) != 1 {
			t.Fatalf("expected held record to be emitted, got %d", len(got))
		}
		e := got[0]
		if e.Level != domain.LevelError {
			t.Errorf("expected ERROR, got %v", e.Level)
		}
		if e.Text != "SEVERE: Exception processing request" {
			t.Errorf("unexpected text %q", e.Text)
		}
		if e.ExtraText != "java.lang.NullPointerException\n\tat com.example.Foo.bar(Foo.java:10)" {
			t.Errorf("unexpected extra %q", e.ExtraText)
		}
		if e.Type() != domain.EntryAppserver {
			t.Errorf("expected appserver entry, got %v", e.Type())
		}
	})

	t.Run("time format", func(t *testing.T) {
		p := newTestParser(t, "tomcat", options.Options{"time_format": "2006-01-02 15:04:05"})
		got := feedAll(p, "2010-02-03 04:05:06,789 WARN [main] careful\n", "2010-02-03 04:05:07,000 INFO [main] next\n")
		if len(got) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(got))
		}
		if !got[0].Timestamp.Equal(time.Date(2010, 2, 3, 4, 5, 6, 0, time.UTC)) {
			t.Errorf("unexpected timestamp %v", got[0].Timestamp)
		}
		if got[0].Level != domain.LevelWarning {
			t.Errorf("expected WARNING, got %v", got[0].Level)
		}
	})
}

func TestApache(t *testing.T) {
	p := newTestParser(t, "apache", nil)

	tests := []struct {
		name  string
		line  string
		want  domain.RequestFields
		level domain.Level
		text  string
		stamp time.Time
	}{
		{
			name:  "access ok",
			line:  `10.0.0.1 - - [10/Oct/2000:13:55:36 -0700] "GET /index.html HTTP/1.0" 200 2326 "-" "Mozilla/5.0"`,
			want:  domain.RequestFields{IP: "10.0.0.1", Method: "GET", UserAgent: "Mozilla/5.0", Size: 2326, Status: 200, URI: "/index.html"},
			level: domain.LevelInfo,
			text:  "/index.html",
			stamp: time.Date(2000, 10, 10, 20, 55, 36, 0, time.UTC),
		},
		{
			name:  "access not found with dash size",
			line:  `10.0.0.2 - - [10/Oct/2000:13:55:36 -0700] "GET /missing HTTP/1.1" 404 - "http://ref" "curl/8"`,
			want:  domain.RequestFields{IP: "10.0.0.2", Method: "GET", UserAgent: "curl/8", Size: 0, Status: 404, URI: "/missing"},
			level: domain.LevelWarning,
			text:  "/missing",
			stamp: time.Date(2000, 10, 10, 20, 55, 36, 0, time.UTC),
		},
		{
			name:  "access server error",
			line:  `10.0.0.3 - - [10/Oct/2000:13:55:36 -0700] "POST /api HTTP/1.1" 500 12 "-" "curl/8"`,
			want:  domain.RequestFields{IP: "10.0.0.3", Method: "POST", UserAgent: "curl/8", Size: 12, Status: 500, URI: "/api"},
			level: domain.LevelError,
			text:  "/api",
			stamp: time.Date(2000, 10, 10, 20, 55, 36, 0, time.UTC),
		},
		{
			name:  "error file does not exist",
			line:  `[Wed Oct 11 14:32:52 2000] [error] [client 127.0.0.1] File does not exist: /var/www/favicon.ico`,
			want:  domain.RequestFields{IP: "127.0.0.1", UserAgent: UserAgentUnknown, Status: 404},
			level: domain.LevelWarning,
			text:  "File does not exist: /var/www/favicon.ico",
			stamp: time.Date(2000, 10, 11, 14, 32, 52, 0, time.UTC),
		},
		{
			name:  "error other",
			line:  `[Wed Oct 11 14:32:52 2000] [error] [client 127.0.0.1] script crashed`,
			want:  domain.RequestFields{IP: "127.0.0.1", UserAgent: UserAgentUnknown, Status: 503},
			level: domain.LevelError,
			text:  "script crashed",
			stamp: time.Date(2000, 10, 11, 14, 32, 52, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Feed([]byte(tt.line + "\n"))
			if len(got) != 1 {
				t.Fatalf("expected 1 entry, got %d", len(got))
			}
			e := got[0]
			if !reflect.DeepEqual(e.Fields, tt.want) {
				t.Errorf("expected fields %+v, got %+v", tt.want, e.Fields)
			}
			if e.Level != tt.level {
				t.Errorf("expected level %v, got %v", tt.level, e.Level)
			}
			if e.Text != tt.text {
				t.Errorf("expected text %q, got %q", tt.text, e.Text)
			}
			if !e.Timestamp.Equal(tt.stamp) {
				t.Errorf("expected timestamp %v, got %v", tt.stamp, e.Timestamp)
			}
		})
	}

	t.Run("garbage is skipped", func(t *testing.T) {
		got := p.Feed([]byte("not a log line\n"))
		if len(got) != 0 {
			t.Errorf("expected no entries, got %+v", got)
		}
	})

	t.Run("custom status table", func(t *testing.T) {
		p := newTestParser(t, "apache", options.Options{"http_ok": "200,304", "http_warning": "302"})
		got := p.Feed([]byte(`1.2.3.4 - - [10/Oct/2000:13:55:36 -0700] "GET / HTTP/1.0" 302 0 "-" "ua"` + "\n"))
		if len(got) != 1 || got[0].Level != domain.LevelWarning {
			t.Errorf("expected WARNING for 302, got %+v", got)
		}
	})
}

func TestRails(t *testing.T) {
	t.Run("completed request", func(t *testing.T) {
		p := newTestParser(t, "rails", nil)
		got := feedAll(p,
			"\n",
			"\n",
			"Processing UsersController#index (for 127.0.0.1 at 2009-05-15 10:00:00) [GET]\n",
			"  Parameters: {\"action\"=>\"index\"}\n",
			"Rendering users/index\n",
			"Completed in 102ms (View: 15, DB: 52) | 200 OK [http://example.com/users]\n",
		)
		if len(got) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(got))
		}
		e := got[0]
		want := domain.RequestFields{
			IP: "127.0.0.1", Method: "GET", UserAgent: UserAgentUnknown,
			Status: 200, MsTime: 102, URI: "http://example.com/users",
		}
		if !reflect.DeepEqual(e.Fields, want) {
			t.Errorf("expected %+v, got %+v", want, e.Fields)
		}
		if e.Level != domain.LevelInfo {
			t.Errorf("expected INFO, got %v", e.Level)
		}
		if !e.Timestamp.Equal(time.Date(2009, 5, 15, 10, 0, 0, 0, time.UTC)) {
			t.Errorf("unexpected timestamp %v", e.Timestamp)
		}
	})

	t.Run("blank line before completion", func(t *testing.T) {
		p := newTestParser(t, "rails", nil)
		got := feedAll(p,
			"Processing UsersController#index (for 127.0.0.1 at 2009-05-15 10:00:00) [GET]\n",
			"  Parameters: {\"action\"=>\"index\"}\n",
			"\n",
			"Completed in 12ms (View: 5, DB: 2) | 200 OK [http://example.com/users]\n",
		)
		if len(got) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(got))
		}
		f, ok := got[0].Fields.(domain.RequestFields)
		if !ok || f.Status != 200 || f.MsTime != 12 || got[0].Level != domain.LevelInfo {
			t.Errorf("expected a completed request, got %+v", got[0])
		}
	})

	t.Run("traceback ended by rendering", func(t *testing.T) {
		p := newTestParser(t, "rails", nil)
		got := feedAll(p,
			"Processing UsersController#show (for 10.1.1.1 at 2009-05-15 10:00:01) [GET]\n",
			"  Parameters: {\"id\"=>\"7\"}\n",
			"\n",
			"NoMethodError (undefined method `name' for nil):\n",
			"    /app/controllers/users_controller.rb:10:in `show'\n",
			"\n",
			"Rendering rescues/layout (internal_server_error)\n",
		)
		if len(got) != 1 {
			t.Fatalf("expected 1 entry, got %d", len(got))
		}
		e := got[0]
		f := e.Fields.(domain.RequestFields)
		if f.Status != 500 || f.URI != URIError || e.Level != domain.LevelError {
			t.Errorf("expected error request, got %+v level %v", f, e.Level)
		}
		want := "NoMethodError (undefined method `name' for nil):\n    /app/controllers/users_controller.rb:10:in `show'"
		if e.ExtraText != want {
			t.Errorf("expected traceback %q, got %q", want, e.ExtraText)
		}
	})

	t.Run("interrupted request is emitted as aborted", func(t *testing.T) {
		p := newTestParser(t, "rails", nil)
		got := feedAll(p,
			"Processing A#one (for 1.1.1.1 at 2009-05-15 10:00:00) [POST]\n",
			"  Parameters: {}\n",
			"Processing A#two (for 2.2.2.2 at 2009-05-15 10:00:05) [GET]\n",
			"Completed in 5ms (View: 1) | 302 Found [http://example.com/two]\n",
		)
		if len(got) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(got))
		}
		aborted := got[0].Fields.(domain.RequestFields)
		if aborted.IP != "1.1.1.1" || aborted.Status != 500 || aborted.URI != URIError || got[0].Level != domain.LevelError {
			t.Errorf("unexpected aborted entry %+v", got[0])
		}
		done := got[1].Fields.(domain.RequestFields)
		if done.IP != "2.2.2.2" || done.Status != 302 || done.MsTime != 5 || got[1].Level != domain.LevelInfo {
			t.Errorf("unexpected completed entry %+v", got[1])
		}
	})

	t.Run("unparsable start line is dropped", func(t *testing.T) {
		p := newTestParser(t, "rails", nil)
		got := feedAll(p,
			"Processing without details\n",
			"Completed in 5ms (View: 1) | 200 OK [http://example.com/]\n",
		)
		if len(got) != 0 {
			t.Errorf("expected no entries, got %+v", got)
		}
	})
}
