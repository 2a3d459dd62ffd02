package pagination

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	domain "github.com/shopforge/engine/internal/domain"
)

func TestParsePageSize(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		opts  Options
		want  int
		error error
	}{
		{name: "default", want: DefaultPageSize},
		{name: "explicit", raw: "35", want: 35},
		{name: "clamped to max", raw: "1000", want: DefaultMaxPageSize},
		{name: "custom max", raw: "60", opts: Options{MaxPageSize: 50}, want: 50},
		{name: "custom default", opts: Options{DefaultPageSize: 5}, want: 5},
		{name: "zero", raw: "0", error: ErrInvalidPageSize},
		{name: "negative", raw: "-3", error: ErrInvalidPageSize},
		{name: "not a number", raw: "ten", error: ErrInvalidPageSize},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			values := url.Values{}
			if tc.raw != "" {
				values.Set("pageSize", tc.raw)
			}
			params, err := Parse(values, tc.opts)
			if tc.error != nil {
				if !errors.Is(err, tc.error) {
					t.Fatalf("expected %v got %v", tc.error, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if params.PageSize != tc.want {
				t.Fatalf("expected page size %d got %d", tc.want, params.PageSize)
			}
		})
	}
}

func TestParseRunLogPageToken(t *testing.T) {
	at := time.Date(2026, time.January, 4, 8, 0, 0, 0, time.UTC)
	token, err := RunLogToken(at, "run-9")
	if err != nil {
		t.Fatalf("RunLogToken: %v", err)
	}
	params, err := Parse(url.Values{"pageToken": {token}}, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageToken != token || len(params.Cursor.StartAfter) != 2 {
		t.Fatalf("unexpected params %+v", params)
	}
	if id, _ := params.Cursor.StartAfter[1].(string); id != "run-9" {
		t.Fatalf("expected run id in cursor, got %#v", params.Cursor.StartAfter)
	}

	if _, err := Parse(url.Values{"pageToken": {"!!!invalid!!!"}}, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken got %v", err)
	}
}

func TestFromRequest(t *testing.T) {
	token, _ := OffsetToken(20)
	req, err := http.NewRequest(http.MethodGet, "/?pageSize=35&pageToken="+token, nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}

	params, err := FromRequest(req, Options{})
	if err != nil {
		t.Fatalf("FromRequest returned error: %v", err)
	}
	want := domain.Pagination{PageSize: 35, PageToken: token}
	if got := params.Pagination(); got != want {
		t.Fatalf("expected %#v got %#v", want, got)
	}
}
