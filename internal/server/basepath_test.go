package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func pathEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path))
	})
}

func TestPublicPathHandler_RootIsPassthrough(t *testing.T) {
	inner := pathEcho()
	for _, pp := range []string{"", "/"} {
		h := NewPublicPathHandler(pp, inner)
		if _, wrapped := h.(*PublicPathHandler); wrapped {
			t.Errorf("publicPath %q: expected inner handler returned directly", pp)
		}
	}
}

func TestPublicPathHandler_StripsPrefix(t *testing.T) {
	h := NewPublicPathHandler("/books", pathEcho())

	tests := []struct {
		path string
		want string
	}{
		{"/books/", "/"},
		{"/books", "/"},
		{"/books/js/app.js", "/js/app.js"},
		{"/books/search/golang", "/search/golang"},
	}
	for _, tc := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != tc.want {
			t.Errorf("%s: got %d %q, want 200 %q", tc.path, rec.Code, rec.Body.String(), tc.want)
		}
	}
}

func TestPublicPathHandler_RootRedirects(t *testing.T) {
	h := NewPublicPathHandler("books", pathEcho())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/books/" {
		t.Errorf("Location = %q, want /books/", loc)
	}
}

func TestPublicPathHandler_OutsideIs404(t *testing.T) {
	h := NewPublicPathHandler("/books/", pathEcho())
	for _, p := range []string{"/other", "/bookstore/x"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", p, rec.Code)
		}
	}
}

func TestSwappableHandler(t *testing.T) {
	s := NewSwappableHandler(NewPublicPathHandler("/", pathEcho()))
	if rec := get(s, "/x"); rec.Body.String() != "/x" {
		t.Errorf("before swap: %q", rec.Body.String())
	}
	s.Swap(NewPublicPathHandler("/books/", pathEcho()))
	if rec := get(s, "/books/x"); rec.Body.String() != "/x" {
		t.Errorf("after swap: %q", rec.Body.String())
	}
}
