package config

import "testing"

func TestRewriter_StripsLeadingAPI(t *testing.T) {
	rw, err := NewRewriter(Default().Proxy[0].PathRewrite)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		in, want string
	}{
		{"/api/zlibrary/s/golang", "/zlibrary/s/golang"},
		{"/api/zlibrary/book/42", "/zlibrary/book/42"},
		{"/api", ""},
		{"/api/", "/"},
		{"/api/api/x", "/api/x"},
		{"/apix", "x"},
		{"/v1/api/x", "/v1/api/x"},
		{"/", "/"},
	}
	for _, tc := range tests {
		if got := rw.Apply(tc.in); got != tc.want {
			t.Errorf("Apply(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRewriter_OrderedAndExpanding(t *testing.T) {
	rw, err := NewRewriter(RewriteRules{
		{Pattern: "^/api/v(\\d+)", Replacement: "/version-$1"},
		{Pattern: "^/version-1", Replacement: "/legacy"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := rw.Apply("/api/v1/users"); got != "/legacy/users" {
		t.Errorf("got %q, want /legacy/users", got)
	}
	if got := rw.Apply("/api/v2/users"); got != "/version-2/users" {
		t.Errorf("got %q, want /version-2/users", got)
	}
}

func TestRewriter_NilIsIdentity(t *testing.T) {
	var rw *Rewriter
	if got := rw.Apply("/api/x"); got != "/api/x" {
		t.Errorf("nil rewriter changed path to %q", got)
	}
	if rw.Len() != 0 {
		t.Errorf("nil rewriter Len = %d", rw.Len())
	}
}

func TestNewRewriter_InvalidPattern(t *testing.T) {
	if _, err := NewRewriter(RewriteRules{{Pattern: "[", Replacement: ""}}); err == nil {
		t.Error("expected compile error")
	}
}
