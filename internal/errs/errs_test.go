package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"pgregory.net/rapid"
)

var allCodes = []Code{
	InvalidArgument,
	NotFound,
	FailedPrecondition,
	PermissionDenied,
	Unauthenticated,
	RateLimited,
	Unavailable,
	Internal,
	ElementNotFound,
	NavigationTimeout,
	AuthenticationTimeout,
	AssertionFailed,
	NoOptionsAvailable,
	Unsupported,
	BaseMismatch,
}

func testCodeOf_RoundtripForTypedErrors(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")

	err := New(code, message)
	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf(New) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(err); got != message {
		t.Fatalf("MessageOf(New) mismatch: got=%q want=%q", got, message)
	}
	if !Is(err, code) {
		t.Fatalf("Is(New, %q) = false", code)
	}
}

func TestCodeOf_RoundtripForTypedErrors(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOf_RoundtripForTypedErrors)
}

func testBrowserContext_SurvivesWrapping(t *rapid.T) {
	code := rapid.SampledFrom([]Code{NavigationTimeout, AuthenticationTimeout, ElementNotFound}).Draw(t, "code")
	url := "http://hub.test/" + rapid.StringMatching(`[a-z0-9/]{0,30}`).Draw(t, "path")
	selector := rapid.StringMatching(`#[a-z][a-z0-9\-]{0,20}`).Draw(t, "selector")

	inner := ForSelector(ElementNotFound, "no match", selector, nil)
	err := fmt.Errorf("scenario: %w", AtURL(code, "operation failed", url, inner))

	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf mismatch: got=%q want=%q", got, code)
	}
	if got := LastURL(err); got != url {
		t.Fatalf("LastURL mismatch: got=%q want=%q", got, url)
	}
	if got := SelectorOf(err); got != selector {
		t.Fatalf("SelectorOf mismatch: got=%q want=%q", got, selector)
	}
	if !Is(err, ElementNotFound) {
		t.Fatalf("Is should find the inner element_not_found code")
	}
}

func TestBrowserContext_SurvivesWrapping(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testBrowserContext_SurvivesWrapping)
}

func testIsSkip_OnlyForMissingOptions(t *rapid.T) {
	code := rapid.SampledFrom(allCodes).Draw(t, "code")
	err := fmt.Errorf("outer: %w", New(code, "x"))
	if got, want := IsSkip(err), code == NoOptionsAvailable; got != want {
		t.Fatalf("IsSkip(%q) = %v, want %v", code, got, want)
	}
}

func TestIsSkip_OnlyForMissingOptions(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testIsSkip_OnlyForMissingOptions)
}

func testUntypedAndNilFallbacks(t *rapid.T) {
	raw := rapid.StringMatching(`[a-zA-Z0-9 _:\-./]{1,80}`).Draw(t, "raw")
	untyped := errors.New(raw)

	if got := CodeOf(untyped); got != Internal {
		t.Fatalf("CodeOf(untyped) mismatch: got=%q want=%q", got, Internal)
	}
	if got := MessageOf(untyped); got != "internal error" {
		t.Fatalf("MessageOf(untyped) mismatch: got=%q want=%q", got, "internal error")
	}
	if got := LastURL(untyped); got != "" {
		t.Fatalf("LastURL(untyped) = %q, want empty", got)
	}
	if IsSkip(untyped) || IsSkip(nil) {
		t.Fatalf("IsSkip must be false for untyped and nil errors")
	}
	if got := CodeOf(nil); got != Internal {
		t.Fatalf("CodeOf(nil) mismatch: got=%q want=%q", got, Internal)
	}
	if got := MessageOf(nil); got != string(Internal) {
		t.Fatalf("MessageOf(nil) mismatch: got=%q want=%q", got, Internal)
	}
}

func TestUntypedAndNilFallbacks(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testUntypedAndNilFallbacks)
}

func testHTTPStatus_Mapping(t *rapid.T) {
	cases := map[Code]int{
		InvalidArgument:    http.StatusBadRequest,
		Unauthenticated:    http.StatusUnauthorized,
		PermissionDenied:   http.StatusForbidden,
		NotFound:           http.StatusNotFound,
		FailedPrecondition: http.StatusConflict,
		RateLimited:        http.StatusTooManyRequests,
		Unavailable:        http.StatusServiceUnavailable,
	}

	code := rapid.SampledFrom(append(allCodes, Code("unknown_code"))).Draw(t, "code")

	want := http.StatusInternalServerError
	if mapped, ok := cases[code]; ok {
		want = mapped
	}
	if got := HTTPStatus(code); got != want {
		t.Fatalf("HTTPStatus mismatch: code=%q got=%d want=%d", code, got, want)
	}
}

func TestHTTPStatus_Mapping(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testHTTPStatus_Mapping)
}
