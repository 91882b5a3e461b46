package signature

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

const testSecret = "my_test_app_secret"

func TestValidate_SHA256(t *testing.T) {
	body := []byte(`{"object":"page","entry":[]}`)
	header := Sign(body, testSecret, SHA256)

	if !strings.HasPrefix(header, "sha256=") {
		t.Fatalf("expected sha256= prefix, got %q", header)
	}
	if err := Validate(body, header, testSecret); err != nil {
		t.Errorf("expected valid signature, got %v", err)
	}
}

func TestValidate_SHA1(t *testing.T) {
	body := []byte(`{"object":"page"}`)
	header := Sign(body, testSecret, SHA1)

	if err := Validate(body, header, testSecret); err != nil {
		t.Errorf("expected valid sha1 signature, got %v", err)
	}
}

func TestValidate_Failures(t *testing.T) {
	body := []byte(`{"object":"page"}`)
	good := Sign(body, testSecret, SHA256)

	tests := []struct {
		name   string
		body   []byte
		header string
		secret string
	}{
		{"empty header", body, "", testSecret},
		{"no separator", body, "sha256", testSecret},
		{"unknown algorithm", body, "md5=" + strings.TrimPrefix(good, "sha256="), testSecret},
		{"non-hex digest", body, "sha256=zzzz", testSecret},
		{"truncated digest", body, good[:len(good)-2], testSecret},
		{"wrong secret", body, good, "other_secret"},
		{"tampered body", []byte(`{"object":"page "}`), good, testSecret},
		{"algorithm mismatch", body, "sha1=" + strings.TrimPrefix(good, "sha256="), testSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.body, tt.header, tt.secret)
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestValidate_EmptySecretFailsClosed(t *testing.T) {
	body := []byte(`{"object":"page"}`)
	// A digest computed with an empty key is still rejected.
	header := Sign(body, "", SHA256)

	if err := Validate(body, header, ""); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for empty secret, got %v", err)
	}
}

func TestValidate_UniformError(t *testing.T) {
	body := []byte("payload")
	a := Validate(body, "", testSecret)
	b := Validate(body, "sha256=00", testSecret)
	if a.Error() != b.Error() {
		t.Errorf("expected identical failure messages, got %q and %q", a, b)
	}
}

func TestFromRequest(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderSHA1, "sha1=aa")
	if got := FromRequest(h); got != "sha1=aa" {
		t.Errorf("expected sha1 fallback, got %q", got)
	}

	h.Set(HeaderSHA256, "sha256=bb")
	if got := FromRequest(h); got != "sha256=bb" {
		t.Errorf("expected sha256 header to win, got %q", got)
	}
}

func TestHeaderFor(t *testing.T) {
	if HeaderFor(SHA1) != "X-Hub-Signature" {
		t.Errorf("unexpected sha1 header: %s", HeaderFor(SHA1))
	}
	if HeaderFor(SHA256) != "X-Hub-Signature-256" {
		t.Errorf("unexpected sha256 header: %s", HeaderFor(SHA256))
	}
}

func TestValidate_SingleByteChanges(t *testing.T) {
	body := []byte(`{"object":"page","entry":[{"id":"123"}]}`)
	header := Sign(body, testSecret, SHA256)

	for i := range body {
		mutated := append([]byte(nil), body...)
		mutated[i] ^= 0x01
		if err := Validate(mutated, header, testSecret); !errors.Is(err, ErrInvalid) {
			t.Fatalf("body byte %d flipped: expected ErrInvalid, got %v", i, err)
		}
	}

	prefix := len("sha256=")
	for i := prefix; i < len(header); i++ {
		mutated := []byte(header)
		if mutated[i] == '0' {
			mutated[i] = '1'
		} else {
			mutated[i] = '0'
		}
		if err := Validate(body, string(mutated), testSecret); !errors.Is(err, ErrInvalid) {
			t.Fatalf("digest byte %d changed: expected ErrInvalid, got %v", i, err)
		}
	}
}
