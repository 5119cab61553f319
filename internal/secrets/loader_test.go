package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadPrefersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(path, []byte("  from-file\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	t.Setenv("BIZ_MATCHER_TEST_KEY", "from-env")

	got, err := Load(Source{Name: "openai api key", File: path, Value: "inline", Env: "BIZ_MATCHER_TEST_KEY"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-file" {
		t.Fatalf("expected file secret, got %q", got)
	}
}

func TestLoadInlineThenEnv(t *testing.T) {
	t.Setenv("BIZ_MATCHER_TEST_KEY", " from-env ")

	got, err := Load(Source{Value: " inline ", Env: "BIZ_MATCHER_TEST_KEY"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "inline" {
		t.Fatalf("expected inline secret, got %q", got)
	}

	got, err = Load(Source{Env: "BIZ_MATCHER_TEST_KEY"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-env" {
		t.Fatalf("expected env secret, got %q", got)
	}
}

func TestLoadErrors(t *testing.T) {
	empty := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(empty, []byte("\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	t.Setenv("BIZ_MATCHER_EMPTY", "")

	cases := []struct {
		name   string
		src    Source
		expect string
	}{
		{name: "missing file", src: Source{Name: "gemini api key", File: filepath.Join(t.TempDir(), "nope")}, expect: "reading gemini api key"},
		{name: "empty file", src: Source{Name: "gemini api key", File: empty}, expect: "is empty"},
		{name: "empty env", src: Source{Name: "openai api key", Env: "BIZ_MATCHER_EMPTY"}, expect: "BIZ_MATCHER_EMPTY is empty"},
		{name: "nothing", src: Source{}, expect: "secret is not configured"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(tc.src)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.expect) {
				t.Fatalf("expected error containing %q, got %v", tc.expect, err)
			}
		})
	}
}
