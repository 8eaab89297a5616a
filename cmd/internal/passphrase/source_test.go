package passphrase

import (
	"errors"
	"strings"
	"testing"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("MINTGATE_TEST_PASSPHRASE", "hunter2")
	s := NewSource("MINTGATE_TEST_PASSPHRASE")
	s.prompt = func() (string, error) {
		t.Fatalf("prompted despite environment value")
		return "", nil
	}
	got, err := s.Get()
	if err != nil || got != "hunter2" {
		t.Fatalf("Get() = %q, %v", got, err)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	t.Setenv("MINTGATE_TEST_PASSPHRASE", "  ")
	if _, err := NewSource("MINTGATE_TEST_PASSPHRASE").Get(); err == nil {
		t.Fatalf("expected an error for a blank passphrase")
	}
}

func TestSourcePromptsOnceAndCaches(t *testing.T) {
	calls := 0
	s := NewSource("")
	s.prompt = func() (string, error) {
		calls++
		return "from-terminal", nil
	}
	for i := 0; i < 2; i++ {
		got, err := s.Get()
		if err != nil || got != "from-terminal" {
			t.Fatalf("Get() = %q, %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("prompted %d times", calls)
	}
}

func TestSourcePromptErrorNamesVariable(t *testing.T) {
	s := NewSource("MINTGATE_UNSET_PASSPHRASE")
	s.prompt = func() (string, error) { return "", errors.New("no terminal") }
	_, err := s.Get()
	if err == nil || !strings.Contains(err.Error(), "MINTGATE_UNSET_PASSPHRASE") {
		t.Fatalf("unexpected error %v", err)
	}
}
