package env

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func lookup(kvs []string, key string) (string, bool) {
	for _, kv := range kvs {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

func TestMergePrecedence(t *testing.T) {
	t.Setenv("LEGION_TEST_BASE", "os")
	e := New().WithSet("LEGION_TEST_BASE", "global").WithSet("LEGION_TEST_G", "g")
	out := e.Merge([]string{"LEGION_TEST_G=${LEGION_TEST_G}-proc", "=ignored"})

	if v, _ := lookup(out, "LEGION_TEST_BASE"); v != "global" {
		t.Fatalf("global override not applied: %q", v)
	}
	if v, _ := lookup(out, "LEGION_TEST_G"); v != "g-proc" {
		t.Fatalf("per-process expansion = %q, want g-proc", v)
	}
	for _, kv := range out {
		if strings.HasPrefix(kv, "=") {
			t.Fatalf("empty key leaked: %q", kv)
		}
	}
}

func TestDaemonEnvPrependsPath(t *testing.T) {
	t.Setenv("PATH", "/usr/bin:/bin")
	e := New()
	out := e.DaemonEnv("/opt/daemons")
	v, ok := lookup(out, "PATH")
	if !ok || v != "/opt/daemons:/usr/bin:/bin" {
		t.Fatalf("PATH = %q", v)
	}
}

func TestWithSetDoesNotMutate(t *testing.T) {
	base := New()
	_ = base.WithSet("A", "1")
	if _, ok := base.Var["A"]; ok {
		t.Fatal("WithSet must return a copy")
	}
}

func TestBaseCapturedAtNew(t *testing.T) {
	t.Setenv("LEGION_TEST_SNAPSHOT", "before")
	e := New()
	t.Setenv("LEGION_TEST_SNAPSHOT", "after")
	if v, _ := lookup(e.Merge(nil), "LEGION_TEST_SNAPSHOT"); v != "before" {
		t.Fatalf("base = %q, want the environment at New", v)
	}
}

func TestConcurrentDaemonEnv(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	e := New().WithSet("LEGION_TEST_G", "g")

	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dir := fmt.Sprintf("/opt/d%d", i)
			out := e.DaemonEnv(dir)
			if v, _ := lookup(out, "PATH"); v != dir+":/usr/bin" {
				errs <- v
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for v := range errs {
		t.Errorf("unexpected PATH %q", v)
	}
}
