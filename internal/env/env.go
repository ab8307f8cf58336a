package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes the environment handed to daemons: the supervisor's own
// environment as base, then global overrides. An Env is read-only after
// construction and safe for concurrent use.
type Env struct {
	Var Var // global variables (K->V)
	env Var // base captured from the OS environment at New
}

// New captures the current process environment as the base.
func New() *Env {
	return &Env{
		Var: make(Var),
		env: parse(os.Environ()),
	}
}

// WithSet returns a copy of e with K=V set as a global override.
func (e *Env) WithSet(k, v string) *Env {
	n := &Env{Var: make(Var, len(e.Var)+1), env: e.env}
	for kk, vv := range e.Var {
		n.Var[kk] = vv
	}
	if k != "" {
		n.Var[k] = v
	}
	return n
}

// Merge composes the final environment list applying order:
// base = OS env captured at New
// then apply global e.Var overrides
// then apply perProc (slice of "K=V") overrides
// Returns the environment slice in "K=V" form, with ${VAR} expansion performed
// against the environment as it was before perProc was applied.
func (e *Env) Merge(perProc []string) []string {
	base := e.env
	if base == nil {
		base = parse(os.Environ())
	}
	m := make(Var, len(base)+len(e.Var))
	for k, v := range base {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	prev := make(Var, len(m))
	for k, v := range m {
		prev[k] = v
	}
	for k, v := range parse(perProc) {
		m[k] = expand(v, prev)
	}
	return m.list()
}

// DaemonEnv is Merge with dir prepended to PATH, the environment every
// daemon executable is launched with.
func (e *Env) DaemonEnv(dir string) []string {
	return e.Merge([]string{"PATH=" + dir + ":${PATH}"})
}

func parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func (m Var) list() []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		if k == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(k string) string { return m[k] })
}
