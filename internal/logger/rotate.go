package logger

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultVersions is the default number of retained log generations.
const DefaultVersions = 8

// GenerationPath returns dir/<name>.log.<gen>. Generation 0 is the file the
// running daemon writes to.
func GenerationPath(dir, name string, gen int) string {
	return filepath.Join(dir, name+".log."+strconv.Itoa(gen))
}

// Rotator shifts numbered daemon log files. Versions is the retention depth:
// generations 0 through Versions-1 are kept.
type Rotator struct {
	Dir      string
	Versions int
}

func (r Rotator) versions() int {
	return valOr(r.Versions, DefaultVersions)
}

// Rotate deletes the oldest generation of name and moves every other
// generation up by one, from the second-oldest down to generation 0.
// Missing generations are skipped. After Rotate, generation 0 does not exist
// until the daemon is started again.
func (r Rotator) Rotate(name string) error {
	if err := os.MkdirAll(r.Dir, 0o750); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	oldest := r.versions() - 1
	if err := os.Remove(GenerationPath(r.Dir, name, oldest)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove generation %d: %w", oldest, err)
	}
	for i := oldest - 1; i >= 0; i-- {
		from := GenerationPath(r.Dir, name, i)
		to := GenerationPath(r.Dir, name, i+1)
		if err := os.Rename(from, to); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("rotate generation %d: %w", i, err)
		}
	}
	return nil
}

// Generations lists the generation numbers of name that currently exist,
// in ascending order.
func (r Rotator) Generations(name string) []int {
	var gens []int
	for i := 0; i < r.versions(); i++ {
		if _, err := os.Stat(GenerationPath(r.Dir, name, i)); err == nil {
			gens = append(gens, i)
		}
	}
	return gens
}
