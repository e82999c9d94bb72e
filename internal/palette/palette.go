// apps/go-server/internal/palette/palette.go
//
// Card symbol palette management.
//
// Responsibilities:
//   - Load the symbol list from PALETTE_FILE or fall back to the embedded default.
//   - Deduplicate raw lists (order preserved) so every symbol is dealt exactly twice.
//   - Hand out palette prefixes sized for a requested number of pairs.
//
// Raw lists may repeat symbols (the classic board listed every icon twice);
// duplicates are dropped and reported, never dealt as extra pairs.

package palette

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/robalobadob/memory-match/apps/go-server/assets"
	"github.com/robalobadob/memory-match/apps/go-server/internal/game"
)

// ErrPaletteSize is returned by Take for pair counts the palette cannot serve.
var ErrPaletteSize = errors.New("palette: invalid pair count")

// Palette is an ordered list of distinct card symbols.
type Palette struct {
	symbols []string
}

// New deduplicates raw and validates the result.
func New(raw []string) (*Palette, error) {
	symbols, dups := Dedupe(raw)
	if len(dups) > 0 {
		log.Warn().Strs("duplicates", dups).Msg("palette: dropped repeated symbols")
	}
	if err := game.ValidatePalette(symbols); err != nil {
		return nil, err
	}
	return &Palette{symbols: symbols}, nil
}

// Load reads the palette from path, or the embedded default when path is empty.
func Load(path string) (*Palette, error) {
	var (
		raw []string
		err error
	)
	if path == "" {
		raw, err = assets.PaletteList()
	} else {
		raw, err = readFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("palette: load %q: %w", path, err)
	}
	return New(raw)
}

func readFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return assets.ReadLines(f)
}

// Dedupe returns raw without repeats (first occurrence wins) and the
// symbols that were dropped. Empty entries are dropped silently.
func Dedupe(raw []string) (symbols, dropped []string) {
	seen := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			dropped = append(dropped, s)
			continue
		}
		seen[s] = struct{}{}
		symbols = append(symbols, s)
	}
	return symbols, dropped
}

// Len is the number of distinct symbols available.
func (p *Palette) Len() int { return len(p.symbols) }

// Symbols returns a copy of the full palette.
func (p *Palette) Symbols() []string { return append([]string(nil), p.symbols...) }

// Take returns the first n symbols, for a board of n pairs.
func (p *Palette) Take(n int) ([]string, error) {
	if n < game.MinPairs || n > len(p.symbols) {
		return nil, fmt.Errorf("%w: %d (allowed %d–%d)", ErrPaletteSize, n, game.MinPairs, len(p.symbols))
	}
	return append([]string(nil), p.symbols[:n]...), nil
}
