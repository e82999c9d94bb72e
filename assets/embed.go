package assets

import (
	"bufio"
	"embed"
	"io"
	"io/fs"
	"strings"
)

//go:embed palette.txt migrations/*.sql
var FS embed.FS

// ReadLines returns the trimmed, non-empty, non-comment lines of r.
func ReadLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		out = append(out, s)
	}
	return out, sc.Err()
}

// PaletteList returns the embedded default card symbols.
func PaletteList() ([]string, error) {
	f, err := FS.Open("palette.txt")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadLines(f)
}

// Migrations exposes the embedded SQL migrations rooted at migrations/.
func Migrations() fs.FS {
	sub, err := fs.Sub(FS, "migrations")
	if err != nil {
		panic(err) // the directory is embedded at build time
	}
	return sub
}
