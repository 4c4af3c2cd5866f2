package formats

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mvp-joe/geoindexer/internal/crs"
)

// findSidecar returns the first existing file named like path with one of
// the given extensions, trying lower and upper case.
func findSidecar(path string, exts ...string) (string, bool) {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, ext := range exts {
		for _, candidate := range []string{base + ext, base + strings.ToUpper(ext), path + ext} {
			if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
				return candidate, true
			}
		}
	}
	return "", false
}

// readPrj parses the Esri .prj sidecar of path. A missing sidecar yields a
// zero CRS and no error.
func readPrj(path string) (crs.CRS, error) {
	prj, ok := findSidecar(path, ".prj")
	if !ok {
		return crs.CRS{}, nil
	}
	data, err := os.ReadFile(prj)
	if err != nil {
		return crs.CRS{}, unreadable(err, "read %s", filepath.Base(prj))
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return crs.CRS{}, nil
	}
	c, err := crs.ParseWKT(text)
	if err != nil {
		return crs.CRS{}, unreadable(err, "parse %s", filepath.Base(prj))
	}
	return c, nil
}

// readWorldFile parses an ESRI world file next to a raster. Its six lines
// are A, D, B, E, C, F where C and F locate the centre of the upper-left
// pixel. A missing world file yields nil and no error.
func readWorldFile(path string) (*GeoTransform, error) {
	wld, ok := findSidecar(path, worldFileExts(path)...)
	if !ok {
		return nil, nil
	}

	f, err := os.Open(wld)
	if err != nil {
		return nil, unreadable(err, "open %s", filepath.Base(wld))
	}
	defer f.Close()

	var v []float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && len(v) < 6 {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		n, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, unreadable(err, "world file %s", filepath.Base(wld))
		}
		v = append(v, n)
	}
	if err := scanner.Err(); err != nil {
		return nil, unreadable(err, "read %s", filepath.Base(wld))
	}
	if len(v) < 6 {
		return nil, unreadable(nil, "world file %s has %d of 6 values", filepath.Base(wld), len(v))
	}

	a, d, b, e, c, f2 := v[0], v[1], v[2], v[3], v[4], v[5]
	return &GeoTransform{c - a/2 - b/2, a, b, f2 - d/2 - e/2, d, e}, nil
}

// worldFileExts lists the conventional world-file extensions for path:
// first+last letter + "w" (".tfw"), extension + "w" (".tifw"), and ".wld".
func worldFileExts(path string) []string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	var exts []string
	if len(ext) >= 2 {
		exts = append(exts, "."+ext[:1]+ext[len(ext)-1:]+"w")
	}
	if ext != "" {
		exts = append(exts, "."+ext+"w")
	}
	return append(exts, ".wld")
}
