package indexer

import (
	"path/filepath"
	"strings"
)

// DefaultExtensions maps each family to the extensions recognized by the
// built-in format readers.
func DefaultExtensions() map[Family][]string {
	return map[Family][]string{
		FamilyRaster:     {".tif", ".tiff", ".ntf", ".nitf", ".dt0", ".dt1", ".dt2"},
		FamilyVector:     {".shp", ".geojson", ".json", ".kml", ".kmz"},
		FamilyContainer:  {".gdb", ".gpkg", ".sqlite", ".db"},
		FamilyPointCloud: {".las", ".laz"},
		FamilyImage:      {".jpg", ".jpeg"},
	}
}

// Classifier assigns a family to a path by its extension, case-insensitively.
type Classifier struct {
	byExt map[string]Family
}

// NewClassifier builds a classifier for the given families only. When two
// families claim an extension, the later family in the list wins.
func NewClassifier(extensions map[Family][]string, families []Family) *Classifier {
	c := &Classifier{byExt: make(map[string]Family)}
	for _, f := range families {
		for _, ext := range extensions[f] {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			c.byExt[ext] = f
		}
	}
	return c
}

// Classify returns the descriptor of a candidate path, or false when its
// extension is not recognized.
func (c *Classifier) Classify(path string) (AssetDescriptor, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	f, ok := c.byExt[ext]
	if !ok {
		return AssetDescriptor{}, false
	}
	return AssetDescriptor{Path: path, Family: f, Extension: ext}, true
}

// IsContainer reports whether path has a container extension. Directory
// containers (.gdb) are discovered as a single candidate.
func (c *Classifier) IsContainer(path string) bool {
	return c.byExt[strings.ToLower(filepath.Ext(path))] == FamilyContainer
}
