package detect

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ModelExt is the file extension of installable models.
const ModelExt = ".pt"

var modelLabels = map[string]string{
	"yolov8.pt":                "YOLOv8",
	"yolov8-fdd.pt":            "YOLOv8-FDD",
	"yolov8-fdidh-dysample.pt": "YOLOv8-FDIDH + Dysample",
	"yolov8-fdidh-dwr.pt":      "YOLOv8-FDIDH + DWR",
	"yolofde.pt":               "YOLO-FDE",
}

// Model is an installed model file and its display name.
type Model struct {
	File string `json:"file"`
	Name string `json:"name"`
}

// Catalog enumerates the models installed in a directory.
type Catalog struct {
	dir string
}

func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir}
}

func (c *Catalog) Dir() string {
	return c.dir
}

// Label returns the display name for file, or file itself when unknown.
func Label(file string) string {
	if name, ok := modelLabels[file]; ok {
		return name
	}
	return file
}

// List returns the installed models sorted by file name. A missing
// directory yields an empty list.
func (c *Catalog) List() ([]Model, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Model{}, nil
		}
		return nil, err
	}

	models := make([]Model, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ModelExt) {
			continue
		}
		models = append(models, Model{File: e.Name(), Name: Label(e.Name())})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].File < models[j].File })
	return models, nil
}

// IsAvailable reports whether file names an installed model. Paths are
// rejected so callers cannot reach outside the models directory.
func (c *Catalog) IsAvailable(file string) bool {
	if file == "" || filepath.Base(file) != file || !strings.HasSuffix(file, ModelExt) {
		return false
	}
	info, err := os.Stat(filepath.Join(c.dir, file))
	return err == nil && info.Mode().IsRegular()
}
