package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"ai-market-intelligence/models"
)

// WriteJSON writes v to path with four-space indentation, replacing any
// previous artifact.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("json: encode %q: %w", path, err)
	}
	return WriteFile(path, append(data, '\n'))
}

// ReadJSON decodes the artifact at path into v. A missing file is an
// InputNotFoundError for stage.
func ReadJSON(stage, path, hint string, v any) error {
	f, err := openInput(stage, path, hint)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("%s: decode %q: %w", stage, path, err)
	}
	return nil
}

// WriteFile writes data atomically: a temp file in the target directory is
// renamed over path.
func WriteFile(path string, data []byte) error {
	if err := ensureDir(path); err != nil {
		return fmt.Errorf("create output dir for %q: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %q: %w", path, err)
	}
	return nil
}

// ReadInsights loads the validated insight list.
func ReadInsights(path string) ([]*models.Insight, error) {
	var out []*models.Insight
	if err := ReadJSON("report", path, "run the insights stage first", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadDerivedInsights loads the campaign analysis result.
func ReadDerivedInsights(path string) (*models.DerivedInsights, error) {
	var out models.DerivedInsights
	if err := ReadJSON("creative", path, "run the campaigns stage first", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
