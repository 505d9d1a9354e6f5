package util

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// AppendToFile appends each content string as a separate line, creating the file if needed
func AppendToFile(savePath string, content ...string) error {
	f, err := os.OpenFile(savePath, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}

	defer f.Close()

	for _, s := range content {
		if _, err = f.WriteString(s + "\n"); err != nil {
			return err
		}
	}
	return nil
}

// AppendJSONLine marshals v and appends it as a single line
func AppendJSONLine(savePath string, v interface{}) error {
	bs, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s line: %w", filepath.Base(savePath), err)
	}
	return AppendToFile(savePath, string(bs))
}

// WriteFileAtomic writes data to a temporary file next to savePath and renames it in place,
// readers never observe a partially written file
func WriteFileAtomic(savePath string, data []byte) error {
	dir := filepath.Dir(savePath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(savePath)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, savePath)
}

// EnsureDir creates the directory (and parents) if it does not exist
func EnsureDir(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return os.MkdirAll(dir, os.ModePerm)
	}
	return nil
}
