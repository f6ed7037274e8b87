// Package csvutil implements CSV utilities.
package csvutil

import (
	"encoding/csv"
	"os"
	"path/filepath"
)

// Save writes data to CSV, creating parent directories as needed.
func Save(header []string, rows [][]string, output string) error {
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(output, os.O_RDWR|os.O_TRUNC, 0600)
	if err != nil {
		f, err = os.Create(output)
		if err != nil {
			return err
		}
	}
	defer f.Close()

	wr := csv.NewWriter(f)
	if err := wr.Write(header); err != nil {
		return err
	}
	if err := wr.WriteAll(rows); err != nil {
		return err
	}
	wr.Flush()
	return wr.Error()
}
