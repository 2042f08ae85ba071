package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"seqcast/internal/signal"
)

// ReadMatrix parses a numeric CSV into a matrix laid out exactly as on disk.
// A first record that does not parse as numbers is treated as a header.
func ReadMatrix(in io.Reader) (*mat.Dense, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows := make([][]float64, 0, 256)
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record %d: %w", line+1, err)
		}
		line++
		if blankRecord(record) {
			continue
		}
		row, err := parseRecord(record)
		if err != nil {
			if len(rows) == 0 && line == 1 {
				continue
			}
			return nil, fmt.Errorf("parse csv record %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return signal.FromRows(rows)
}

// ReadMatrixFile reads path and normalizes it to time-major.
func ReadMatrixFile(path string, orientation signal.Orientation) (*mat.Dense, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	m, err := ReadMatrix(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return signal.Normalize(m, orientation)
}

// WriteMatrix writes m as CSV with one record per matrix row.
func WriteMatrix(out io.Writer, m *mat.Dense) error {
	if signal.IsEmpty(m) {
		return signal.ErrEmpty
	}
	writer := csv.NewWriter(out)
	r, c := m.Dims()
	record := make([]string, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			record[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteMatrixFile writes m to path, transposing first for channel-major files.
func WriteMatrixFile(path string, m *mat.Dense, orientation signal.Orientation) error {
	if orientation == signal.ChannelMajor && !signal.IsEmpty(m) {
		m = mat.DenseCopyOf(m.T())
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteMatrix(file, m); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func parseRecord(record []string) ([]float64, error) {
	row := make([]float64, len(record))
	for i, raw := range record {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		row[i] = v
	}
	return row, nil
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
