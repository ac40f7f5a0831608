package batch

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// DataMatrix holds one row of features per included object, in input order.
type DataMatrix struct {
	SNID     []string
	Types    []string
	Redshift []float64
	Rows     [][]float64
}

// Len is the number of objects.
func (m *DataMatrix) Len() int { return len(m.Rows) }

// Append adds one object's row.
func (m *DataMatrix) Append(snid, typ string, z float64, row []float64) {
	m.SNID = append(m.SNID, snid)
	m.Types = append(m.Types, typ)
	m.Redshift = append(m.Redshift, z)
	m.Rows = append(m.Rows, row)
}

// Dense returns the rows as a matrix. All rows must have the same length.
func (m *DataMatrix) Dense() (*mat.Dense, error) {
	if len(m.Rows) == 0 {
		return nil, fmt.Errorf("data matrix is empty")
	}
	cols := len(m.Rows[0])
	d := mat.NewDense(len(m.Rows), cols, nil)
	for i, r := range m.Rows {
		if len(r) != cols {
			return nil, fmt.Errorf("row %d (%s) has %d values, want %d", i, m.SNID[i], len(r), cols)
		}
		d.SetRow(i, r)
	}
	return d, nil
}

// Subset returns the rows at idx, sharing row storage.
func (m *DataMatrix) Subset(idx []int) *DataMatrix {
	out := &DataMatrix{}
	for _, i := range idx {
		out.Append(m.SNID[i], m.Types[i], m.Redshift[i], m.Rows[i])
	}
	return out
}

const matrixHeader = "SNID    type    z   LC..."

// WriteText writes the matrix as whitespace-separated text with a header
// line, one object per line.
func (m *DataMatrix) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, matrixHeader)
	for i, row := range m.Rows {
		fmt.Fprintf(bw, "%s    %s    %s", m.SNID[i], m.Types[i], strconv.FormatFloat(m.Redshift[i], 'g', -1, 64))
		for _, v := range row {
			bw.WriteString("    ")
			bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteFile writes the text form to path.
func (m *DataMatrix) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.WriteText(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadMatrix parses the text form written by WriteText.
func ReadMatrix(r io.Reader) (*DataMatrix, error) {
	m := &DataMatrix{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || (line == 1 && fields[0] == "SNID") {
			continue
		}
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: want SNID, type and redshift, got %d fields", line, len(fields))
		}
		z, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: redshift: %w", line, err)
		}
		row := make([]float64, len(fields)-3)
		for j, s := range fields[3:] {
			if row[j], err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, j+4, err)
			}
		}
		m.Append(fields[0], fields[1], z, row)
	}
	return m, sc.Err()
}

// ReadMatrixFile reads a matrix written by WriteFile.
func ReadMatrixFile(path string) (*DataMatrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadMatrix(f)
}
