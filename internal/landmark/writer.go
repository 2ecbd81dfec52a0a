package landmark

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Write emits set as a "point" landmark record that Load reads back.
func Write(w io.Writer, set Set) error {
	rows := make([][]float64, set.Len())
	for i, p := range set.Points {
		rows[i] = p
	}
	return WriteRows(w, KindPoint, rows)
}

// WriteRows emits a record in the landmark layout: header, number of rows,
// then one line of reals per row.
func WriteRows(w io.Writer, header string, rows [][]float64) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, header)
	fmt.Fprintln(bw, len(rows))
	for _, row := range rows {
		for d, v := range row {
			if d > 0 {
				bw.WriteByte(' ')
			}
			bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteFile writes set to path.
func WriteFile(path string, set Set) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, set); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteRowsFile writes rows to path with WriteRows.
func WriteRowsFile(path, header string, rows [][]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteRows(f, header, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
