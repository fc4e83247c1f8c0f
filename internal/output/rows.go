package output

import (
	"bufio"
	"fmt"
	"io"

	"github.com/valyala/fastjson"

	"cw/internal/services"
)

// WriteRows prints each query row as a JSON object on its own line. Duplicate
// field names keep their last value.
func WriteRows(w io.Writer, rows []services.Row) error {
	bw := bufio.NewWriter(w)
	var (
		arena fastjson.Arena
		line  []byte
	)
	for _, row := range rows {
		arena.Reset()
		obj := arena.NewObject()
		for _, field := range row {
			obj.Set(field.Name, arena.NewString(field.Value))
		}
		line = obj.MarshalTo(line[:0])
		line = append(line, '\n')
		if _, err := bw.Write(line); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}
