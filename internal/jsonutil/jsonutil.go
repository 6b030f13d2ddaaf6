package jsonutil

import (
	"bytes"
	"fmt"

	"github.com/fatih/structs"
	"github.com/hokaccha/go-prettyjson"
)

var formatter *prettyjson.Formatter

func init() {
	formatter = prettyjson.NewFormatter()
	formatter.Indent = 0
	formatter.Newline = ""
}

// MarshalCompactPretty formats the fields of a struct one per line in field order and adds color information.
// Values implementing error or fmt.Stringer are written as strings. Zero values are skipped.
func MarshalCompactPretty(v any) ([]byte, error) {
	var buf bytes.Buffer
	for _, f := range structs.Fields(v) {
		if !f.IsExported() || f.IsZero() {
			continue
		}
		val := f.Value()
		switch x := val.(type) {
		case error:
			val = x.Error()
		case fmt.Stringer:
			val = x.String()
		}
		b, err := formatter.Marshal(val)
		if err != nil {
			return nil, err
		}
		buf.WriteString(f.Name())
		buf.WriteString(": ")
		buf.Write(b)
		buf.WriteRune('\n')
	}
	return buf.Bytes(), nil
}
