// Package authors produces the author records a batch run inserts, either
// generated on the fly or decoded from newline-delimited JSON.
package authors

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"sync"

	"github.com/google/uuid"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wilhg/bookstore/pkg/store"
)

//go:embed author.schema.json
var authorSchema []byte

const schemaURL = "mem://author.schema.json"

// maxLine bounds a single NDJSON line.
const maxLine = 1 << 20

// Generate lazily yields n authors. IDs come from newID, or uuid.NewString when nil.
func Generate(n int, newID func() string) iter.Seq[store.Author] {
	if newID == nil {
		newID = uuid.NewString
	}
	return func(yield func(store.Author) bool) {
		for i := 0; i < n; i++ {
			a := store.Author{
				ID:    newID(),
				Name:  fmt.Sprintf("Name_%d", i),
				Genre: fmt.Sprintf("Genre_%d", i),
				Age:   18 + i%60,
			}
			if !yield(a) {
				return
			}
		}
	}
}

// LineError reports a line of NDJSON input that could not be used.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

func (e *LineError) Unwrap() error { return e.Err }

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(authorSchema))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
})

// Decode yields one author per non-blank line of r. Every line is validated
// against the author schema; the sequence stops after the first error.
func Decode(r io.Reader) iter.Seq2[store.Author, error] {
	return func(yield func(store.Author, error) bool) {
		sch, err := compileSchema()
		if err != nil {
			yield(store.Author{}, fmt.Errorf("compile author schema: %w", err))
			return
		}
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLine)
		line := 0
		for sc.Scan() {
			line++
			raw := bytes.TrimSpace(sc.Bytes())
			if len(raw) == 0 {
				continue
			}
			a, err := decodeLine(sch, raw)
			if err != nil {
				yield(store.Author{}, &LineError{Line: line, Err: err})
				return
			}
			if !yield(a, nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield(store.Author{}, fmt.Errorf("read authors: %w", err))
		}
	}
}

func decodeLine(sch *jsonschema.Schema, raw []byte) (store.Author, error) {
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return store.Author{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return store.Author{}, err
	}
	var a store.Author
	if err := json.Unmarshal(raw, &a); err != nil {
		return store.Author{}, err
	}
	return a, nil
}
