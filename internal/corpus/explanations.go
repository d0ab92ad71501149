package corpus

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"lf-backend/internal/core"
)

// Explanations travel between sessions as flat CSV: one row per
// explanation, metadata flattened to semicolon-separated key=value pairs.
// The header is fixed so files written by one session load in another
// without negotiation.

var explanationHeader = []string{"name", "label", "condition", "anchor", "metadata"}

func WriteExplanations(w io.Writer, explanations []*core.Explanation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(explanationHeader); err != nil {
		return fmt.Errorf("writing explanation header: %w", err)
	}
	for _, exp := range explanations {
		row := []string{
			exp.Name,
			strconv.Itoa(exp.Label),
			exp.Condition,
			exp.AnchorId,
			flattenMetadata(exp.Metadata),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing explanation %q: %w", exp.Name, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func ReadExplanations(r io.Reader) ([]*core.Explanation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(explanationHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading explanation header: %w", err)
	}
	for i, col := range explanationHeader {
		if !strings.EqualFold(header[i], col) {
			return nil, fmt.Errorf("unexpected column %q, want %q", header[i], col)
		}
	}

	var out []*core.Explanation
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading explanations: %w", err)
		}
		label, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad label %q: %w", line, row[1], err)
		}
		metadata, err := parseMetadata(row[4])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, &core.Explanation{
			Name:      row[0],
			Label:     label,
			Condition: row[2],
			AnchorId:  row[3],
			Metadata:  metadata,
		})
	}
	return out, nil
}

func flattenMetadata(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+m[k])
	}
	return strings.Join(pairs, ";")
}

func parseMetadata(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	m := make(map[string]string)
	for _, pair := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("bad metadata pair %q", pair)
		}
		m[k] = v
	}
	return m, nil
}
