package store

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/propedge/propedge/internal/domain"
)

// Columnar segment format ("csg", version 1):
//
//	magic "CSG1" | uint32 header length | header JSON | column blocks
//
// Each block is an independently gzip-compressed column payload, so a column
// projection reads only the blocks it needs. Encoding is reproducible: columns
// are laid out in sorted name order, gzip runs at a fixed level with a zeroed
// header, and numeric payloads are little-endian float64.

var segmentMagic = []byte("CSG1")

type segmentHeader struct {
	Version int             `json:"version"`
	Rows    int             `json:"rows"`
	Columns []segmentColumn `json:"columns"`
}

type segmentColumn struct {
	Name   string            `json:"name"`
	Kind   domain.ColumnKind `json:"kind"`
	Offset int64             `json:"offset"` // from start of block section
	Size   int64             `json:"size"`
}

// encodeTable serializes a feature table into a columnar segment
func encodeTable(t *domain.FeatureTable) ([]byte, error) {
	names := t.ColumnNames()
	sort.Strings(names)

	var blocks bytes.Buffer
	header := segmentHeader{Version: 1, Rows: t.NumRows()}
	for _, name := range names {
		col, _ := t.Column(name)
		payload, err := encodeColumn(col)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		compressed, err := gzipBlock(payload)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", name, err)
		}
		header.Columns = append(header.Columns, segmentColumn{
			Name:   name,
			Kind:   col.Kind,
			Offset: int64(blocks.Len()),
			Size:   int64(len(compressed)),
		})
		blocks.Write(compressed)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Write(segmentMagic)
	if err := binary.Write(&out, binary.LittleEndian, uint32(len(headerJSON))); err != nil {
		return nil, err
	}
	out.Write(headerJSON)
	out.Write(blocks.Bytes())
	return out.Bytes(), nil
}

// decodeTable reads a columnar segment, optionally projecting to the given
// columns plus every identifier column.
func decodeTable(data []byte, columns []string) (*domain.FeatureTable, error) {
	if len(data) < len(segmentMagic)+4 || !bytes.Equal(data[:len(segmentMagic)], segmentMagic) {
		return nil, fmt.Errorf("not a columnar segment")
	}
	headerLen := binary.LittleEndian.Uint32(data[len(segmentMagic) : len(segmentMagic)+4])
	headerStart := len(segmentMagic) + 4
	if headerStart+int(headerLen) > len(data) {
		return nil, fmt.Errorf("truncated segment header")
	}

	var header segmentHeader
	if err := json.Unmarshal(data[headerStart:headerStart+int(headerLen)], &header); err != nil {
		return nil, fmt.Errorf("segment header: %w", err)
	}
	if header.Version != 1 {
		return nil, fmt.Errorf("unsupported segment version %d", header.Version)
	}
	blockStart := headerStart + int(headerLen)

	wanted := func(sc segmentColumn) bool {
		if len(columns) == 0 {
			return true
		}
		// identifier columns are always carried through projections
		if sc.Kind == domain.KindIdentifier {
			return true
		}
		for _, c := range columns {
			if c == sc.Name {
				return true
			}
		}
		return false
	}

	readColumn := func(sc segmentColumn) (*domain.Column, error) {
		from := blockStart + int(sc.Offset)
		to := from + int(sc.Size)
		if to > len(data) {
			return nil, fmt.Errorf("column %q extends past segment end", sc.Name)
		}
		payload, err := gunzipBlock(data[from:to])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", sc.Name, err)
		}
		return decodeColumn(sc.Name, sc.Kind, payload, header.Rows)
	}

	// prop_id reconstructs row identity first
	var table *domain.FeatureTable
	for _, sc := range header.Columns {
		if sc.Name != domain.ColPropID {
			continue
		}
		col, err := readColumn(sc)
		if err != nil {
			return nil, err
		}
		table = domain.NewFeatureTable(col.Str)
		break
	}
	if table == nil {
		return nil, fmt.Errorf("segment missing %s column", domain.ColPropID)
	}

	for _, sc := range header.Columns {
		if sc.Name == domain.ColPropID || !wanted(sc) {
			continue
		}
		col, err := readColumn(sc)
		if err != nil {
			return nil, err
		}
		var addErr error
		switch col.Kind {
		case domain.KindNumeric:
			addErr = table.AddNumeric(col.Name, col.Float)
		case domain.KindBool:
			addErr = table.AddBool(col.Name, col.Bool)
		case domain.KindTimestamp:
			addErr = table.AddTime(col.Name, col.Time)
		case domain.KindIdentifier:
			addErr = table.AddIdentifier(col.Name, col.Str)
		default:
			addErr = table.AddCategorical(col.Name, col.Str)
		}
		if addErr != nil {
			return nil, addErr
		}
	}
	return table, nil
}

func encodeColumn(col *domain.Column) ([]byte, error) {
	switch col.Kind {
	case domain.KindNumeric:
		var buf bytes.Buffer
		if err := binary.Write(&buf, binary.LittleEndian, col.Float); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case domain.KindBool:
		out := make([]byte, len(col.Bool))
		for i, b := range col.Bool {
			if b {
				out[i] = 1
			}
		}
		return out, nil
	case domain.KindTimestamp:
		strs := make([]string, len(col.Time))
		for i, ts := range col.Time {
			strs[i] = ts.UTC().Format(time.RFC3339Nano)
		}
		return json.Marshal(strs)
	default:
		return json.Marshal(col.Str)
	}
}

func decodeColumn(name string, kind domain.ColumnKind, payload []byte, rows int) (*domain.Column, error) {
	col := &domain.Column{Name: name, Kind: kind}
	switch kind {
	case domain.KindNumeric:
		col.Float = make([]float64, rows)
		if err := binary.Read(bytes.NewReader(payload), binary.LittleEndian, col.Float); err != nil {
			return nil, err
		}
	case domain.KindBool:
		if len(payload) != rows {
			return nil, fmt.Errorf("boolean payload has %d values, want %d", len(payload), rows)
		}
		col.Bool = make([]bool, rows)
		for i, b := range payload {
			col.Bool[i] = b != 0
		}
	case domain.KindTimestamp:
		var strs []string
		if err := json.Unmarshal(payload, &strs); err != nil {
			return nil, err
		}
		col.Time = make([]time.Time, len(strs))
		for i, s := range strs {
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("timestamp %q: %w", s, err)
			}
			col.Time[i] = ts
		}
	default:
		if err := json.Unmarshal(payload, &col.Str); err != nil {
			return nil, err
		}
	}
	if col.Len() != rows {
		return nil, fmt.Errorf("column %q has %d values, want %d", name, col.Len(), rows)
	}
	return col, nil
}

func gzipBlock(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBlock(block []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(block))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
