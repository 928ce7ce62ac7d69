// Package export writes the full post store as CSV or JSON.
package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/postvault/postvault/internal/ingestion"
)

// Format names an export encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json".
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want csv or json)", s)
	}
}

// Filename is the download name for f.
func (f Format) Filename() string {
	return "tweets." + string(f)
}

// ContentType is the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv; charset=utf-8"
}

var header = []string{"id", "date", "username", "content"}

// Write encodes every post from src to w in format f.
func Write(ctx context.Context, w io.Writer, src ingestion.PostStore, f Format) error {
	switch f {
	case FormatCSV:
		return WriteCSV(ctx, w, src)
	case FormatJSON:
		return WriteJSON(ctx, w, src)
	default:
		return fmt.Errorf("unknown export format %q", f)
	}
}

// WriteCSV writes a header row plus one row per post, newest first.
func WriteCSV(ctx context.Context, w io.Writer, src ingestion.PostStore) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	err := src.Each(ctx, func(p ingestion.Post) error {
		return cw.Write([]string{p.ID, p.Timestamp, string(p.Author), p.Content})
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes a single array of {id, date, username, content} objects,
// newest first. An empty store produces [].
func WriteJSON(ctx context.Context, w io.Writer, src ingestion.PostStore) error {
	bw := bufio.NewWriter(w)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := bw.WriteByte('['); err != nil {
		return err
	}
	first := true
	err := src.Each(ctx, func(p ingestion.Post) error {
		buf.Reset()
		if err := enc.Encode(p); err != nil {
			return err
		}
		if !first {
			if err := bw.WriteByte(','); err != nil {
				return err
			}
		}
		first = false
		_, err := bw.Write(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
		return err
	})
	if err != nil {
		return err
	}
	if err := bw.WriteByte(']'); err != nil {
		return err
	}
	return bw.Flush()
}
