package export

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/postvault/postvault/internal/ingestion"
	"github.com/postvault/postvault/internal/store"
	"github.com/postvault/postvault/pkg/config"
	"github.com/postvault/postvault/pkg/sqlite"
)

func newStore(t *testing.T, posts ...ingestion.Post) ingestion.PostStore {
	t.Helper()
	client, err := sqlite.New(config.SQLiteConfig{Path: sqlite.MemoryPath})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	s, err := store.NewSQLite(context.Background(), client)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	for _, p := range posts {
		if _, err := s.Insert(context.Background(), p); err != nil {
			t.Fatalf("seeding %s: %v", p.ID, err)
		}
	}
	return s
}

var samplePosts = []ingestion.Post{
	{ID: "1", Timestamp: "2024-01-01", Author: "alice", Content: "hello"},
	{ID: "2", Timestamp: "2024-01-02", Author: "bob", Content: `say "hi", <b>now</b>`},
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(context.Background(), &buf, newStore(t, samplePosts...)); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	want := "id,date,username,content\n" +
		"2,2024-01-02,bob,\"say \"\"hi\"\", <b>now</b>\"\n" +
		"1,2024-01-01,alice,hello\n"
	if buf.String() != want {
		t.Errorf("WriteCSV() =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(context.Background(), &buf, newStore(t)); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	if buf.String() != "id,date,username,content\n" {
		t.Errorf("WriteCSV() = %q", buf.String())
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(context.Background(), &buf, newStore(t, samplePosts...)); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	want := `[{"id":"2","date":"2024-01-02","username":"bob","content":"say \"hi\", <b>now</b>"},` +
		`{"id":"1","date":"2024-01-01","username":"alice","content":"hello"}]`
	if buf.String() != want {
		t.Errorf("WriteJSON() =\n%s\nwant\n%s", buf.String(), want)
	}

	var decoded []ingestion.Post
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
}

func TestWriteJSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(context.Background(), &buf, newStore(t)); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if buf.String() != "[]" {
		t.Errorf("WriteJSON() = %q, want []", buf.String())
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"csv", FormatCSV, false},
		{"json", FormatJSON, false},
		{"xml", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
	if FormatCSV.Filename() != "tweets.csv" || FormatJSON.Filename() != "tweets.json" {
		t.Error("unexpected filenames")
	}
}
