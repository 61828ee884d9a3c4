package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"google.golang.org/api/option"

	"kakeibo/internal/snapshot"
)

type fakeFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Parents  []string
	Version  int64
	Data     []byte
}

// fakeDrive serves the handful of Drive v3 calls the store makes.
type fakeDrive struct {
	mu      sync.Mutex
	files   map[string]*fakeFile
	next    int
	uploads int
}

var (
	nameQuery   = regexp.MustCompile(`name = '((?:[^'\\]|\\.)*)'`)
	parentQuery = regexp.MustCompile(`'([^']*)' in parents`)
)

func (d *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/upload")
	path = strings.TrimPrefix(path, "/drive/v3")
	id := strings.TrimPrefix(strings.TrimPrefix(path, "/files"), "/")

	switch {
	case r.Method == http.MethodGet && id == "":
		d.list(w, r.URL.Query().Get("q"))
	case r.Method == http.MethodGet:
		f, ok := d.files[id]
		if !ok {
			notFound(w)
			return
		}
		if r.URL.Query().Get("alt") == "media" {
			w.Write(f.Data)
			return
		}
		writeFile(w, f)
	case r.Method == http.MethodPost && id == "":
		meta, data := readUpload(r)
		d.next++
		f := &fakeFile{ID: fmt.Sprintf("f%d", d.next), Name: meta.Name, MimeType: meta.MimeType,
			Parents: meta.Parents, Version: 1, Data: data}
		if data != nil {
			d.uploads++
		}
		d.files[f.ID] = f
		writeFile(w, f)
	case r.Method == http.MethodPatch:
		f, ok := d.files[id]
		if !ok {
			notFound(w)
			return
		}
		_, data := readUpload(r)
		f.Data = data
		f.Version++
		d.uploads++
		writeFile(w, f)
	default:
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusBadRequest)
	}
}

func (d *fakeDrive) list(w http.ResponseWriter, q string) {
	var name, parent string
	if m := nameQuery.FindStringSubmatch(q); m != nil {
		name = strings.NewReplacer(`\'`, `'`, `\\`, `\`).Replace(m[1])
	}
	if m := parentQuery.FindStringSubmatch(q); m != nil {
		parent = m[1]
	}
	out := []map[string]string{}
	for _, f := range d.files {
		if f.Name != name {
			continue
		}
		if parent != "" && (len(f.Parents) == 0 || f.Parents[0] != parent) {
			continue
		}
		out = append(out, map[string]string{"id": f.ID, "name": f.Name, "version": strconv.FormatInt(f.Version, 10)})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"files": out})
}

type uploadMeta struct {
	Name     string   `json:"name"`
	MimeType string   `json:"mimeType"`
	Parents  []string `json:"parents"`
}

// readUpload splits a multipart/related upload into metadata and media.
// Plain JSON bodies carry metadata only.
func readUpload(r *http.Request) (uploadMeta, []byte) {
	var meta uploadMeta
	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "multipart/") {
		json.NewDecoder(r.Body).Decode(&meta)
		return meta, nil
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	part, err := mr.NextPart()
	if err != nil {
		return meta, nil
	}
	json.NewDecoder(part).Decode(&meta)
	part, err = mr.NextPart()
	if err != nil {
		return meta, nil
	}
	data, _ := io.ReadAll(part)
	return meta, data
}

func writeFile(w http.ResponseWriter, f *fakeFile) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"id":      f.ID,
		"name":    f.Name,
		"version": strconv.FormatInt(f.Version, 10),
	})
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	io.WriteString(w, `{"error":{"code":404,"message":"File not found"}}`)
}

func newTestStore(t *testing.T, folder, name string) (*Store, *fakeDrive) {
	t.Helper()
	fake := &fakeDrive{files: map[string]*fakeFile{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	s, err := New(context.Background(), folder, name,
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, fake
}

func image(body string) []byte {
	return append([]byte("SQLite format 3\x00"), body...)
}

func TestStoreFetchMissing(t *testing.T) {
	s, _ := newTestStore(t, "", "")
	if _, err := s.Fetch(context.Background()); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreSaveCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStore(t, "", "")

	rev1, err := s.Save(ctx, image("one"), "")
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if len(fake.files) != 2 {
		t.Fatalf("expected folder and file, have %d entries", len(fake.files))
	}
	var folder, file *fakeFile
	for _, f := range fake.files {
		if f.MimeType == folderMimeType {
			folder = f
		} else {
			file = f
		}
	}
	if folder == nil || folder.Name != DefaultFolder {
		t.Fatalf("folder = %+v", folder)
	}
	if file == nil || file.Name != DefaultFile || file.Parents[0] != folder.ID || file.MimeType != snapshot.MimeType {
		t.Fatalf("file = %+v", file)
	}

	rev2, err := s.Save(ctx, image("two"), rev1)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if rev1 == rev2 {
		t.Fatalf("revision did not change: %s", rev2)
	}

	snap, err := s.Fetch(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(snap.Data) != string(image("two")) || snap.Revision != rev2 {
		t.Fatalf("fetched %q at %s", snap.Data, snap.Revision)
	}
	if fake.uploads != 2 {
		t.Fatalf("uploads = %d", fake.uploads)
	}
}

func TestStoreFindsExistingFileFromAnotherClient(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStore(t, "Ledger's data", "it's.sqlite")
	if _, err := s.Save(ctx, image("shared"), ""); err != nil {
		t.Fatalf("save: %v", err)
	}

	// A fresh store has no cached ids and must find both by name.
	other := &Store{svc: s.svc, folder: s.folder, name: s.name}
	snap, err := other.Fetch(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(snap.Data) != string(image("shared")) {
		t.Fatalf("data = %q", snap.Data)
	}
	if len(fake.files) != 2 {
		t.Fatalf("files = %d", len(fake.files))
	}
}

func TestStoreRecoversFromDeletedFile(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStore(t, "", "")
	if _, err := s.Save(ctx, image("one"), ""); err != nil {
		t.Fatalf("save: %v", err)
	}
	fake.mu.Lock()
	delete(fake.files, s.fileID)
	fake.mu.Unlock()

	if _, err := s.Fetch(ctx); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after deletion, got %v", err)
	}
	if _, err := s.Save(ctx, image("again"), ""); err != nil {
		t.Fatalf("save after deletion: %v", err)
	}
	snap, err := s.Fetch(ctx)
	if err != nil || string(snap.Data) != string(image("again")) {
		t.Fatalf("fetch: %q %v", snap.Data, err)
	}
}

func TestClientOptions(t *testing.T) {
	ctx := context.Background()
	client := `{"installed":{"client_id":"test","client_secret":"test","redirect_uris":["http://localhost"],"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token"}}`

	tests := []struct {
		name    string
		creds   Credentials
		wantErr string
	}{
		{"service account", Credentials{ServiceAccountJSON: []byte(`{"type":"service_account"}`)}, ""},
		{"oauth", Credentials{OAuthClientJSON: []byte(client), OAuthTokenJSON: []byte(`{"access_token":"x"}`)}, ""},
		{"bad client", Credentials{OAuthClientJSON: []byte("nope"), OAuthTokenJSON: []byte(`{}`)}, "oauth config"},
		{"bad token", Credentials{OAuthClientJSON: []byte(client), OAuthTokenJSON: []byte("nope")}, "oauth token"},
		{"client without token", Credentials{OAuthClientJSON: []byte(client)}, "missing Drive credentials"},
		{"none", Credentials{}, "missing Drive credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := ClientOptions(ctx, tt.creds)
			if tt.wantErr == "" {
				if err != nil || len(opts) == 0 {
					t.Fatalf("opts=%d err=%v", len(opts), err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEscape(t *testing.T) {
	if got := escape(`it's a \ test`); got != `it\'s a \\ test` {
		t.Fatalf("escape = %s", got)
	}
}
