package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"kakeibo/internal/snapshot"
)

const (
	DefaultFolder = "AI_Kakeibo_Data"
	DefaultFile   = "kakeibo.sqlite"

	folderMimeType = "application/vnd.google-apps.folder"
)

// Credentials carries either a service account key or an OAuth client plus
// a user token obtained with cmd/oauth-init.
type Credentials struct {
	ServiceAccountJSON []byte
	OAuthClientJSON    []byte
	OAuthTokenJSON     []byte
}

// ClientOptions turns credentials into Drive client options. A service
// account wins when both kinds are present.
func ClientOptions(ctx context.Context, c Credentials) ([]option.ClientOption, error) {
	switch {
	case len(c.ServiceAccountJSON) > 0:
		slog.InfoContext(ctx, "Using service account credentials for Drive",
			"credentials_size", len(c.ServiceAccountJSON),
			"scope", drive.DriveFileScope)
		return []option.ClientOption{
			option.WithCredentialsJSON(c.ServiceAccountJSON),
			option.WithScopes(drive.DriveFileScope),
		}, nil
	case len(c.OAuthClientJSON) > 0 && len(c.OAuthTokenJSON) > 0:
		cfg, err := goauth.ConfigFromJSON(c.OAuthClientJSON, drive.DriveFileScope)
		if err != nil {
			return nil, fmt.Errorf("oauth config: %w", err)
		}
		var tok oauth2.Token
		if err := json.Unmarshal(c.OAuthTokenJSON, &tok); err != nil {
			return nil, fmt.Errorf("oauth token: %w", err)
		}
		slog.InfoContext(ctx, "Using OAuth user token for Drive", "scope", drive.DriveFileScope)
		return []option.ClientOption{option.WithTokenSource(cfg.TokenSource(ctx, &tok))}, nil
	default:
		return nil, errors.New("missing Drive credentials (service account or OAuth client and token)")
	}
}

// Store keeps the ledger image as a single file inside a Drive folder. The
// revision is the Drive file version.
type Store struct {
	svc    *drive.Service
	folder string
	name   string

	mu       sync.Mutex
	folderID string
	fileID   string
}

// New creates a Drive-backed store. Empty folder or file names fall back to
// DefaultFolder and DefaultFile.
func New(ctx context.Context, folder, name string, opts ...option.ClientOption) (*Store, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	if folder == "" {
		folder = DefaultFolder
	}
	if name == "" {
		name = DefaultFile
	}
	return &Store{svc: svc, folder: folder, name: name}, nil
}

func (s *Store) Fetch(ctx context.Context) (snapshot.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.lookupFile(ctx, false)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	meta, err := s.svc.Files.Get(id).Fields("id", "version").Context(ctx).Do()
	if isNotFound(err) {
		// Removed since we cached its id.
		if id, err = s.lookupFile(ctx, true); err != nil {
			return snapshot.Snapshot{}, err
		}
		meta, err = s.svc.Files.Get(id).Fields("id", "version").Context(ctx).Do()
	}
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("get %s metadata: %w", s.name, err)
	}

	resp, err := s.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("download %s: %w", s.name, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("read %s: %w", s.name, err)
	}

	slog.DebugContext(ctx, "Snapshot downloaded from Drive",
		"file_id", id,
		"version", meta.Version,
		"image_bytes", len(data))
	return snapshot.Snapshot{Data: data, Revision: revision(meta)}, nil
}

// Save uploads data as a new version of the file, creating the folder and
// the file on first use. A base revision older than the stored one is
// logged and overwritten.
func (s *Store) Save(ctx context.Context, data []byte, baseRevision string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.lookupFile(ctx, false)
	if errors.Is(err, snapshot.ErrNotFound) {
		return s.create(ctx, data)
	}
	if err != nil {
		return "", err
	}

	meta, err := s.svc.Files.Get(id).Fields("id", "version").Context(ctx).Do()
	if isNotFound(err) {
		s.fileID = ""
		return s.create(ctx, data)
	}
	if err != nil {
		return "", fmt.Errorf("get %s metadata: %w", s.name, err)
	}
	if current := revision(meta); current != baseRevision {
		slog.WarnContext(ctx, "Snapshot revision mismatch, overwriting",
			"file_id", id,
			"base_revision", baseRevision,
			"current_revision", current)
	}

	updated, err := s.svc.Files.Update(id, &drive.File{}).
		Media(bytes.NewReader(data), googleapi.ContentType(snapshot.MimeType)).
		Fields("id", "version").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", s.name, err)
	}
	return revision(updated), nil
}

func (s *Store) create(ctx context.Context, data []byte) (string, error) {
	folderID, err := s.ensureFolder(ctx)
	if err != nil {
		return "", err
	}
	f := &drive.File{
		Name:     s.name,
		MimeType: snapshot.MimeType,
		Parents:  []string{folderID},
	}
	created, err := s.svc.Files.Create(f).
		Media(bytes.NewReader(data), googleapi.ContentType(snapshot.MimeType)).
		Fields("id", "version").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("create %s: %w", s.name, err)
	}
	s.fileID = created.Id
	slog.InfoContext(ctx, "Snapshot file created on Drive",
		"file_id", created.Id,
		"folder_id", folderID,
		"name", s.name)
	return revision(created), nil
}

// lookupFile resolves the image file id, or snapshot.ErrNotFound when the
// folder or the file does not exist yet.
func (s *Store) lookupFile(ctx context.Context, refresh bool) (string, error) {
	if refresh {
		s.folderID, s.fileID = "", ""
	}
	if s.fileID != "" {
		return s.fileID, nil
	}
	if s.folderID == "" {
		id, err := s.find(ctx, fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
			escape(s.folder), folderMimeType))
		if err != nil {
			return "", err
		}
		if id == "" {
			return "", snapshot.ErrNotFound
		}
		s.folderID = id
	}
	id, err := s.find(ctx, fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
		escape(s.name), escape(s.folderID)))
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", snapshot.ErrNotFound
	}
	s.fileID = id
	return id, nil
}

func (s *Store) ensureFolder(ctx context.Context) (string, error) {
	if s.folderID != "" {
		return s.folderID, nil
	}
	id, err := s.find(ctx, fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
		escape(s.folder), folderMimeType))
	if err != nil {
		return "", err
	}
	if id == "" {
		folder, err := s.svc.Files.Create(&drive.File{Name: s.folder, MimeType: folderMimeType}).
			Fields("id").
			Context(ctx).
			Do()
		if err != nil {
			return "", fmt.Errorf("create folder %s: %w", s.folder, err)
		}
		id = folder.Id
		slog.InfoContext(ctx, "Drive folder created", "folder_id", id, "name", s.folder)
	}
	s.folderID = id
	return id, nil
}

// find returns the id of the first file matching q, or "" if none does.
func (s *Store) find(ctx context.Context, q string) (string, error) {
	list, err := s.svc.Files.List().
		Q(q).
		Spaces("drive").
		Fields("files(id, name, version)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("search drive: %w", err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

func revision(f *drive.File) string {
	return strconv.FormatInt(f.Version, 10)
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
