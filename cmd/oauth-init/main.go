// Command oauth-init runs the installed-app OAuth flow once and stores the
// token the Drive snapshot store reads from GOOGLE_OAUTH_TOKEN_FILE. The
// token is checked against the configured Drive folder before it is kept.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"

	"kakeibo/internal/cli"
	"kakeibo/internal/config"
	applog "kakeibo/internal/log"
	"kakeibo/internal/snapshot"
	gdrive "kakeibo/internal/snapshot/google"
)

const authTimeout = 5 * time.Minute

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL")).WithComponent(applog.ComponentSnapshot)
	cfg := config.Load()

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

	clientJSON, err := config.ReadSecret(cfg.GoogleOAuthClientJSON, cfg.GoogleOAuthClientFile)
	if err != nil {
		logger.Error("Failed to read OAuth client", "error", err)
		os.Exit(1)
	}
	if len(clientJSON) == 0 {
		logger.Error("Set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE")
		os.Exit(1)
	}
	oauthCfg, err := google.ConfigFromJSON(clientJSON, drive.DriveFileScope)
	if err != nil {
		logger.Error("Invalid OAuth client", "error", err)
		os.Exit(1)
	}

	port := os.Getenv("OAUTH_REDIRECT_PORT")
	if port == "" {
		port = "8085"
	}
	oauthCfg.RedirectURL = "http://localhost:" + port + "/callback"

	tok, err := authorize(ctx, oauthCfg, ":"+port)
	if err != nil {
		logger.Error("Authorization failed", "error", err)
		os.Exit(1)
	}

	outFile := cfg.GoogleOAuthTokenFile
	if outFile == "" {
		outFile = "token.json"
	}
	if err := writeToken(outFile, tok); err != nil {
		logger.Error("Failed to save token", "path", outFile, "error", err)
		os.Exit(1)
	}
	logger.Info("Token saved", "path", outFile)

	if err := checkDrive(ctx, cfg, clientJSON, tok); err != nil {
		logger.Warn("Token saved but Drive check failed", "folder", cfg.GoogleDriveFolder, "error", err)
	}

	abs, err := filepath.Abs(outFile)
	if err != nil {
		abs = outFile
	}
	fmt.Printf("\nAdd to your environment:\n\n  SNAPSHOT_BACKEND=drive\n  GOOGLE_OAUTH_TOKEN_FILE=%s\n", abs)
	if cfg.GoogleOAuthClientFile != "" {
		fmt.Printf("  GOOGLE_OAUTH_CLIENT_FILE=%s\n", cfg.GoogleOAuthClientFile)
	}
}

// authorize prints the consent URL and waits for the redirect on addr.
func authorize(ctx context.Context, cfg *oauth2.Config, addr string) (*oauth2.Token, error) {
	state := uuid.NewString()
	codeCh := make(chan string, 1)

	mux := http.NewServeMux()
	mux.Handle("GET /callback", callbackHandler(state, codeCh))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	defer srv.Close()

	fmt.Printf("Open this URL to authorize Drive access:\n%s\n", cfg.AuthCodeURL(state, oauth2.AccessTypeOffline))

	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()
	select {
	case code := <-codeCh:
		tok, err := cfg.Exchange(ctx, code)
		if err != nil {
			return nil, fmt.Errorf("token exchange: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, fmt.Errorf("callback server: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// callbackHandler forwards the authorization code once its state matches.
func callbackHandler(state string, codeCh chan<- string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if errStr := q.Get("error"); errStr != "" {
			http.Error(w, "OAuth error: "+errStr, http.StatusBadRequest)
			return
		}
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		select {
		case codeCh <- code:
			fmt.Fprintln(w, "You may close this window and return to the terminal.")
		default:
			http.Error(w, "authorization already received", http.StatusConflict)
		}
	})
}

func writeToken(path string, tok *oauth2.Token) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// checkDrive opens the snapshot store with the new token and reports what it
// finds in the configured folder.
func checkDrive(ctx context.Context, cfg *config.Config, clientJSON []byte, tok *oauth2.Token) error {
	tokJSON, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	opts, err := gdrive.ClientOptions(ctx, gdrive.Credentials{OAuthClientJSON: clientJSON, OAuthTokenJSON: tokJSON})
	if err != nil {
		return err
	}
	store, err := gdrive.New(ctx, cfg.GoogleDriveFolder, cfg.GoogleDriveFile, opts...)
	if err != nil {
		return err
	}
	snap, err := store.Fetch(ctx)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		fmt.Printf("No ledger in %s/%s yet; the first write creates it.\n", cfg.GoogleDriveFolder, cfg.GoogleDriveFile)
		return nil
	case err != nil:
		return err
	}
	fmt.Printf("Found ledger %s/%s (revision %s, %d bytes).\n",
		cfg.GoogleDriveFolder, cfg.GoogleDriveFile, snap.Revision, len(snap.Data))
	return nil
}
