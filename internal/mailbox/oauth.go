package mailbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
)

// GmailOAuthConfig loads an installed-app client secret file. The modify
// scope covers reading, sending and label changes.
func GmailOAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read client secret file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secret file: %w", err)
	}
	return cfg, nil
}

// AuthorizeGmail runs the interactive consent flow: it prints the consent
// URL to out, reads the authorization code from in and stores the resulting
// token at tokenFile.
func AuthorizeGmail(ctx context.Context, cfg *oauth2.Config, tokenFile string, in io.Reader, out io.Writer) error {
	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Go to the following link in your browser then type the authorization code:\n%v\n", authURL)

	var code string
	if _, err := fmt.Fscan(in, &code); err != nil {
		return fmt.Errorf("read authorization code: %w", err)
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := saveToken(tokenFile, tok); err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved token to %s\n", tokenFile)
	return nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", file, err)
	}
	return tok, nil
}

func saveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("save oauth token: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("encode oauth token: %w", err)
	}
	return nil
}
