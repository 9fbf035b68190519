package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const userinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// ErrIncompleteProfile rejects provider payloads missing the fields the user
// row requires. The dynamic payload is narrowed here, at the boundary.
var ErrIncompleteProfile = errors.New("oauth profile missing required fields")

// Profile is the narrowed shape extracted from the provider payload.
type Profile struct {
	ID    string
	Email string
	Name  string
}

type Manager struct {
	conf *oauth2.Config

	// userinfoURL is overridable in tests; defaults to the Google endpoint.
	userinfoURL string
}

func NewGoogleManager(clientID, clientSecret, redirectURL string) *Manager {
	if clientID == "" || clientSecret == "" {
		return &Manager{}
	}
	return &Manager{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userinfoURL: userinfoURL,
	}
}

func (m *Manager) Enabled() bool {
	return m.conf != nil
}

func (m *Manager) StateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (m *Manager) AuthURL(state string) string {
	return m.conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (m *Manager) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return m.conf.Exchange(ctx, code)
}

// FetchProfile pulls userinfo with the exchanged token and validates the
// required fields before anything touches the store.
func (m *Manager) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	client := m.conf.Client(ctx, token)

	endpoint := m.userinfoURL
	if endpoint == "" {
		endpoint = userinfoURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request: status %d", resp.StatusCode)
	}

	var raw struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("userinfo decode: %w", err)
	}

	if raw.ID == "" || raw.Email == "" || raw.Name == "" {
		return nil, ErrIncompleteProfile
	}
	return &Profile{ID: raw.ID, Email: raw.Email, Name: raw.Name}, nil
}
