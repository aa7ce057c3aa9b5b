package custody

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/elly-po/copiAlpha-sub000/executor"
	"github.com/elly-po/copiAlpha-sub000/models"
)

// HTTPResolver fetches decrypted signing material from the external custody
// sidecar and wraps it as an executor.Signer. Key storage and decryption
// stay on the custody side.
type HTTPResolver struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPResolver builds a resolver against the custody service.
func NewHTTPResolver(baseURL string, timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPResolver{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type keyResponse struct {
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"` // base64 ed25519 private key
}

// Resolve returns the signing capability for the user's signer reference.
func (r *HTTPResolver) Resolve(ctx context.Context, user models.User) (executor.Signer, error) {
	if user.SignerRef == "" {
		return nil, fmt.Errorf("user %d has no signer reference", user.ID)
	}

	reqURL := r.baseURL + "/keys/" + url.PathEscape(user.SignerRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("custody request for user %d: %w", user.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("custody returned %d for user %d: %s", resp.StatusCode, user.ID, body)
	}

	var kr keyResponse
	if err := json.NewDecoder(resp.Body).Decode(&kr); err != nil {
		return nil, fmt.Errorf("decode custody response: %w", err)
	}

	priv, err := base64.StdEncoding.DecodeString(kr.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing material for user %d: %w", user.ID, err)
	}
	return executor.NewLocalSigner(kr.PublicKey, priv)
}
