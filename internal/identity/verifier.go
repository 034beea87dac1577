package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// FederatedProfile is what a verified federated token asserts about a user.
type FederatedProfile struct {
	Email   string
	Name    string
	Picture string
}

// FederatedVerifier validates a federated ID token and extracts the profile.
type FederatedVerifier interface {
	Verify(ctx context.Context, idToken string) (FederatedProfile, error)
}

// GoogleVerifier checks an ID token against Google's tokeninfo endpoint.
type GoogleVerifier struct {
	endpoint string
	client   *http.Client
}

func NewGoogleVerifier(endpoint string, timeout time.Duration) *GoogleVerifier {
	return &GoogleVerifier{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type tokenInfoResponse struct {
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (v *GoogleVerifier) Verify(ctx context.Context, idToken string) (FederatedProfile, error) {
	if idToken == "" {
		return FederatedProfile{}, fmt.Errorf("%w: empty token", ErrFederatedToken)
	}

	endpoint, err := url.Parse(v.endpoint)
	if err != nil {
		return FederatedProfile{}, fmt.Errorf("invalid tokeninfo URL: %w", err)
	}
	params := url.Values{}
	params.Set("id_token", idToken)
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint.String(), nil)
	if err != nil {
		return FederatedProfile{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return FederatedProfile{}, fmt.Errorf("tokeninfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return FederatedProfile{}, fmt.Errorf("%w: HTTP %d", ErrFederatedToken, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FederatedProfile{}, fmt.Errorf("read response body: %w", err)
	}

	var info tokenInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return FederatedProfile{}, fmt.Errorf("parse response: %w", err)
	}
	if info.Email == "" || info.EmailVerified != "true" {
		return FederatedProfile{}, fmt.Errorf("%w: email not verified", ErrFederatedToken)
	}

	return FederatedProfile{Email: info.Email, Name: info.Name, Picture: info.Picture}, nil
}
