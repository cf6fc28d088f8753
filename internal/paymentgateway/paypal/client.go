package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frahmantamala/payment-gateway/internal"
)

// tokenSkew renews the access token a little before PayPal expires it.
const tokenSkew = 30 * time.Second

type apiError struct {
	StatusCode int
	Name       string `json:"name"`
	Message    string `json:"message"`
	DebugID    string `json:"debug_id"`
	Details    []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
}

func (e *apiError) Error() string {
	msg := e.Message
	if len(e.Details) > 0 && e.Details[0].Issue != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details[0].Issue)
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("paypal returned %d %s: %s", e.StatusCode, e.Name, msg)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// accessToken returns the cached bearer token or fetches a new one. Concurrent
// callers may fetch twice; the last token written wins.
func (g *Gateway) accessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	if g.token != "" && g.now().Before(g.tokenExpiry) {
		token := g.token
		g.mu.Unlock()
		return token, nil
	}
	g.mu.Unlock()

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(g.clientID, g.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var token tokenResponse
	if err := g.send(req, &token); err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", errors.New("paypal token response carried no access token")
	}

	g.mu.Lock()
	g.token = token.AccessToken
	g.tokenExpiry = g.now().Add(time.Duration(token.ExpiresIn)*time.Second - tokenSkew)
	g.mu.Unlock()

	g.logger.Debug("paypal access token refreshed", "expires_in", token.ExpiresIn)
	return token.AccessToken, nil
}

func (g *Gateway) invalidateToken() {
	g.mu.Lock()
	g.token = ""
	g.tokenExpiry = time.Time{}
	g.mu.Unlock()
}

// call sends an authenticated JSON request. requestID becomes PayPal-Request-Id so
// PayPal deduplicates repeated attempts.
func (g *Gateway) call(ctx context.Context, method, path string, body interface{}, requestID string, out interface{}) error {
	token, err := g.accessToken(ctx)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal paypal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	return g.send(req, out)
}

func (g *Gateway) send(req *http.Request, out interface{}) error {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read paypal response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode paypal response: %w", err)
	}
	return nil
}

// classify maps a transport or API failure onto the error taxonomy. A rejected
// token is dropped so the next attempt authenticates again.
func (g *Gateway) classify(ctx context.Context, operation string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var apiErr *apiError
	if errors.As(err, &apiErr) {
		message := fmt.Sprintf("paypal %s failed: %s", operation, apiErr.Error())
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized:
			g.invalidateToken()
			return internal.NewRemoteError(message, err)
		case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode >= http.StatusInternalServerError:
			return internal.NewRemoteError(message, err)
		default:
			return internal.NewRemoteError(message, err).WithRetryable(false)
		}
	}
	return internal.NewRemoteError(fmt.Sprintf("paypal %s request failed", operation), err)
}

func isDecline(err error) bool {
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
		apiErr.StatusCode != http.StatusUnauthorized &&
		apiErr.StatusCode != http.StatusTooManyRequests
}
