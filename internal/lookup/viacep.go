// Package lookup resolves postal codes to address records through a
// ViaCEP-compatible HTTP endpoint.
//
// The service contract is small: GET {base}/ws/{cep}/json/ returns either
// the address fields for a known code, or a 200 response carrying an
// "erro" flag when the code is unknown. Unknown codes are therefore a
// domain outcome (ErrNotFound), not a transport failure.
//
// No retries are performed here. A failed lookup is terminal for that
// code within the current import run; re-running the import is the
// recovery path.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotFound is returned when the lookup service explicitly reports the
// postal code as unknown (the "erro" flag in an otherwise valid response).
var ErrNotFound = errors.New("postal code not found")

// Address is the mapped lookup result for one postal code. Fields the
// service omitted are empty strings.
type Address struct {
	PostalCode   string
	Street       string
	Neighborhood string
	City         string
	StateCode    string
}

// viaCEPResponse mirrors the wire shape of the ViaCEP JSON payload.
// The "erro" field arrives as boolean true on modern deployments and as
// the string "true" on older ones; json.RawMessage absorbs both.
type viaCEPResponse struct {
	CEP        string          `json:"cep"`
	Logradouro string          `json:"logradouro"`
	Bairro     string          `json:"bairro"`
	Localidade string          `json:"localidade"`
	UF         string          `json:"uf"`
	Erro       json.RawMessage `json:"erro"`
}

// notFound reports whether the response carries the "erro" marker.
func (r viaCEPResponse) notFound() bool {
	switch string(r.Erro) {
	case "true", `"true"`:
		return true
	}
	return false
}

// Doer is the minimal HTTP client contract used by Client. *http.Client
// satisfies it; tests may substitute their own.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client resolves individual postal codes against a ViaCEP-compatible
// endpoint. The zero value is not usable; construct with NewClient.
// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    Doer
}

// NewClient returns a Client for the given base URL (no trailing slash
// required) with the given per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// NewClientWithDoer returns a Client that issues requests through the
// provided Doer. Intended for tests.
func NewClientWithDoer(baseURL string, d Doer) *Client {
	return &Client{baseURL: baseURL, http: d}
}

// Resolve fetches the address for one canonical 8-digit code.
//
// Outcomes:
//   - known code: a populated Address (missing fields as empty strings)
//   - unknown code: ErrNotFound
//   - transport/decoding problems: the underlying error
func (c *Client) Resolve(ctx context.Context, code string) (*Address, error) {
	url := fmt.Sprintf("%s/ws/%s/json/", c.baseURL, code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// ViaCEP answers 400 for malformed codes; anything non-200 is a
		// transport-level failure from the importer's point of view.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("lookup service returned status %d", resp.StatusCode)
	}

	var body viaCEPResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode lookup response: %w", err)
	}
	if body.notFound() {
		return nil, ErrNotFound
	}

	return &Address{
		PostalCode:   code,
		Street:       body.Logradouro,
		Neighborhood: body.Bairro,
		City:         body.Localidade,
		StateCode:    body.UF,
	}, nil
}
