package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/driver-session/internal/models"
)

// Nominatim reverse-geocodes against an OpenStreetMap Nominatim server.
// Requests are limited to one per second, the public instance's policy.
type Nominatim struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
	limiter   *rate.Limiter
}

func NewNominatim(endpoint string) *Nominatim {
	return &Nominatim{
		Endpoint:  strings.TrimRight(endpoint, "/"),
		UserAgent: "driver-session/1.0",
		Client:    &http.Client{Timeout: 3 * time.Second},
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// WithLimit replaces the request rate limit.
func (n *Nominatim) WithLimit(l rate.Limit, burst int) *Nominatim {
	n.limiter = rate.NewLimiter(l, burst)
	return n
}

func (n *Nominatim) Reverse(ctx context.Context, p models.GeoPoint) (string, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(p.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(p.Lon, 'f', -1, 64))
	q.Set("format", "json")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.Endpoint+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", n.UserAgent)

	resp, err := n.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("nominatim status %d", resp.StatusCode)
	}
	var out struct {
		DisplayName string `json:"display_name"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Error != "" || out.DisplayName == "" {
		return "", fmt.Errorf("%w: %s", ErrNoResult, out.Error)
	}
	return out.DisplayName, nil
}
