// Package pricing calls the price-comparison service for an informational
// estimate of what a listing should rent for.
package pricing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/yourorg/rental-discovery/internal/discovery"
)

var ErrNoEstimate = errors.New("pricing: service returned no estimate")

type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 900 * time.Millisecond
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: rc}
}

type predictRequest struct {
	ListingID  int64    `json:"listing_id"`
	Address    string   `json:"address"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
	Price      float64  `json:"price"`
	Capacity   int      `json:"capacity"`
	Amenities  []string `json:"amenities"`
	TotalUnits int      `json:"total_units"`
}

type predictResponse struct {
	PredictedPrice *float64 `json:"predicted_price"`
	Lower          *float64 `json:"lower"`
	Upper          *float64 `json:"upper"`
}

// Estimate implements discovery.PriceEstimator.
func (c *Client) Estimate(ctx context.Context, l discovery.Listing) (discovery.PriceEstimate, error) {
	body := predictRequest{
		ListingID:  l.ID,
		Address:    l.Address,
		Price:      l.Price,
		Capacity:   l.Capacity,
		Amenities:  l.Amenities,
		TotalUnits: l.TotalUnits,
	}
	if body.Amenities == nil {
		body.Amenities = []string{}
	}
	if l.HasCoordinates() {
		body.Lat, body.Lng = &l.Coordinates.Lat, &l.Coordinates.Lng
	}
	b, err := json.Marshal(body)
	if err != nil {
		return discovery.PriceEstimate{}, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(b))
	if err != nil {
		return discovery.PriceEstimate{}, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return discovery.PriceEstimate{}, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return discovery.PriceEstimate{}, err
	}
	if resp.StatusCode >= 400 {
		return discovery.PriceEstimate{}, fmt.Errorf("pricing error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out predictResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return discovery.PriceEstimate{}, fmt.Errorf("decode prediction: %w", err)
	}
	if out.PredictedPrice == nil {
		return discovery.PriceEstimate{}, ErrNoEstimate
	}
	return discovery.PriceEstimate{
		ListingID: l.ID,
		Predicted: *out.PredictedPrice,
		Lower:     out.Lower,
		Upper:     out.Upper,
	}, nil
}
