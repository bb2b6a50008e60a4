package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/schoolrun/schoolrun/pkg/model"
	"github.com/schoolrun/schoolrun/pkg/util"
)

// RouteServiceError is a directions-provider failure or rate limit. Callers
// keep their last good projection and log it; the next eligible refetch
// window retries naturally.
type RouteServiceError struct {
	Reason string
}

func (e *RouteServiceError) Error() string {
	return fmt.Sprintf("route service failure: %s", e.Reason)
}

type RouteLeg struct {
	DurationSeconds int
	DistanceMeters  int
}

type RouteResult struct {
	Polyline string
	Legs     []RouteLeg
}

// Directions is the external routing provider: origin, destination, at most
// 23 waypoints in, encoded polyline and per-leg durations out.
type Directions interface {
	Route(ctx context.Context, origin *model.Location, destination *model.Location, waypoints []*model.Location) (*RouteResult, error)
}

// DirectionsClient talks to a Google-Directions-shaped HTTP endpoint.
type DirectionsClient struct {
	BaseURL string
	APIKey  string

	HTTPClient *http.Client
}

func NewDirectionsClient() *DirectionsClient {
	env := util.GetEnvironmentVariables()

	return &DirectionsClient{
		BaseURL: util.GetEnvironmentVariable("SCHOOLRUN_DIRECTIONS_URL", "https://maps.googleapis.com/maps/api/directions/json"),
		APIKey:  env["SCHOOLRUN_DIRECTIONS_KEY"],

		HTTPClient: http.DefaultClient,
	}
}

type directionsResponse struct {
	Status string `json:"status"`
	Routes []struct {
		OverviewPolyline struct {
			Points string `json:"points"`
		} `json:"overview_polyline"`
		Legs []struct {
			Duration struct {
				Value int `json:"value"`
			} `json:"duration"`
			Distance struct {
				Value int `json:"value"`
			} `json:"distance"`
		} `json:"legs"`
	} `json:"routes"`
}

func formatCoordinate(location *model.Location) string {
	return fmt.Sprintf("%f,%f", location.Latitude(), location.Longitude())
}

func (c *DirectionsClient) Route(ctx context.Context, origin *model.Location, destination *model.Location, waypoints []*model.Location) (*RouteResult, error) {
	query := url.Values{}
	query.Set("origin", formatCoordinate(origin))
	query.Set("destination", formatCoordinate(destination))
	query.Set("key", c.APIKey)

	if len(waypoints) > 0 {
		var formatted []string
		for _, waypoint := range waypoints {
			formatted = append(formatted, formatCoordinate(waypoint))
		}
		query.Set("waypoints", strings.Join(formatted, "|"))
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, &RouteServiceError{Reason: err.Error()}
	}

	response, err := c.HTTPClient.Do(request)
	if err != nil {
		return nil, &RouteServiceError{Reason: err.Error()}
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, &RouteServiceError{Reason: fmt.Sprintf("provider returned HTTP %d", response.StatusCode)}
	}

	var decoded directionsResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, &RouteServiceError{Reason: err.Error()}
	}

	if decoded.Status != "OK" || len(decoded.Routes) == 0 {
		return nil, &RouteServiceError{Reason: fmt.Sprintf("provider status %s", decoded.Status)}
	}

	result := &RouteResult{
		Polyline: decoded.Routes[0].OverviewPolyline.Points,
	}

	for _, leg := range decoded.Routes[0].Legs {
		result.Legs = append(result.Legs, RouteLeg{
			DurationSeconds: leg.Duration.Value,
			DistanceMeters:  leg.Distance.Value,
		})
	}

	return result, nil
}
