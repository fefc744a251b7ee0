package tiktok

import (
	"context"
	"net/http"
)

const (
	endpointAdvertiserInfo = "/v1.2/advertiser/info/"
	endpointPixelList      = "/v1.1/pixel/list/"

	advertiserInfoBatch = 100
	pixelPageSize       = 20
)

var advertiserInfoFields = []string{"id", "status", "currency", "name"}

type Advertiser struct {
	ID       ID     `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Currency string `json:"currency"`
}

type PixelEvent struct {
	ExternalAction string `json:"external_action"`
	Name           string `json:"name"`
	Code           string `json:"code"`
}

type Pixel struct {
	ID     ID           `json:"pixel_id"`
	Code   string       `json:"pixel_code"`
	Name   string       `json:"pixel_name"`
	Events []PixelEvent `json:"events"`
}

type pixelList struct {
	Pixels []Pixel `json:"pixels"`
}

// AdvertiserInfo returns account info for the given advertisers, requesting
// them in batches of 100. Advertisers the token cannot access are absent.
func (c *Client) AdvertiserInfo(ctx context.Context, creds Credentials, advertiserIDs []string) ([]Advertiser, error) {
	var all []Advertiser
	for start := 0; start < len(advertiserIDs); start += advertiserInfoBatch {
		end := min(start+advertiserInfoBatch, len(advertiserIDs))
		payload := map[string]any{
			"advertiser_ids": advertiserIDs[start:end],
			"fields":         advertiserInfoFields,
		}
		var batch []Advertiser
		if err := c.call(ctx, creds, http.MethodGet, endpointAdvertiserInfo, payload, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}
	return all, nil
}

// PixelList returns the first page of pixels of an advertiser.
func (c *Client) PixelList(ctx context.Context, creds Credentials, advertiserID string) ([]Pixel, error) {
	payload := map[string]any{
		"advertiser_id": advertiserID,
		"page_size":     pixelPageSize,
	}
	var out pixelList
	if err := c.call(ctx, creds, http.MethodGet, endpointPixelList, payload, &out); err != nil {
		return nil, err
	}
	return out.Pixels, nil
}
