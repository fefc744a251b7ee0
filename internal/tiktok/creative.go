package tiktok

import (
	"context"
	"fmt"
	"net/http"
)

const (
	endpointImageUpload = "/v1.2/file/image/ad/upload/"
	endpointVideoUpload = "/v1.2/file/video/ad/upload/"
	endpointVideoCover  = "/v1.2/file/video/suggestcover/"
)

type ImageUploadRequest struct {
	AdvertiserID string     `json:"advertiser_id"`
	UploadType   UploadType `json:"upload_type"`
	FileName     string     `json:"file_name,omitempty"`
	ImageURL     string     `json:"image_url"`
}

type VideoUploadRequest struct {
	AdvertiserID string     `json:"advertiser_id"`
	UploadType   UploadType `json:"upload_type"`
	FileName     string     `json:"file_name,omitempty"`
	VideoURL     string     `json:"video_url"`
}

// UploadedVideo is a video stored on the platform. URL is a platform-hosted
// copy that later uploads to other advertisers can fetch from.
type UploadedVideo struct {
	ID  ID     `json:"video_id"`
	URL string `json:"url"`
}

type Cover struct {
	ID     ID     `json:"id"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type coverList struct {
	List []Cover `json:"list"`
}

type imageUploaded struct {
	ImageID ID `json:"image_id"`
}

// UploadImageByURL has the platform fetch an image and returns its image ID.
func (c *Client) UploadImageByURL(ctx context.Context, creds Credentials, req ImageUploadRequest) (ID, error) {
	if req.UploadType == "" {
		req.UploadType = UploadByURL
	}
	var out imageUploaded
	if err := c.call(ctx, creds, http.MethodPost, endpointImageUpload, req, &out); err != nil {
		return "", err
	}
	if out.ImageID == "" {
		return "", fmt.Errorf("%w: image upload returned no image_id", ErrUnexpectedResponse)
	}
	return out.ImageID, nil
}

// UploadVideoByURL has the platform fetch a video.
func (c *Client) UploadVideoByURL(ctx context.Context, creds Credentials, req VideoUploadRequest) (UploadedVideo, error) {
	if req.UploadType == "" {
		req.UploadType = UploadByURL
	}
	var out []UploadedVideo
	if err := c.call(ctx, creds, http.MethodPost, endpointVideoUpload, req, &out); err != nil {
		return UploadedVideo{}, err
	}
	if len(out) == 0 || out[0].ID == "" {
		return UploadedVideo{}, fmt.Errorf("%w: video upload returned no video", ErrUnexpectedResponse)
	}
	return out[0], nil
}

// SuggestCovers returns cover candidates generated from an uploaded video.
func (c *Client) SuggestCovers(ctx context.Context, creds Credentials, advertiserID string, videoID ID, count int) ([]Cover, error) {
	payload := map[string]any{
		"advertiser_id": advertiserID,
		"video_id":      videoID,
		"poster_number": count,
	}
	var out coverList
	if err := c.call(ctx, creds, http.MethodGet, endpointVideoCover, payload, &out); err != nil {
		return nil, err
	}
	return out.List, nil
}
