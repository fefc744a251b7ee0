package campaignload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenAds/loader/internal/config"
	"github.com/OpenAds/loader/internal/task"
	"github.com/OpenAds/loader/internal/tiktok"
)

const previewURL = "https://cdn.platform.test/preview.mp4"

// fakePlatform records every request and answers from its configured state.
type fakePlatform struct {
	mu sync.Mutex

	advertisers   map[string]tiktok.Advertiser
	pixels        map[string][]tiktok.Pixel
	videoFailures int
	campaignErr   error

	videoCalls  int
	videoURLs   []string
	imageURLs   []string
	coverCalls  int
	campaigns   []tiktok.CampaignCreateRequest
	adGroups    []tiktok.AdGroupCreateRequest
	adRequests  []tiktok.AdCreateRequest
	lookedUpIDs [][]string
}

func newFakePlatform(advertisers ...tiktok.Advertiser) *fakePlatform {
	p := &fakePlatform{
		advertisers: make(map[string]tiktok.Advertiser),
		pixels:      make(map[string][]tiktok.Pixel),
	}
	for _, adv := range advertisers {
		p.advertisers[adv.ID.String()] = adv
	}
	return p
}

func (p *fakePlatform) AdvertiserInfo(_ context.Context, _ tiktok.Credentials, ids []string) ([]tiktok.Advertiser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lookedUpIDs = append(p.lookedUpIDs, ids)
	var out []tiktok.Advertiser
	for _, id := range ids {
		if adv, ok := p.advertisers[id]; ok {
			out = append(out, adv)
		}
	}
	return out, nil
}

func (p *fakePlatform) PixelList(_ context.Context, _ tiktok.Credentials, advertiserID string) ([]tiktok.Pixel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pixels[advertiserID], nil
}

func (p *fakePlatform) UploadImageByURL(_ context.Context, _ tiktok.Credentials, req tiktok.ImageUploadRequest) (tiktok.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.imageURLs = append(p.imageURLs, req.ImageURL)
	return tiktok.ID("img-" + req.AdvertiserID), nil
}

func (p *fakePlatform) UploadVideoByURL(_ context.Context, _ tiktok.Credentials, req tiktok.VideoUploadRequest) (tiktok.UploadedVideo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.videoCalls++
	p.videoURLs = append(p.videoURLs, req.VideoURL)
	if p.videoFailures > 0 {
		p.videoFailures--
		return tiktok.UploadedVideo{}, fmt.Errorf("video upload failed #%d", p.videoCalls)
	}
	return tiktok.UploadedVideo{ID: tiktok.ID("vid-" + req.AdvertiserID), URL: previewURL}, nil
}

func (p *fakePlatform) SuggestCovers(_ context.Context, _ tiktok.Credentials, _ string, videoID tiktok.ID, _ int) ([]tiktok.Cover, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coverCalls++
	return []tiktok.Cover{{ID: "cover-" + videoID}, {ID: "other"}}, nil
}

func (p *fakePlatform) CreateCampaign(_ context.Context, _ tiktok.Credentials, req tiktok.CampaignCreateRequest) (tiktok.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.campaigns = append(p.campaigns, req)
	if p.campaignErr != nil {
		return "", p.campaignErr
	}
	return tiktok.ID("cmp-" + req.AdvertiserID), nil
}

func (p *fakePlatform) CreateAdGroup(_ context.Context, _ tiktok.Credentials, req tiktok.AdGroupCreateRequest) (tiktok.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adGroups = append(p.adGroups, req)
	return tiktok.ID("adg-" + req.AdvertiserID), nil
}

func (p *fakePlatform) CreateAds(_ context.Context, _ tiktok.Credentials, req tiktok.AdCreateRequest) ([]tiktok.ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adRequests = append(p.adRequests, req)
	ids := make([]tiktok.ID, len(req.Creatives))
	for i := range req.Creatives {
		ids[i] = tiktok.ID(fmt.Sprintf("ad-%s-%d", req.AdvertiserID, i))
	}
	return ids, nil
}

type fakeMedia struct{}

func (fakeMedia) ProfileImageURL(_ context.Context, tenantID, id string) (string, error) {
	return "https://media.test/" + tenantID + "/image/" + id, nil
}

func (fakeMedia) VideoCreativeURL(_ context.Context, tenantID, id string) (string, error) {
	if id == "missing" {
		return "", errors.New("media not found")
	}
	return "https://media.test/" + tenantID + "/video/" + id, nil
}

// fakeConverter uses units of base currency per unit of the target currency.
type fakeConverter map[string]float64

func (c fakeConverter) Convert(amount float64, currency string) (float64, error) {
	if currency == "RUB" {
		return amount, nil
	}
	rate, ok := c[currency]
	if !ok {
		return 0, fmt.Errorf("unknown currency %s", currency)
	}
	return amount / rate, nil
}

var testNow = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

func newTestWorkflow(platform Platform) *Workflow {
	w := NewWorkflow(platform, fakeMedia{}, fakeConverter{"USD": 100}, config.WorkflowConfig{
		DefaultBudget: 2000,
		ScheduleYears: 10,
	})
	w.now = func() time.Time { return testNow }
	return w
}

func testLoad(objective tiktok.Objective, advertisers ...string) Load {
	load := Load{
		Name:        "spring launch",
		Advertisers: advertisers,
		Campaign:    Campaign{Name: "Spring", Objective: objective},
		AdGroup: AdGroup{
			Location:         []string{"6252001"},
			OptimizationGoal: tiktok.OptimizeClick,
			BidType:          tiktok.BidTypeCustom,
			Bid:              500,
		},
		Ads: []Ad{{
			Name:           "ad one",
			Title:          "Brand",
			Text:           "Buy now",
			Creative:       "video-1",
			ProfileImage:   "image-1",
			LandingPageURL: "https://shop.test/landing?utm=1",
			CallToAction:   "SHOP_NOW",
		}},
	}
	if objective == tiktok.ObjectiveConversions {
		load.AdGroup.OptimizationGoal = tiktok.OptimizeConversion
	}
	load.normalize(testNow, 2000)
	return load
}

func credentialsFor(ids ...string) map[string]tiktok.Credentials {
	out := make(map[string]tiktok.Credentials, len(ids))
	for _, id := range ids {
		out[id] = tiktok.Credentials{AppID: "app", AccessToken: "token-" + id}
	}
	return out
}

func runLoad(t *testing.T, w *Workflow, load Load, credentials map[string]tiktok.Credentials) *task.Task {
	t.Helper()
	tk, err := task.New(load.Name, task.TypeCampaignLoad, len(load.Advertisers), w)
	require.NoError(t, err)
	tk.Init(load, Payload{TenantID: "tenant-1", Credentials: credentials})
	require.NoError(t, tk.Run(context.Background()))
	return tk
}

// entry returns the first log entry with the given description at or after from.
func entry(t *testing.T, log []task.SubtaskEntry, from int, description string) (task.SubtaskEntry, int) {
	t.Helper()
	for i := from; i < len(log); i++ {
		if log[i].Description == description {
			return log[i], i
		}
	}
	t.Fatalf("no log entry %q after index %d", description, from)
	return task.SubtaskEntry{}, -1
}

func TestWorkflowPixelPreconditionAndFullSuccess(t *testing.T) {
	platform := newFakePlatform(
		tiktok.Advertiser{ID: "A", Currency: "RUB"},
		tiktok.Advertiser{ID: "B", Currency: "RUB"},
	)
	platform.pixels["A"] = []tiktok.Pixel{{ID: "p1"}, {ID: "p2"}}
	platform.pixels["B"] = []tiktok.Pixel{{
		ID:     "pixel-b",
		Code:   "CODE_B",
		Events: []tiktok.PixelEvent{{ExternalAction: "SHOPPING", Name: "buy"}},
	}}

	w := newTestWorkflow(platform)
	load := testLoad(tiktok.ObjectiveConversions, "A", "B")
	tk := runLoad(t, w, load, credentialsFor("A", "B"))

	assert.Equal(t, task.Progress{Success: 50, Failure: 50}, tk.Progress())

	log := tk.Log()
	advA, start := entry(t, log, 0, "Load to advertiser A")
	assert.False(t, advA.Succeeded)
	assert.Contains(t, advA.Error, "found 2 pixels")

	pixelA, _ := entry(t, log, start, "Check for 1 pixel with 1 event")
	assert.True(t, pixelA.Done)
	assert.False(t, pixelA.Succeeded)
	assert.Contains(t, pixelA.Error, errPixelRule.Error())

	_, startB := entry(t, log, start, "Load to advertiser B")
	for _, e := range log[startB:] {
		assert.True(t, e.Done, e.Description)
		assert.True(t, e.Succeeded, e.Description)
		assert.Empty(t, e.Error, e.Description)
	}
	entry(t, log, startB, "Account currency RUB")
	entry(t, log, startB, "Upload profile image")
	entry(t, log, startB, "Upload video creative")
	entry(t, log, startB, "Select video cover")
	entry(t, log, startB, "Create campaign")
	entry(t, log, startB, "Create ad group")
	entry(t, log, startB, "Create ads")

	require.Len(t, platform.campaigns, 1, "advertiser A stops at the pixel check")
	require.Len(t, platform.adGroups, 1)
	group := platform.adGroups[0]
	assert.Equal(t, tiktok.ID("pixel-b"), group.PixelID)
	assert.Equal(t, "SHOPPING", group.ExternalAction)
	assert.Equal(t, tiktok.BillingOCPM, group.BillingEvent)

	require.Len(t, platform.adRequests, 1)
	creative := platform.adRequests[0].Creatives[0]
	assert.Equal(t, "https://shop.test/landing?utm=1&pixel=CODE_B", creative.LandingPageURL)
	assert.Equal(t, "Brand", creative.DisplayName)
	assert.Equal(t, tiktok.ID("img-B"), creative.AvatarIconWebURI)
	assert.Equal(t, tiktok.ID("vid-B"), creative.VideoID)
	assert.Equal(t, []tiktok.ID{"cover-vid-B"}, creative.ImageIDs)

	require.True(t, tk.Retryable())
	require.NoError(t, tk.Retry(context.Background()))
	retried, ok := tk.Model().(Load)
	require.True(t, ok)
	assert.Equal(t, []string{"A"}, retried.Advertisers)
	assert.Equal(t, task.Progress{Success: 50, Failure: 50}, tk.Progress())
}

func TestWorkflowVideoSucceedsOnThirdAttempt(t *testing.T) {
	platform := newFakePlatform(tiktok.Advertiser{ID: "A", Currency: "RUB"})
	platform.videoFailures = 2

	tk := runLoad(t, newTestWorkflow(platform), testLoad(tiktok.ObjectiveTraffic, "A"), credentialsFor("A"))

	log := tk.Log()
	video, at := entry(t, log, 0, "Upload video creative")
	assert.True(t, video.Done)
	assert.True(t, video.Succeeded)
	assert.Empty(t, video.Error)

	cover, _ := entry(t, log, at, "Select video cover")
	assert.True(t, cover.Succeeded)
	assert.Equal(t, 1, platform.coverCalls)
	assert.Equal(t, 3, platform.videoCalls)
	for _, u := range platform.videoURLs {
		assert.Equal(t, "https://media.test/tenant-1/video/video-1", u)
	}
	assert.Equal(t, task.Progress{Success: 100}, tk.Progress())
	assert.False(t, tk.Retryable())
}

func TestWorkflowVideoExhaustedStillCreatesAds(t *testing.T) {
	platform := newFakePlatform(tiktok.Advertiser{ID: "A", Currency: "RUB"})
	platform.videoFailures = 3

	tk := runLoad(t, newTestWorkflow(platform), testLoad(tiktok.ObjectiveTraffic, "A"), credentialsFor("A"))

	log := tk.Log()
	video, at := entry(t, log, 0, "Upload video creative")
	assert.False(t, video.Succeeded)
	assert.Equal(t, "video upload failed #3", video.Error)

	cover, _ := entry(t, log, at, "Select video cover")
	assert.False(t, cover.Succeeded)
	assert.Equal(t, errNoVideo.Error(), cover.Error)
	assert.Zero(t, platform.coverCalls)

	media, _ := entry(t, log, 0, `Upload media for ad "ad one" (1/1)`)
	assert.False(t, media.Succeeded)

	assert.Len(t, platform.campaigns, 1)
	assert.Len(t, platform.adGroups, 1)
	require.Len(t, platform.adRequests, 1)
	assert.Empty(t, platform.adRequests[0].Creatives[0].VideoID)
	assert.Empty(t, platform.adRequests[0].Creatives[0].ImageIDs)
}

func TestWorkflowReusesPlatformPreview(t *testing.T) {
	platform := newFakePlatform(
		tiktok.Advertiser{ID: "A", Currency: "RUB"},
		tiktok.Advertiser{ID: "B", Currency: "RUB"},
	)

	runLoad(t, newTestWorkflow(platform), testLoad(tiktok.ObjectiveTraffic, "A", "B"), credentialsFor("A", "B"))

	assert.Equal(t, []string{"https://media.test/tenant-1/video/video-1", previewURL}, platform.videoURLs)
	assert.Equal(t, []string{"https://media.test/tenant-1/image/image-1", "https://media.test/tenant-1/image/image-1"}, platform.imageURLs)
}

func TestWorkflowUnresolvableCreativeIsNotRetried(t *testing.T) {
	platform := newFakePlatform(tiktok.Advertiser{ID: "A", Currency: "RUB"})
	load := testLoad(tiktok.ObjectiveTraffic, "A")
	load.Ads[0].Creative = "missing"

	tk := runLoad(t, newTestWorkflow(platform), load, credentialsFor("A"))

	video, _ := entry(t, tk.Log(), 0, "Upload video creative")
	assert.Equal(t, "media not found", video.Error)
	assert.Zero(t, platform.videoCalls)
}

func TestWorkflowConvertsAmountsAndSchedules(t *testing.T) {
	platform := newFakePlatform(tiktok.Advertiser{ID: "A", Currency: "usd"})
	load := testLoad(tiktok.ObjectiveTraffic, "A")
	load.AdGroup.Budget = 3000

	runLoad(t, newTestWorkflow(platform), load, credentialsFor("A"))

	require.Len(t, platform.campaigns, 1)
	assert.Equal(t, tiktok.BudgetModeInfinite, platform.campaigns[0].BudgetMode)
	assert.Zero(t, platform.campaigns[0].Budget)

	require.Len(t, platform.adGroups, 1)
	group := platform.adGroups[0]
	assert.Equal(t, 5.0, group.Bid)
	assert.Equal(t, 30.0, group.Budget)
	assert.Equal(t, tiktok.BudgetModeDay, group.BudgetMode)
	assert.Equal(t, tiktok.BillingCPC, group.BillingEvent)
	assert.Equal(t, "2026-01-02 15:04:05", group.ScheduleStartTime)
	assert.Equal(t, "2036-01-02 15:04:05", group.ScheduleEndTime)
	assert.Empty(t, group.PixelID)
	assert.Equal(t, "https://shop.test/landing?utm=1", platform.adRequests[0].Creatives[0].LandingPageURL)
}

func TestWorkflowConversionFailureFailsAdGroup(t *testing.T) {
	platform := newFakePlatform(tiktok.Advertiser{ID: "A", Currency: "EUR"})

	tk := runLoad(t, newTestWorkflow(platform), testLoad(tiktok.ObjectiveTraffic, "A"), credentialsFor("A"))

	group, _ := entry(t, tk.Log(), 0, "Create ad group")
	assert.False(t, group.Succeeded)
	assert.Contains(t, group.Error, "unknown currency EUR")
	assert.Empty(t, platform.adGroups)
	assert.Empty(t, platform.adRequests)
	assert.Equal(t, task.Progress{Failure: 100}, tk.Progress())
}

func TestWorkflowCampaignFailureFailsAdvertiser(t *testing.T) {
	platform := newFakePlatform(tiktok.Advertiser{ID: "A", Currency: "RUB"})
	platform.campaignErr = &tiktok.APIError{Code: 40002, Message: "budget too low"}

	tk := runLoad(t, newTestWorkflow(platform), testLoad(tiktok.ObjectiveTraffic, "A"), credentialsFor("A"))

	adv, _ := entry(t, tk.Log(), 0, "Load to advertiser A")
	assert.False(t, adv.Succeeded)
	assert.True(t, strings.HasPrefix(adv.Error, "create campaign: "))
	assert.Empty(t, platform.adGroups)
	assert.Equal(t, task.Progress{Failure: 100}, tk.Progress())
	assert.True(t, tk.Retryable())
}

func TestWorkflowMissingCredentialsAndAccess(t *testing.T) {
	platform := newFakePlatform(tiktok.Advertiser{ID: "A", Currency: "RUB"})

	tk := runLoad(t, newTestWorkflow(platform), testLoad(tiktok.ObjectiveTraffic, "A", "B", "C"), credentialsFor("A", "C"))

	log := tk.Log()
	b, _ := entry(t, log, 0, "Load to advertiser B")
	assert.Equal(t, errNoCredentials.Error(), b.Error)
	c, _ := entry(t, log, 0, "Load to advertiser C")
	assert.Equal(t, errNoAccess.Error(), c.Error)

	assert.Equal(t, task.Progress{Success: 33, Failure: 66}, tk.Progress())
	assert.Equal(t, [][]string{{"A"}, {"C"}}, platform.lookedUpIDs)
}

func TestWorkflowSkipsAdsWithoutCreative(t *testing.T) {
	platform := newFakePlatform(tiktok.Advertiser{ID: "A", Currency: "RUB"})
	load := testLoad(tiktok.ObjectiveTraffic, "A")
	second := load.Ads[0]
	second.Name = "ad two"
	second.Creative = ""
	load.Ads = append(load.Ads, second)

	tk := runLoad(t, newTestWorkflow(platform), load, credentialsFor("A"))

	skipped, _ := entry(t, tk.Log(), 0, `Upload media for ad "ad two" (2/2)`)
	assert.Equal(t, errNoCreative.Error(), skipped.Error)
	require.Len(t, platform.adRequests, 1)
	assert.Len(t, platform.adRequests[0].Creatives, 1)

	load.Ads = load.Ads[1:]
	platform.adRequests = nil
	tk = runLoad(t, newTestWorkflow(platform), load, credentialsFor("A"))
	ads, _ := entry(t, tk.Log(), 0, "Create ads")
	assert.Equal(t, errNoAds.Error(), ads.Error)
	assert.Empty(t, platform.adRequests)
}

func TestWorkflowRejectsUnexpectedInput(t *testing.T) {
	tk, err := task.New("broken", task.TypeCampaignLoad, 2, newTestWorkflow(newFakePlatform()))
	require.NoError(t, err)
	tk.Init("not a load", nil)
	require.NoError(t, tk.Run(context.Background()))

	assert.Equal(t, task.Progress{Failure: 100}, tk.Progress())
	require.Len(t, tk.Log(), 1)
	assert.Equal(t, "invalid task input", tk.Log()[0].Error)
}

func TestWithPixel(t *testing.T) {
	assert.Equal(t, "https://shop.test/?pixel=ABC", withPixel("https://shop.test/", "ABC"))
	assert.Equal(t, "https://shop.test/p?a=1&pixel=A%26B", withPixel("https://shop.test/p?a=1", "A&B"))
}
