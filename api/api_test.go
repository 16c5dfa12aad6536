package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/hupe1980/imgsieve"
	"github.com/hupe1980/imgsieve/codec"
	"github.com/hupe1980/imgsieve/testutil"
)

func newTestServer(t *testing.T, optFns ...func(o *Options)) *httptest.Server {
	t.Helper()

	vectors := testutil.NewRNG(11).ClusteredVectors(12, 6, 2, 1)

	fs, ci, err := testutil.Collection(vectors, 3, 2)
	require.NoError(t, err)

	coll, err := imgsieve.New(fs, ci, imgsieve.WithSeed(11))
	require.NoError(t, err)

	ts := httptest.NewServer(NewServer(coll, optFns...).Routes())
	t.Cleanup(ts.Close)

	return ts
}

func doJSON(t *testing.T, method, url string, body any, out any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		data, err := codec.Default.Marshal(body)
		require.NoError(t, err)
		buf.Write(data)
	}

	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		var data bytes.Buffer
		_, err = data.ReadFrom(resp.Body)
		require.NoError(t, err)
		require.NoError(t, codec.Default.Unmarshal(data.Bytes(), out))
	}

	return resp
}

func openSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()

	var opened openSessionResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/session", nil, &opened)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, opened.Token)

	return opened.Token
}

func TestSessionOpenClose(t *testing.T) {
	ts := newTestServer(t)

	var opened openSessionResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/session", nil, &opened)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 12, opened.NImages)

	base := ts.URL + "/api/session/" + opened.Token

	resp = doJSON(t, http.MethodDelete, base, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// The token is gone afterwards.
	resp = doJSON(t, http.MethodGet, base+"/bucket_info", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnknownSessionToken(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/session/bogus/bucket_info", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBucketLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/api/session/" + openSession(t, ts)

	var created imgsieve.CreatedBucket
	resp := doJSON(t, http.MethodPost, base+"/create_bucket", nil, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 2, created.BucketID)
	assert.Equal(t, "Bucket 2", created.BucketName)

	resp = doJSON(t, http.MethodPost, base+"/rename_bucket",
		map[string]any{"bucket_id": 2, "new_bucket_name": "vehicles"}, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var info imgsieve.Info
	resp = doJSON(t, http.MethodGet, base+"/bucket_info", nil, &info)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "vehicles", info.Buckets[2].Name)
	assert.Equal(t, imgsieve.DiscardID, info.BucketOrdering[len(info.BucketOrdering)-1])

	resp = doJSON(t, http.MethodPost, base+"/delete_bucket", bucketRequest{BucketID: 2}, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Deleting the last bucket violates a precondition.
	resp = doJSON(t, http.MethodPost, base+"/delete_bucket", bucketRequest{BucketID: 1}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Unknown ids are 404.
	resp = doJSON(t, http.MethodPost, base+"/delete_bucket", bucketRequest{BucketID: 42}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInteractionRoundOverHTTP(t *testing.T) {
	ts := newTestServer(t, func(o *Options) {
		o.ImageBaseURL = "http://img.test/coll"
	})
	base := ts.URL + "/api/session/" + openSession(t, ts)

	var round roundResponse
	resp := doJSON(t, http.MethodPost, base+"/interaction_round",
		imgsieve.Feedback{}, &round)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, round.Grid)
	assert.Len(t, round.Grid.Images, 12)

	first := round.Grid.Images[0].Image
	assert.Contains(t, round.ImageURLs[first], "http://img.test/coll/")

	// Assign the first suggestion to bucket 1 and request the next round.
	one := 1
	resp = doJSON(t, http.MethodPost, base+"/interaction_round",
		imgsieve.Feedback{first: &one}, &round)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries viewDataResponse
	resp = doJSON(t, http.MethodGet, base+"/bucket_view_data?bucket_id=1&sort_by=newest_first", nil, &entries)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, entries.Entries, 1)
	assert.Equal(t, first, entries.Entries[0].ID)
}

func TestTransferAndFastForwardOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/api/session/" + openSession(t, ts)

	// Train bucket 1 through the feedback path.
	one := 1
	resp := doJSON(t, http.MethodPost, base+"/interaction_round",
		imgsieve.Feedback{0: &one, 6: &one}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Copying into the discard pile is rejected.
	resp = doJSON(t, http.MethodPost, base+"/transfer_images",
		map[string]any{"images": []int{0}, "bucket_src": 1, "bucket_dst": imgsieve.DiscardID,
			"mode": imgsieve.TransferCopy, "sort_by": "newest_first"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/fast_forward",
		map[string]any{"bucket": 1, "n_ff": 2}, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	// A second stage before commit is rejected.
	resp = doJSON(t, http.MethodPost, base+"/fast_forward",
		map[string]any{"bucket": 1, "n_ff": 2}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/ff_commit", map[string]any{"bucket": 1}, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var info imgsieve.Info
	resp = doJSON(t, http.MethodGet, base+"/bucket_info", nil, &info)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4, info.Buckets[1].NumImages)
}

func TestTransferReturnsRefreshedSourceView(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/api/session/" + openSession(t, ts)

	one := 1
	resp := doJSON(t, http.MethodPost, base+"/interaction_round",
		imgsieve.Feedback{0: &one, 6: &one}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Moving an image out responds with the source bucket's updated listing.
	var view viewDataResponse
	resp = doJSON(t, http.MethodPost, base+"/transfer_images",
		map[string]any{"images": []int{0}, "bucket_src": 1, "bucket_dst": imgsieve.DiscardID,
			"mode": imgsieve.TransferMove, "sort_by": "newest_first"}, &view)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, view.Entries, 1)
	assert.Equal(t, 6, view.Entries[0].ID)
}

func TestRequestPayloadKeys(t *testing.T) {
	ts := newTestServer(t)
	base := ts.URL + "/api/session/" + openSession(t, ts)

	var created imgsieve.CreatedBucket
	resp := doJSON(t, http.MethodPost, base+"/create_bucket", nil, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/swap_buckets",
		map[string]any{"bucket1_id": 1, "bucket2_id": created.BucketID}, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var info imgsieve.Info
	resp = doJSON(t, http.MethodGet, base+"/bucket_info", nil, &info)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.BucketID, info.BucketOrdering[0])
	assert.Equal(t, 1, info.BucketOrdering[1])

	var round roundResponse
	resp = doJSON(t, http.MethodPost, base+"/grid_set_size",
		map[string]any{"dim": "rows", "new_size": 2}, &round)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, round.Grid)
}

func TestPerSessionRateLimit(t *testing.T) {
	ts := newTestServer(t, func(o *Options) {
		o.RateLimit = rate.Limit(1)
		o.Burst = 2
	})
	base := ts.URL + "/api/session/" + openSession(t, ts)

	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		resp := doJSON(t, http.MethodGet, base+"/bucket_info", nil, nil)
		statuses = append(statuses, resp.StatusCode)
	}

	assert.Contains(t, statuses, http.StatusTooManyRequests)
	assert.Equal(t, http.StatusOK, statuses[0])
}
