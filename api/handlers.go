package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/imgsieve"
)

func tokenFromRequest(r *http.Request) string {
	return chi.URLParam(r, "token")
}

type openSessionResponse struct {
	Token   string `json:"token"`
	NImages int    `json:"n_images"`
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	triage, err := s.coll.NewSession()
	if err != nil {
		s.writeError(w, err)
		return
	}

	token := s.sessions.add(triage)

	s.logger.Info("session opened", "n_sessions", s.sessions.len())
	s.writeJSON(w, http.StatusCreated, openSessionResponse{
		Token:   token,
		NImages: s.coll.N(),
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	s.sessions.remove(tokenFromRequest(r))
	s.logger.Info("session closed", "n_sessions", s.sessions.len())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBucketInfo(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	s.writeJSON(w, http.StatusOK, sess.triage.BucketInfo())
}

type viewDataResponse struct {
	Entries   []imgsieve.ViewEntry `json:"entries"`
	ImageURLs map[int]string       `json:"image_urls,omitempty"`
}

func (s *Server) handleBucketViewData(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	id, err := strconv.Atoi(r.URL.Query().Get("bucket_id"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bucket_id must be an integer"})
		return
	}
	sortBy := r.URL.Query().Get("sort_by")

	entries, err := sess.triage.BucketViewData(id, sortBy)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.decorateViewData(entries))
}

func (s *Server) decorateViewData(entries []imgsieve.ViewEntry) viewDataResponse {
	resp := viewDataResponse{Entries: entries}
	if s.opts.ImageBaseURL != "" {
		resp.ImageURLs = make(map[int]string, len(entries))
		for _, e := range entries {
			resp.ImageURLs[e.ID] = s.imageURL(e.ID)
		}
	}
	return resp
}

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	created, err := sess.triage.CreateBucket()
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, created)
}

type bucketRequest struct {
	BucketID int `json:"bucket_id"`
}

func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var req bucketRequest
	if err := decode(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := sess.triage.DeleteBucket(req.BucketID); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type renameBucketRequest struct {
	BucketID int    `json:"bucket_id"`
	Name     string `json:"new_bucket_name"`
}

func (s *Server) handleRenameBucket(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var req renameBucketRequest
	if err := decode(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := sess.triage.RenameBucket(req.BucketID, req.Name); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type swapBucketsRequest struct {
	Bucket1ID int `json:"bucket1_id"`
	Bucket2ID int `json:"bucket2_id"`
}

func (s *Server) handleSwapBuckets(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var req swapBucketsRequest
	if err := decode(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := sess.triage.SwapBuckets(req.Bucket1ID, req.Bucket2ID); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleBucket(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var req bucketRequest
	if err := decode(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	res, err := sess.triage.ToggleBucket(req.BucketID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

// roundResponse augments a round with the thumbnail URLs of the suggested
// images when an image base is configured.
type roundResponse struct {
	*imgsieve.RoundResult
	ImageURLs map[int]string `json:"image_urls,omitempty"`
}

// handleInteractionRound takes the feedback map as the whole request body:
// image ids as keys, assigned bucket ids (or null) as values.
func (s *Server) handleInteractionRound(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var feedback imgsieve.Feedback
	if err := decode(r, &feedback); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	round, err := sess.triage.InteractionRound(r.Context(), feedback)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.decorateRound(round))
}

func (s *Server) handleToggleMode(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	round, err := sess.triage.ToggleMode(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.decorateRound(round))
}

type gridSetSizeRequest struct {
	Dim  string `json:"dim"`
	Size int    `json:"new_size"`
}

func (s *Server) handleGridSetSize(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var req gridSetSizeRequest
	if err := decode(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	round, err := sess.triage.GridSetSize(r.Context(), req.Dim, req.Size)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.decorateRound(round))
}

type transferImagesRequest struct {
	Images    []int  `json:"images"`
	BucketSrc int    `json:"bucket_src"`
	BucketDst int    `json:"bucket_dst"`
	Mode      string `json:"mode"`
	SortBy    string `json:"sort_by"`
}

func (s *Server) handleTransferImages(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var req transferImagesRequest
	if err := decode(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := sess.triage.TransferImages(r.Context(), req.Images, req.BucketSrc, req.BucketDst, req.Mode); err != nil {
		s.writeError(w, err)
		return
	}

	// The client renders the source bucket's refreshed listing in place.
	entries, err := sess.triage.BucketViewData(req.BucketSrc, req.SortBy)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.decorateViewData(entries))
}

type fastForwardRequest struct {
	Bucket int `json:"bucket"`
	N      int `json:"n_ff"`
}

// ffBucketRequest addresses the pending fast-forward stage of a bucket.
type ffBucketRequest struct {
	Bucket int `json:"bucket"`
}

func (s *Server) handleFastForward(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var req fastForwardRequest
	if err := decode(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := sess.triage.FastForward(r.Context(), req.Bucket, req.N); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFFCommit(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var req ffBucketRequest
	if err := decode(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := sess.triage.FFCommit(r.Context(), req.Bucket); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFFDiscard(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	var req ffBucketRequest
	if err := decode(r, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := sess.triage.FFDiscard(r.Context(), req.Bucket); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decorateRound(round *imgsieve.RoundResult) roundResponse {
	resp := roundResponse{RoundResult: round}
	if s.opts.ImageBaseURL == "" {
		return resp
	}

	resp.ImageURLs = make(map[int]string)
	if round.Grid != nil {
		for _, sugg := range round.Grid.Images {
			resp.ImageURLs[sugg.Image] = s.imageURL(sugg.Image)
		}
	}
	if round.Tetris != nil {
		resp.ImageURLs[round.Tetris.Image] = s.imageURL(round.Tetris.Image)
	}

	return resp
}

func (s *Server) imageURL(id int) string {
	return fmt.Sprintf("%s/%d.jpg", s.opts.ImageBaseURL, id)
}
