package httpapi

import (
	"net/http"
	"strings"

	"chatd/pkg/types"
)

// handleLoadModel godoc
//
//	@Summary		Load a model
//	@Description	Resolves the registry ID or path and starts an asynchronous load with capacity probing. Progress arrives on the event stream; poll /status for the outcome.
//	@Tags			models
//	@Accept			json
//	@Produce		json
//	@Param			request	body		types.LoadRequest	true	"model reference, optional context size and offload level"
//	@Success		202		{object}	map[string]string
//	@Failure		400		{object}	types.ErrorResponse
//	@Failure		404		{object}	types.ErrorResponse
//	@Failure		429		{object}	types.ErrorResponse
//	@Router			/models/load [post]
func handleLoadModel(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.LoadRequest
		if !readJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Model) == "" {
			writeJSONError(w, http.StatusBadRequest, "model is required")
			return
		}
		m, ok := svc.ResolveModel(req.Model)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "unknown model: "+req.Model)
			return
		}
		layers := defaultGPULayers
		if req.GPULayers != nil {
			layers = *req.GPULayers
		}
		if err := svc.LoadModel(m.Path, req.CtxSize, layers); err != nil {
			writeError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "loading", "model": m.ID})
	}
}

// handleDownload godoc
//
//	@Summary		Download a model file
//	@Description	Starts an asynchronous download into the models directory. Progress arrives on the event stream.
//	@Tags			models
//	@Accept			json
//	@Produce		json
//	@Param			request	body		types.DownloadRequest	true	"source url and destination file name"
//	@Success		202		{object}	map[string]string
//	@Failure		400		{object}	types.ErrorResponse
//	@Router			/models/download [post]
func handleDownload(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.DownloadRequest
		if !readJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.Name) == "" {
			writeJSONError(w, http.StatusBadRequest, "url and name are required")
			return
		}
		if err := svc.Download(req.URL, req.Name); err != nil {
			writeError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "downloading", "name": req.Name})
	}
}
