package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camrelay/internal/api/models"
	"github.com/smazurov/camrelay/internal/streaming"
)

func (s *Server) registerStreamRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-streams",
		Method:      http.MethodGet,
		Path:        "/api/streams",
		Summary:     "List Streams",
		Description: "Mounted streams with their URLs, session state and pull counters",
		Tags:        []string{"streams"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.StreamListResponse, error) {
		list := s.streamList()
		return &models.StreamListResponse{Body: models.StreamListData{Streams: list, Count: len(list)}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-stream",
		Method:      http.MethodGet,
		Path:        "/api/streams/{name}",
		Summary:     "Get Stream",
		Description: "One mounted stream",
		Tags:        []string{"streams"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *struct {
		Name string `path:"name" example:"video_stream1" doc:"Stream name"`
	}) (*models.StreamResponse, error) {
		name := strings.TrimPrefix(input.Name, "/")
		for _, st := range s.streamList() {
			if st.Name == name {
				return &models.StreamResponse{Body: st}, nil
			}
		}
		return nil, huma.Error404NotFound("stream not found: " + name)
	})
}

func (s *Server) streamList() []models.StreamData {
	if s.opts.Media == nil {
		return []models.StreamData{}
	}
	mounts := s.opts.Media.Mounts()
	out := make([]models.StreamData, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, s.streamData(m))
	}
	return out
}

func (s *Server) streamData(m streaming.MountInfo) models.StreamData {
	data := models.StreamData{MountInfo: m}
	if s.opts.RTSPPort > 0 {
		data.URL = "rtsp://" + net.JoinHostPort(s.opts.RTSPHost, strconv.Itoa(s.opts.RTSPPort)) + m.Path
	}
	if s.opts.Registry != nil {
		if ep, ok := s.opts.Registry.Lookup(m.Path); ok {
			data.Pulls = ep.Stats()
		}
	}
	return data
}
