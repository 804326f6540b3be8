package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camrelay/internal/api/models"
)

func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "V4L2 capture devices usable as --video",
		Tags:        []string{"devices"},
		Errors:      []int{401, 500},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.DeviceListResponse, error) {
		found, err := s.opts.Devices()
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to enumerate devices", err)
		}

		list := make([]models.DeviceData, 0, len(found))
		for _, d := range found {
			list = append(list, models.DeviceData{
				Index:      d.Index,
				DevicePath: d.DevicePath,
				DeviceName: d.DeviceName,
				Driver:     d.Driver,
				DeviceID:   d.DeviceID,
			})
		}
		return &models.DeviceListResponse{Body: models.DeviceListData{Devices: list, Count: len(list)}}, nil
	})
}
