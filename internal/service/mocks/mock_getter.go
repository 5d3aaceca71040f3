package mocks

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"filenet-proxy/internal/model"
)

// MockGetter is a testify mock for service.Getter.
type MockGetter struct {
	mock.Mock
}

func (m *MockGetter) Get(ctx context.Context, rawURL string, header http.Header) (*model.DocumentResponse, error) {
	args := m.Called(ctx, rawURL, header)
	var resp *model.DocumentResponse
	if v := args.Get(0); v != nil {
		resp = v.(*model.DocumentResponse)
	}
	return resp, args.Error(1)
}
