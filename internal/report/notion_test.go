package report

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockNotion struct {
	mock.Mock
}

func (m *mockNotion) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *mockNotion) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func TestNotionSink_CreatesWeekPage(t *testing.T) {
	mc := new(mockNotion)
	mc.On("QueryDatabase", mock.Anything, "reports", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{}, nil)
	mc.On("CreatePage", mock.Anything, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		total, ok := req.Properties[notionTotal].(notionapi.NumberProperty)
		return req.Parent.DatabaseID == "reports" &&
			ok && total.Number == 9 &&
			req.Properties[notionWeek] != nil &&
			len(req.Children) == 2
	})).Return(&notionapi.Page{ID: "page-1"}, nil)

	s := NewNotionSink(mc, "reports")
	err := s.SendMessage(context.Background(), Message{Key: "2025-W02", Title: "Deal pipeline 2025-W02", Text: "line one\nline two", Total: 9})
	require.NoError(t, err)
	mc.AssertExpectations(t)
}

func TestNotionSink_AttachesUploadedFile(t *testing.T) {
	mc := new(mockNotion)
	mc.On("QueryDatabase", mock.Anything, "reports", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{Results: []notionapi.Page{{ID: "page-1"}}}, nil)
	mc.On("UpdatePage", mock.Anything, "page-1", mock.MatchedBy(func(req *notionapi.PageUpdateRequest) bool {
		u, ok := req.Properties[notionAttachment].(notionapi.URLProperty)
		return ok && u.URL == "https://drive.test/f/1"
	})).Return(&notionapi.Page{ID: "page-1"}, nil)

	s := NewNotionSink(mc, "reports")
	require.NoError(t, s.UploadFile(context.Background(), File{Key: "2025-W02", Name: "a.xlsx", URL: "https://drive.test/f/1"}))
	mc.AssertExpectations(t)
}

func TestNotionSink_SkipsLocalOnlyFile(t *testing.T) {
	mc := new(mockNotion)
	s := NewNotionSink(mc, "reports")
	require.NoError(t, s.UploadFile(context.Background(), File{Key: "2025-W02", Name: "a.xlsx"}))
	mc.AssertNotCalled(t, "QueryDatabase", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, mc.Calls)
}
