// Package mocks provides test doubles for the objectstore interfaces.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	objectstore "github.com/sells-group/deal-pipeline/internal/objectstore"
)

// MockStore is a mock type for the Store interface.
type MockStore struct {
	mock.Mock
}

// GetOrCreateFolder provides a mock function with given fields: ctx, parentID, name
func (_m *MockStore) GetOrCreateFolder(ctx context.Context, parentID string, name string) (objectstore.Folder, error) {
	ret := _m.Called(ctx, parentID, name)

	if len(ret) == 0 {
		panic("no return value specified for GetOrCreateFolder")
	}

	var r0 objectstore.Folder
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string) (objectstore.Folder, error)); ok {
		return rf(ctx, parentID, name)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, string) objectstore.Folder); ok {
		r0 = rf(ctx, parentID, name)
	} else {
		r0 = ret.Get(0).(objectstore.Folder)
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, string) error); ok {
		r1 = rf(ctx, parentID, name)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// UploadPDF provides a mock function with given fields: ctx, localPath, filename, folderID
func (_m *MockStore) UploadPDF(ctx context.Context, localPath string, filename string, folderID string) (string, error) {
	ret := _m.Called(ctx, localPath, filename, folderID)

	if len(ret) == 0 {
		panic("no return value specified for UploadPDF")
	}

	var r0 string
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string, string, string) (string, error)); ok {
		return rf(ctx, localPath, filename, folderID)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string, string, string) string); ok {
		r0 = rf(ctx, localPath, filename, folderID)
	} else {
		r0 = ret.Get(0).(string)
	}

	if rf, ok := ret.Get(1).(func(context.Context, string, string, string) error); ok {
		r1 = rf(ctx, localPath, filename, folderID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockStore creates a new instance of MockStore. It also registers a
// testing interface on the mock and a cleanup function to assert the mocks
// expectations.
func NewMockStore(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockStore {
	m := &MockStore{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
