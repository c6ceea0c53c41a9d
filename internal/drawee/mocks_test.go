package drawee

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/drawee/drawee-go/internal/datastore"
	"github.com/drawee/drawee-go/internal/ensemble"
	"github.com/drawee/drawee-go/internal/imageprep"
)

type mockClassifier struct{ mock.Mock }

func (m *mockClassifier) Classify(ctx context.Context, t *imageprep.Tensor) (*ensemble.Prediction, error) {
	args := m.Called(ctx, t)
	p, _ := args.Get(0).(*ensemble.Prediction)
	return p, args.Error(1)
}

type mockResults struct{ mock.Mock }

func (m *mockResults) Save(ctx context.Context, r datastore.NewResult) (*datastore.Result, error) {
	args := m.Called(ctx, r)
	res, _ := args.Get(0).(*datastore.Result)
	return res, args.Error(1)
}

func (m *mockResults) Get(ctx context.Context, id string) (*datastore.Result, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*datastore.Result)
	return res, args.Error(1)
}

func (m *mockResults) ListByChild(ctx context.Context, childID string) ([]datastore.Result, error) {
	args := m.Called(ctx, childID)
	res, _ := args.Get(0).([]datastore.Result)
	return res, args.Error(1)
}

func (m *mockResults) DeleteByID(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockResults) DeleteAllForChild(ctx context.Context, childID string) (int64, error) {
	args := m.Called(ctx, childID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockResults) CountByChild(ctx context.Context, childID string) (int64, error) {
	args := m.Called(ctx, childID)
	return args.Get(0).(int64), args.Error(1)
}

type mockChildren struct{ mock.Mock }

func (m *mockChildren) GetOrCreate(ctx context.Context, ownerID, name string) (*datastore.Child, error) {
	args := m.Called(ctx, ownerID, name)
	c, _ := args.Get(0).(*datastore.Child)
	return c, args.Error(1)
}

func (m *mockChildren) Get(ctx context.Context, ownerID, id string) (*datastore.Child, error) {
	args := m.Called(ctx, ownerID, id)
	c, _ := args.Get(0).(*datastore.Child)
	return c, args.Error(1)
}

func (m *mockChildren) List(ctx context.Context, ownerID string) ([]datastore.ChildSummary, error) {
	args := m.Called(ctx, ownerID)
	l, _ := args.Get(0).([]datastore.ChildSummary)
	return l, args.Error(1)
}

func (m *mockChildren) Delete(ctx context.Context, ownerID, id string) (int64, error) {
	args := m.Called(ctx, ownerID, id)
	return args.Get(0).(int64), args.Error(1)
}

type mockStore struct{ mock.Mock }

func (m *mockStore) Name() string { return "mock" }

func (m *mockStore) Put(ctx context.Context, p string, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, p, data, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockStore) Delete(ctx context.Context, p string) error {
	return m.Called(ctx, p).Error(0)
}

func (m *mockStore) Validate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type mockEvents struct{ mock.Mock }

func (m *mockEvents) PublishClassification(ctx context.Context, r *datastore.Result, imageURL string) error {
	return m.Called(ctx, r, imageURL).Error(0)
}
