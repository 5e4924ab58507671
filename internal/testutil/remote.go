package testutil

import (
	"context"
	"net/http"

	"linksync/internal/linksync"
)

// MockRemoteClient is a scripted remote client. Each *Errs list is consumed
// one entry per call; a nil entry or an exhausted list means success.
type MockRemoteClient struct {
	AuthErr        error
	InitErrs       []error
	IngestErrs     []error
	CategoriesErrs []error
	FinishErrs     []error
	FetchErrs      []error
	AckErr         error

	// Updates is returned by FetchUpdates.
	Updates []linksync.RemoteUpdate

	AuthCalls    int
	InitRequests []linksync.InitRequest
	Ingested     [][]linksync.NormalizedContent
	IngestForce  []bool
	Categories   [][]linksync.CategoryPayload
	FinishCalls  int
	FetchCalls   int
	Acked        [][]int64
}

// NewMockRemoteClient creates a client on which every call succeeds.
func NewMockRemoteClient() *MockRemoteClient {
	return &MockRemoteClient{}
}

// Unauthorized returns the error the client reports for a 401 response.
func Unauthorized() error {
	return &linksync.AuthError{StatusCode: http.StatusUnauthorized, Message: "token expired"}
}

func next(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (m *MockRemoteClient) Authenticate(context.Context) error {
	m.AuthCalls++
	return m.AuthErr
}

func (m *MockRemoteClient) Init(_ context.Context, req linksync.InitRequest) (*linksync.MessageResponse, error) {
	m.InitRequests = append(m.InitRequests, req)
	if err := next(&m.InitErrs); err != nil {
		return nil, err
	}
	return &linksync.MessageResponse{StatusCode: http.StatusOK, Message: "Sync initialized"}, nil
}

// Ingest records the posts only when the call succeeds.
func (m *MockRemoteClient) Ingest(_ context.Context, posts []linksync.NormalizedContent, force bool) (*linksync.MessageResponse, error) {
	if err := next(&m.IngestErrs); err != nil {
		return nil, err
	}
	m.Ingested = append(m.Ingested, posts)
	m.IngestForce = append(m.IngestForce, force)
	return &linksync.MessageResponse{StatusCode: http.StatusOK, Message: "Posts received"}, nil
}

func (m *MockRemoteClient) SendCategories(_ context.Context, categories []linksync.CategoryPayload) (*linksync.MessageResponse, error) {
	if err := next(&m.CategoriesErrs); err != nil {
		return nil, err
	}
	m.Categories = append(m.Categories, categories)
	return &linksync.MessageResponse{StatusCode: http.StatusOK, Message: "Categories received"}, nil
}

func (m *MockRemoteClient) Finish(context.Context) (*linksync.FinishResponse, error) {
	m.FinishCalls++
	if err := next(&m.FinishErrs); err != nil {
		return &linksync.FinishResponse{}, err
	}
	return &linksync.FinishResponse{StatusCode: http.StatusOK, Message: "Sync finished"}, nil
}

func (m *MockRemoteClient) FetchUpdates(context.Context) ([]linksync.RemoteUpdate, error) {
	m.FetchCalls++
	if err := next(&m.FetchErrs); err != nil {
		return nil, err
	}
	return m.Updates, nil
}

func (m *MockRemoteClient) AcknowledgeUpdates(_ context.Context, itemIDs []int64) error {
	if m.AckErr != nil {
		return m.AckErr
	}
	m.Acked = append(m.Acked, itemIDs)
	return nil
}

// IngestedIDs returns the item ids of every successful ingest call, in order.
func (m *MockRemoteClient) IngestedIDs() [][]int64 {
	out := make([][]int64, len(m.Ingested))
	for i, posts := range m.Ingested {
		for _, p := range posts {
			out[i] = append(out[i], p.ItemID)
		}
	}
	return out
}

// Compile-time check
var _ linksync.RemoteClient = (*MockRemoteClient)(nil)
